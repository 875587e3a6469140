package arena

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"cogs.ai/internal/sim/tuning"
)

// contactSkin keeps a resting contact alive after push-out so that standing
// against a wall does not re-fire the enter event every tick.
const contactSkin = 0.05

type obstacle struct {
	id   int
	box  tuning.Box // world coordinates
	rect rtreego.Rect
}

func (o *obstacle) Bounds() rtreego.Rect { return o.rect }

type obstacleIndex struct {
	tree *rtreego.Rtree
	all  []*obstacle
}

func newObstacleIndex(origin r3.Vec, boxes []tuning.Box) (*obstacleIndex, error) {
	idx := &obstacleIndex{}
	spatials := make([]rtreego.Spatial, 0, len(boxes))
	for i, b := range boxes {
		wb := tuning.Box{
			MinX: b.MinX + origin.X, MinZ: b.MinZ + origin.Z,
			MaxX: b.MaxX + origin.X, MaxZ: b.MaxZ + origin.Z,
		}
		rect, err := rtreego.NewRect(rtreego.Point{wb.MinX, wb.MinZ}, []float64{wb.MaxX - wb.MinX, wb.MaxZ - wb.MinZ})
		if err != nil {
			return nil, errors.Wrapf(err, "obstacle %d", i)
		}
		o := &obstacle{id: i, box: wb, rect: rect}
		idx.all = append(idx.all, o)
		spatials = append(spatials, o)
	}
	idx.tree = rtreego.NewTree(2, 25, 50, spatials...)
	return idx, nil
}

// near returns the obstacles whose bounds intersect the square of half-size
// r around c.
func (idx *obstacleIndex) near(c r3.Vec, r float64) []*obstacle {
	if len(idx.all) == 0 {
		return nil
	}
	bb, err := rtreego.NewRect(rtreego.Point{c.X - r, c.Z - r}, []float64{2 * r, 2 * r})
	if err != nil {
		return nil
	}
	found := idx.tree.SearchIntersect(bb)
	out := make([]*obstacle, 0, len(found))
	for _, s := range found {
		out = append(out, s.(*obstacle))
	}
	return out
}

// blocked reports whether a circle at c overlaps any obstacle.
func (idx *obstacleIndex) blocked(c r3.Vec, r float64) bool {
	for _, o := range idx.near(c, r) {
		if _, touching, pen := pushOut(c, r, o.box); touching && pen {
			return true
		}
	}
	return false
}

// pushOut resolves a circle against a box on the XZ plane. It returns the
// corrected center, whether the circle touches the box (within contactSkin)
// and whether it actually penetrated.
func pushOut(c r3.Vec, r float64, b tuning.Box) (r3.Vec, bool, bool) {
	cx := clamp(c.X, b.MinX, b.MaxX)
	cz := clamp(c.Z, b.MinZ, b.MaxZ)
	dx, dz := c.X-cx, c.Z-cz
	d2 := dx*dx + dz*dz
	if d2 == 0 {
		// Center inside the box: leave along the shallowest side.
		left, right := c.X-b.MinX, b.MaxX-c.X
		down, up := c.Z-b.MinZ, b.MaxZ-c.Z
		switch m := min(left, right, down, up); m {
		case left:
			c.X = b.MinX - r
		case right:
			c.X = b.MaxX + r
		case down:
			c.Z = b.MinZ - r
		default:
			c.Z = b.MaxZ + r
		}
		return c, true, true
	}
	d := math.Sqrt(d2)
	if d > r+contactSkin {
		return c, false, false
	}
	if d < r {
		c.X = cx + dx/d*r
		c.Z = cz + dz/d*r
		return c, true, true
	}
	return c, true, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
