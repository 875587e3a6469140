package agent

import (
	"gonum.org/v1/gonum/spatial/r3"

	"cogs.ai/internal/sim/geom"
)

// Action slots.
const (
	SlotMove = iota
	SlotRotate
	SlotLaser
	SlotGoToTarget
	SlotGoToBase
	NumSlots
)

// BranchSizes are the domain sizes of each slot.
var BranchSizes = [NumSlots]int{3, 3, 2, 2, 2}

// ActionVector is one discrete decision. The zero value is the no-op.
type ActionVector [NumSlots]int

// Intent is the motion applied every tick until the next decision.
type Intent struct {
	Translate r3.Vec
	Rotate    r3.Vec
	Laser     bool
}

const (
	DefaultDeadBand     = 5.0
	DefaultSearchRadius = 200.0
)

type Decoder struct {
	// DeadBand is the half-width in degrees inside which turn-and-go
	// drives forward instead of rotating.
	DeadBand float64
	// SearchRadius bounds the nearest-target search; <= 0 is unbounded.
	SearchRadius float64
}

func DefaultDecoder() Decoder {
	return Decoder{DeadBand: DefaultDeadBand, SearchRadius: DefaultSearchRadius}
}

// Decode resolves an action vector against the current frame. Manual
// directions are set first; go-to-target and then go-to-base override them.
func (d Decoder) Decode(a ActionVector, f Frame) Intent {
	var in Intent
	fwd := f.Self.Forward()

	switch a[SlotMove] {
	case 1:
		in.Translate = fwd
	case 2:
		in.Translate = r3.Scale(-1, fwd)
	}

	switch a[SlotRotate] {
	case 0:
	case 1:
		in.Rotate = geom.Up
	default:
		in.Rotate = r3.Scale(-1, geom.Up)
	}

	in.Laser = a[SlotLaser] == 1

	if a[SlotGoToTarget] == 1 {
		if i, ok := d.NearestTarget(f); ok {
			d.turnAndGo(&in, f.Self, f.Targets[i].Position)
		}
	}
	if a[SlotGoToBase] == 1 {
		d.turnAndGo(&in, f.Self, f.Base)
	}
	return in
}

// NearestTarget returns the index of the closest target that is free and not
// already delivered to the agent's own base.
func (d Decoder) NearestTarget(f Frame) (int, bool) {
	return geom.Nearest(f.Self.Position, len(f.Targets),
		func(i int) r3.Vec { return f.Targets[i].Position },
		func(i int) bool { return f.Targets[i].Carried == 0 && f.Targets[i].InBase != f.Team },
		d.SearchRadius,
	)
}

func (d Decoder) turnAndGo(in *Intent, self geom.Transform, goal r3.Vec) {
	bearing := geom.Bearing(self, goal)
	switch {
	case bearing < -d.DeadBand:
		in.Translate = geom.Zero
		in.Rotate = geom.Up
	case bearing > d.DeadBand:
		in.Translate = geom.Zero
		in.Rotate = r3.Scale(-1, geom.Up)
	default:
		in.Translate = self.Forward()
		in.Rotate = geom.Zero
	}
}
