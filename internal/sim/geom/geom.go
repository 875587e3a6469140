package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	Up      = r3.Vec{Y: 1}
	Forward = r3.Vec{Z: 1}
	Zero    = r3.Vec{}
)

// Transform is a position plus a yaw in degrees about Up.
// Yaw 0 faces +Z; positive yaw turns toward +X.
type Transform struct {
	Position r3.Vec
	Yaw      float64
}

func (t Transform) Rotation() r3.Rotation {
	return r3.NewRotation(Radians(t.Yaw), Up)
}

func (t Transform) Forward() r3.Vec { return t.Rotation().Rotate(Forward) }

func (t Transform) Up() r3.Vec { return Up }

// InverseTransformDirection maps a world-space direction into the local frame.
func (t Transform) InverseTransformDirection(v r3.Vec) r3.Vec {
	return r3.NewRotation(-Radians(t.Yaw), Up).Rotate(v)
}

// QuaternionY is the y (j) component of the rotation quaternion, sin(yaw/2).
func (t Transform) QuaternionY() float64 {
	return quat.Number(t.Rotation()).Jmag
}

func Radians(deg float64) float64 { return deg * math.Pi / 180 }

func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

// WrapDegrees folds an angle into (-180, 180].
func WrapDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	} else if deg <= -180 {
		deg += 360
	}
	return deg
}

func Distance(a, b r3.Vec) float64 { return r3.Norm(r3.Sub(a, b)) }

// Angle is the unsigned angle in degrees between two vectors, 0 when either is null.
func Angle(from, to r3.Vec) float64 {
	denom := math.Sqrt(r3.Norm2(from) * r3.Norm2(to))
	if denom < 1e-15 {
		return 0
	}
	c := r3.Dot(from, to) / denom
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return Degrees(math.Acos(c))
}

// SignedAngle is Angle(from, to) signed by the side of axis that from x to points to.
func SignedAngle(from, to, axis r3.Vec) float64 {
	a := Angle(from, to)
	if r3.Dot(axis, r3.Cross(from, to)) < 0 {
		return -a
	}
	return a
}

// Bearing is the signed angle from the direction toward goal to the forward
// vector of t. Negative means the goal lies to the right of forward.
func Bearing(t Transform, goal r3.Vec) float64 {
	return SignedAngle(r3.Sub(goal, t.Position), t.Forward(), Up)
}

// Nearest returns the index of the eligible point closest to origin and
// strictly nearer than limit. Ties keep the earliest index. limit <= 0
// disables the bound.
func Nearest(origin r3.Vec, n int, at func(i int) r3.Vec, eligible func(i int) bool, limit float64) (int, bool) {
	if limit <= 0 {
		limit = math.Inf(1)
	}
	best := -1
	bestDist := limit
	for i := 0; i < n; i++ {
		d := Distance(at(i), origin)
		if d < bestDist && (eligible == nil || eligible(i)) {
			bestDist = d
			best = i
		}
	}
	return best, best >= 0
}
