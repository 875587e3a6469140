package agent

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"cogs.ai/internal/sim/geom"
)

type Observation []float32

// Frame is the snapshot one agent decides on.
type Frame struct {
	Team       int
	Self       geom.Transform
	Velocity   r3.Vec
	TimeLeft   float64
	FrozenTime float64
	Frozen     bool
	Origin     r3.Vec
	Base       r3.Vec
	Enemy      r3.Vec
	Targets    []Target
}

const (
	baseObsSize  = 13
	enemyObsSize = 3
	// TargetObsSize is position(3) + carried + in-base.
	TargetObsSize = 5
)

// ObservationSize is the encoded length for a target count.
func ObservationSize(targets int, withEnemy bool) int {
	n := baseObsSize + TargetObsSize*targets
	if withEnemy {
		n += enemyObsSize
	}
	return n
}

// Encode builds the observation vector. The enemy block is left out when the
// enemy sits exactly on the agent.
func Encode(f Frame) Observation {
	self := r3.Sub(f.Self.Position, f.Origin)
	enemy := r3.Sub(f.Enemy, f.Origin)
	withEnemy := enemy != self

	obs := make(Observation, 0, ObservationSize(len(f.Targets), withEnemy))
	add := func(v ...float64) {
		for _, x := range v {
			obs = append(obs, float32(x))
		}
	}
	addVec := func(v r3.Vec) { add(v.X, v.Y, v.Z) }

	lv := f.Self.InverseTransformDirection(f.Velocity)
	add(lv.X, lv.Z)
	add(f.TimeLeft, f.FrozenTime)
	add(f.Self.QuaternionY())
	addVec(self)
	addVec(r3.Sub(f.Base, f.Origin))
	if withEnemy {
		addVec(enemy)
	}
	add(geom.Distance(self, enemy))
	for _, t := range f.Targets {
		addVec(r3.Sub(t.Position, f.Origin))
		add(float64(t.Carried), float64(t.InBase))
	}
	add(boolf(f.Frozen))
	return obs
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// View is a decoded observation vector.
type View struct {
	LocalVelocityX float64
	LocalVelocityZ float64
	TimeLeft       float64
	FrozenTime     float64
	QuatY          float64
	Self           r3.Vec
	Base           r3.Vec
	HasEnemy       bool
	Enemy          r3.Vec
	EnemyDistance  float64
	Targets        []Target
	Frozen         bool
}

// Yaw recovers the heading in degrees from the quaternion y component.
func (v View) Yaw() float64 {
	return geom.Degrees(2 * math.Asin(math.Max(-1, math.Min(1, v.QuatY))))
}

func (v View) Transform() geom.Transform {
	return geom.Transform{Position: v.Self, Yaw: v.Yaw()}
}

// Carrying counts the targets held by team.
func (v View) Carrying(team int) int {
	n := 0
	for _, t := range v.Targets {
		if t.Carried == team {
			n++
		}
	}
	return n
}

// DecodeObservation parses an observation vector. The enemy block is detected from the
// length, since 13+5n and 16+5m never coincide.
func DecodeObservation(obs Observation) (View, error) {
	var v View
	n := len(obs)
	switch {
	case n >= baseObsSize && (n-baseObsSize)%TargetObsSize == 0:
	case n >= baseObsSize+enemyObsSize && (n-baseObsSize-enemyObsSize)%TargetObsSize == 0:
		v.HasEnemy = true
	default:
		return v, errors.Errorf("bad observation length %d", n)
	}
	i := 0
	next := func() float64 {
		x := float64(obs[i])
		i++
		return x
	}
	vec := func() r3.Vec { return r3.Vec{X: next(), Y: next(), Z: next()} }

	v.LocalVelocityX, v.LocalVelocityZ = next(), next()
	v.TimeLeft, v.FrozenTime = next(), next()
	v.QuatY = next()
	v.Self = vec()
	v.Base = vec()
	if v.HasEnemy {
		v.Enemy = vec()
	} else {
		v.Enemy = v.Self
	}
	v.EnemyDistance = next()
	for i < n-1 {
		t := Target{Position: vec()}
		t.Carried = int(next())
		t.InBase = int(next())
		v.Targets = append(v.Targets, t)
	}
	v.Frozen = next() != 0
	return v, nil
}
