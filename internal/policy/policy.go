// Package policy holds built-in decision sources that work from the
// observation vector alone, the same input a remote trainer gets.
package policy

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/geom"
)

// Scripted is a greedy reference policy: fetch the nearest target, head home
// once loaded or when time runs short, and fire at an enemy lined up ahead.
type Scripted struct {
	Team int
	// CarryThreshold sends the agent home once it holds this many targets.
	CarryThreshold int
	// ReturnBelow sends a loaded agent home when fewer seconds remain.
	ReturnBelow float64
	LaserRange  float64
	// AimDeg is the half-angle of the firing cone.
	AimDeg float64
}

func NewScripted(team int, laserRange float64) *Scripted {
	return &Scripted{Team: team, CarryThreshold: 2, ReturnBelow: 15, LaserRange: laserRange, AimDeg: 8}
}

func (p *Scripted) Decide(ctx context.Context, s agent.Step) (agent.ActionVector, error) {
	var a agent.ActionVector
	if s.Done {
		return a, nil
	}
	v, err := agent.DecodeObservation(s.Obs)
	if err != nil {
		return a, errors.Wrap(err, "scripted")
	}
	if v.Frozen {
		return a, nil
	}

	if p.shouldFire(v) {
		a[agent.SlotLaser] = 1
	}

	carrying := v.Carrying(p.Team)
	switch {
	case carrying > 0 && (carrying >= p.CarryThreshold || v.TimeLeft < p.ReturnBelow || !p.anyFree(v)):
		a[agent.SlotGoToBase] = 1
	case p.anyFree(v):
		a[agent.SlotGoToTarget] = 1
	default:
		// Nothing to fetch: sweep in place so the laser covers the arena.
		a[agent.SlotRotate] = 1
	}
	return a, nil
}

func (p *Scripted) anyFree(v agent.View) bool {
	for _, t := range v.Targets {
		if t.Carried == 0 && t.InBase != p.Team {
			return true
		}
	}
	return false
}

func (p *Scripted) shouldFire(v agent.View) bool {
	if !v.HasEnemy || v.EnemyDistance > p.LaserRange {
		return false
	}
	return math.Abs(geom.Bearing(v.Transform(), v.Enemy)) <= p.AimDeg
}

// Random samples each slot uniformly over its branch size.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (p *Random) Decide(ctx context.Context, s agent.Step) (agent.ActionVector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var a agent.ActionVector
	for i, n := range agent.BranchSizes {
		a[i] = p.rng.Intn(n)
	}
	return a, nil
}

// Idle always returns the no-op action.
type Idle struct{}

func (Idle) Decide(context.Context, agent.Step) (agent.ActionVector, error) {
	return agent.ActionVector{}, nil
}
