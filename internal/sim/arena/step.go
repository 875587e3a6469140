package arena

import (
	"context"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/geom"
)

// StepResult is what one tick produced.
type StepResult struct {
	Tick      uint64
	Decisions []agent.Decision
	// Episode is set when this tick ended an episode.
	Episode *EpisodeReport
}

func (a *Arena) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stop:
			return nil
		case <-ticker.C:
			a.Step(ctx)
		}
	}
}

func (a *Arena) Stop() { a.stopOnce.Do(func() { close(a.stop) }) }

// StepOnce advances a single tick with a background context.
func (a *Arena) StepOnce() StepResult { return a.Step(context.Background()) }

// Step advances the arena by one physics tick.
func (a *Arena) Step(ctx context.Context) StepResult {
	start := time.Now()
	res := StepResult{Tick: a.tick}

	for _, c := range a.controllers {
		c.FixedUpdate()
	}
	a.integrate()
	a.resolveWalls()
	a.resolveTargets()
	a.resolveBases()
	a.tickFreeze()
	a.resolveLasers()

	if a.episodeTick%uint64(a.cfg.DecisionPeriod) == 0 {
		for _, c := range a.controllers {
			d := c.DecisionStep(ctx)
			a.record(d)
			res.Decisions = append(res.Decisions, d)
		}
	}

	a.tick++
	a.episodeTick++
	if a.episodeTick >= a.cfg.EpisodeTicks() {
		rep := a.endEpisode(ctx)
		res.Episode = &rep
	}
	a.publishMetrics(time.Since(start))
	return res
}

func (a *Arena) integrate() {
	speed := a.cfg.Agent.MoveSpeed * a.dt
	turn := a.cfg.Agent.TurnSpeed * a.dt
	for _, ag := range a.agents {
		if ag.IsFrozen() {
			ag.vel = geom.Zero
			continue
		}
		prev := ag.tr.Position
		ag.tr.Position = r3.Add(prev, r3.Scale(speed, ag.translate))
		ag.tr.Position.Y = prev.Y
		ag.tr.Yaw = geom.WrapDegrees(ag.tr.Yaw + ag.rotate.Y*turn)
		ag.vel = r3.Scale(1/a.dt, r3.Sub(ag.tr.Position, prev))
	}
	a.carryTargets()
}

func (a *Arena) carryTargets() {
	for _, t := range a.targets {
		if t.carried != 0 {
			t.pos = a.Agent(t.carried).tr.Position
		}
	}
}

// resolveWalls keeps agents inside the arena and out of obstacles, firing a
// Wall collision on each new contact.
func (a *Arena) resolveWalls() {
	r := a.cfg.Arena.AgentRadius
	lo := r3.Sub(a.origin, r3.Vec{X: a.cfg.Arena.HalfSize - r, Z: a.cfg.Arena.HalfSize - r})
	hi := r3.Add(a.origin, r3.Vec{X: a.cfg.Arena.HalfSize - r, Z: a.cfg.Arena.HalfSize - r})
	for _, ag := range a.agents {
		p := ag.tr.Position
		p.X = clamp(p.X, lo.X, hi.X)
		p.Z = clamp(p.Z, lo.Z, hi.Z)
		atBound := p.X <= lo.X+contactSkin || p.X >= hi.X-contactSkin ||
			p.Z <= lo.Z+contactSkin || p.Z >= hi.Z-contactSkin
		if a.enter(contactKey{team: ag.team, cat: agent.CategoryWall, idx: -1}, atBound) {
			ag.collisionEnter(agent.Contact{Category: agent.CategoryWall})
		}

		hitIDs := map[int]bool{}
		for _, o := range a.obstacles.near(p, r+contactSkin) {
			var touching bool
			p, touching, _ = pushOut(p, r, o.box)
			if touching {
				hitIDs[o.id] = true
			}
		}
		for _, o := range a.obstacles.all {
			if a.enter(contactKey{team: ag.team, cat: agent.CategoryWall, idx: o.id}, hitIDs[o.id]) {
				ag.collisionEnter(agent.Contact{Category: agent.CategoryWall})
			}
		}
		ag.tr.Position = p
	}
	a.carryTargets()
}

// resolveTargets fires Target collisions, then lets the agent pick up the
// target when it is free, outside the agent's own base and the agent is not
// frozen.
func (a *Arena) resolveTargets() {
	reach := a.cfg.Arena.AgentRadius + a.cfg.Arena.TargetRadius
	for _, ag := range a.agents {
		for i, t := range a.targets {
			if t.carried == ag.team {
				continue
			}
			hit := geom.Distance(ag.tr.Position, t.pos) <= reach
			if !a.enter(contactKey{team: ag.team, cat: agent.CategoryTarget, idx: i}, hit) {
				continue
			}
			ag.collisionEnter(agent.Contact{
				Category: agent.CategoryTarget,
				Target:   agent.Target{Position: t.pos, Carried: t.carried, InBase: t.inBase},
			})
			if t.carried == 0 && t.inBase != ag.team && !ag.IsFrozen() {
				t.carried = ag.team
				t.inBase = 0
				t.pos = ag.tr.Position
				ag.carrying++
			}
		}
	}
}

// resolveBases fires HomeBase triggers and delivers carried targets when an
// agent enters its own base.
func (a *Arena) resolveBases() {
	for _, ag := range a.agents {
		for _, team := range Teams {
			in := geom.Distance(ag.tr.Position, a.bases[team]) <= a.cfg.Arena.BaseRadius
			if !a.enter(contactKey{team: ag.team, cat: agent.CategoryHomeBase, idx: team}, in) {
				continue
			}
			ag.triggerEnter(agent.Contact{Category: agent.CategoryHomeBase, Team: team})
			if team == ag.team && ag.carrying > 0 {
				a.deliver(ag)
			}
		}
	}
}

func (a *Arena) deliver(ag *Agent) {
	base := a.bases[ag.team]
	n := 0
	for _, t := range a.targets {
		if t.carried != ag.team {
			continue
		}
		t.carried = 0
		t.inBase = ag.team
		t.pos = a.dropPoint(base, a.cfg.Arena.BaseRadius*0.5)
		n++
	}
	ag.carrying = 0
	a.score[ag.team] += n
}

// drop releases every target ag holds around its current position.
func (a *Arena) drop(ag *Agent) {
	for _, t := range a.targets {
		if t.carried != ag.team {
			continue
		}
		t.carried = 0
		t.pos = a.dropPoint(ag.tr.Position, a.cfg.Arena.AgentRadius*2)
	}
	ag.carrying = 0
}

func (a *Arena) dropPoint(center r3.Vec, spread float64) r3.Vec {
	return r3.Add(center, r3.Vec{
		X: (a.rng.Float64()*2 - 1) * spread,
		Z: (a.rng.Float64()*2 - 1) * spread,
	})
}

func (a *Arena) tickFreeze() {
	for _, ag := range a.agents {
		if ag.frozenFor > 0 {
			ag.frozenFor -= a.dt
			if ag.frozenFor < 1e-9 {
				ag.frozenFor = 0
			}
		}
	}
}

// resolveLasers freezes an enemy standing on the firing agent's forward ray
// within laser range. A frozen agent cannot fire and drops what it carries.
func (a *Arena) resolveLasers() {
	maxRange := a.cfg.Agent.LaserRange
	r := a.cfg.Arena.AgentRadius
	var hits []*Agent
	for i, ag := range a.agents {
		if !ag.laser || ag.IsFrozen() {
			continue
		}
		ag.fired++
		enemy := a.agents[1-i]
		if enemy.IsFrozen() {
			continue
		}
		d := r3.Sub(enemy.tr.Position, ag.tr.Position)
		d.Y = 0
		fwd := ag.tr.Forward()
		along := r3.Dot(d, fwd)
		if along <= 0 || along > maxRange+r {
			continue
		}
		perp := r3.Norm(r3.Sub(d, r3.Scale(along, fwd)))
		if perp > r {
			continue
		}
		ag.hits++
		hits = append(hits, enemy)
	}
	for _, enemy := range hits {
		enemy.frozenFor = a.cfg.Agent.FreezeSeconds
		enemy.laser = false
		a.drop(enemy)
	}
}

// enter updates the overlap set and reports a not-touching -> touching
// transition.
func (a *Arena) enter(k contactKey, touching bool) bool {
	_, was := a.touching[k]
	if !touching {
		delete(a.touching, k)
		return false
	}
	a.touching[k] = struct{}{}
	return !was
}
