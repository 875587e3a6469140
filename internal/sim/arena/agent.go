package arena

import (
	"gonum.org/v1/gonum/spatial/r3"

	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/geom"
)

// Agent is the arena-side body of one team's agent. It implements
// agent.Body, agent.Peer and agent.EventSource.
type Agent struct {
	id   string
	team int

	tr        geom.Transform
	vel       r3.Vec
	carrying  int
	frozenFor float64
	laser     bool

	translate r3.Vec
	rotate    r3.Vec

	handlers []agent.ContactHandler

	hits  int
	fired int
}

func (a *Agent) ID() string                { return a.id }
func (a *Agent) Team() int                 { return a.team }
func (a *Agent) Transform() geom.Transform { return a.tr }
func (a *Agent) Position() r3.Vec          { return a.tr.Position }
func (a *Agent) Velocity() r3.Vec          { return a.vel }
func (a *Agent) Carrying() int             { return a.carrying }
func (a *Agent) IsFrozen() bool            { return a.frozenFor > 0 }
func (a *Agent) FrozenTime() float64       { return a.frozenFor }
func (a *Agent) LaserOn() bool             { return a.laser }

// Move records the motion to integrate on the current tick.
func (a *Agent) Move(translate, rotate r3.Vec) {
	a.translate = translate
	a.rotate = rotate
}

func (a *Agent) SetLaser(on bool) { a.laser = on }

func (a *Agent) Subscribe(h agent.ContactHandler) {
	a.handlers = append(a.handlers, h)
}

func (a *Agent) triggerEnter(c agent.Contact) {
	for _, h := range a.handlers {
		h.OnTriggerEnter(c)
	}
}

func (a *Agent) collisionEnter(c agent.Contact) {
	for _, h := range a.handlers {
		h.OnCollisionEnter(c)
	}
}

func (a *Agent) respawn(tr geom.Transform) {
	a.tr = tr
	a.vel = geom.Zero
	a.carrying = 0
	a.frozenFor = 0
	a.laser = false
	a.translate = geom.Zero
	a.rotate = geom.Zero
	a.hits = 0
	a.fired = 0
}
