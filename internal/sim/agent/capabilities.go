package agent

import (
	"context"

	"gonum.org/v1/gonum/spatial/r3"

	"cogs.ai/internal/sim/geom"
)

// PhysicsBody is the movement side of an agent as seen by the controller.
type PhysicsBody interface {
	Transform() geom.Transform
	Velocity() r3.Vec
	// Move receives the current intent once per physics tick.
	Move(translate, rotate r3.Vec)
}

type Weapon interface {
	SetLaser(on bool)
}

// Body is the composed per-agent capability: movement, weapon, team and the
// freeze/carrying bookkeeping owned by the environment.
type Body interface {
	PhysicsBody
	Weapon
	Team() int
	Carrying() int
	IsFrozen() bool
	FrozenTime() float64
}

// Peer is the read-only view of the opposing agent.
type Peer interface {
	Position() r3.Vec
	IsFrozen() bool
}

// Target is a snapshot of one collectible. Carried and InBase hold a team id,
// 0 meaning free / not delivered.
type Target struct {
	Position r3.Vec
	Carried  int
	InBase   int
}

// Environment is the per-episode world state the controller reads.
type Environment interface {
	Tick() uint64
	EpisodeID() string
	TimeRemaining() float64
	// Origin is the arena frame origin; observed positions are relative to it.
	Origin() r3.Vec
	BasePosition(team int) r3.Vec
	Targets() []Target
}

// Step is what a decision source sees each decision.
type Step struct {
	Tick      uint64
	EpisodeID string
	AgentID   string
	Obs       Observation
	// Reward accumulated since the previous decision.
	Reward float64
	Done   bool
}

type DecisionSource interface {
	Decide(ctx context.Context, s Step) (ActionVector, error)
}

// DecisionFunc adapts a plain function to DecisionSource.
type DecisionFunc func(ctx context.Context, s Step) (ActionVector, error)

func (f DecisionFunc) Decide(ctx context.Context, s Step) (ActionVector, error) { return f(ctx, s) }

type Category int

const (
	CategoryUnknown Category = iota
	CategoryHomeBase
	CategoryTarget
	CategoryWall
	CategoryAgent
)

func (c Category) String() string {
	switch c {
	case CategoryHomeBase:
		return "HomeBase"
	case CategoryTarget:
		return "Target"
	case CategoryWall:
		return "Wall"
	case CategoryAgent:
		return "Agent"
	default:
		return "Unknown"
	}
}

// Contact describes the other side of a trigger or collision.
type Contact struct {
	Category Category
	// Team owning a HomeBase or Agent.
	Team int
	// Target state at the moment of contact, for CategoryTarget.
	Target Target
}

type ContactHandler interface {
	OnTriggerEnter(c Contact)
	OnCollisionEnter(c Contact)
}

// EventSource delivers one-shot enter events for a body.
type EventSource interface {
	Subscribe(h ContactHandler)
}
