package agent

import (
	"context"
	"log"

	"cogs.ai/internal/sim/rewards"
)

type Config struct {
	AgentID string
	Body    Body
	Enemy   Peer
	Env     Environment
	Source  DecisionSource
	Rewards *rewards.Table
	Decoder Decoder
	Logger  *log.Logger
}

// Decision is the record of one decision step.
type Decision struct {
	Tick      uint64
	EpisodeID string
	AgentID   string
	Team      int
	Obs       Observation
	Action    ActionVector
	// Reward handed to the decision source with Obs.
	Reward float64
	Err    error
}

// Summary is the per-episode outcome of one controller.
type Summary struct {
	AgentID string                   `json:"agent_id"`
	Team    int                      `json:"team"`
	Total   float64                  `json:"total"`
	Tally   map[string]rewards.Tally `json:"tally,omitempty"`
}

// Controller runs the observe -> decide -> decode loop for one agent and
// re-applies the current intent every physics tick. It is not safe for
// concurrent use; the environment drives it from a single goroutine.
type Controller struct {
	id      string
	body    Body
	enemy   Peer
	env     Environment
	source  DecisionSource
	decoder Decoder
	ledger  *rewards.Ledger
	logger  *log.Logger

	intent  Intent
	action  ActionVector
	pending float64
	total   float64
}

func New(cfg Config) *Controller {
	table := cfg.Rewards
	if table == nil {
		table = rewards.Defaults()
	}
	c := &Controller{
		id:      cfg.AgentID,
		body:    cfg.Body,
		enemy:   cfg.Enemy,
		env:     cfg.Env,
		source:  cfg.Source,
		decoder: cfg.Decoder,
		logger:  cfg.Logger,
	}
	c.ledger = rewards.NewLedger(table, c)
	if es, ok := cfg.Body.(EventSource); ok {
		es.Subscribe(c)
	}
	return c
}

func (c *Controller) ID() string              { return c.id }
func (c *Controller) Team() int               { return c.body.Team() }
func (c *Controller) Intent() Intent          { return c.intent }
func (c *Controller) Action() ActionVector    { return c.action }
func (c *Controller) Total() float64          { return c.total }
func (c *Controller) Ledger() *rewards.Ledger { return c.ledger }

// SetSource swaps the decision source, e.g. when a remote seat connects.
func (c *Controller) SetSource(src DecisionSource) { c.source = src }

// AddReward implements rewards.Sink.
func (c *Controller) AddReward(delta float64) {
	c.pending += delta
	c.total += delta
}

// FixedUpdate applies the laser flag and the current intent. Calling it
// repeatedly without a decision step re-applies the same intent.
func (c *Controller) FixedUpdate() {
	c.body.SetLaser(c.intent.Laser)
	c.body.Move(c.intent.Translate, c.intent.Rotate)
}

// DecisionStep encodes the observation, asks the decision source for an
// action, posts the per-step shaping rewards and decodes the new intent.
// A failing source yields the no-op action.
func (c *Controller) DecisionStep(ctx context.Context) Decision {
	f := c.Frame()
	d := Decision{
		Tick:      c.env.Tick(),
		EpisodeID: c.env.EpisodeID(),
		AgentID:   c.id,
		Team:      f.Team,
		Obs:       Encode(f),
		Reward:    c.takePending(),
	}

	var act ActionVector
	if c.source != nil {
		a, err := c.source.Decide(ctx, Step{
			Tick:      d.Tick,
			EpisodeID: d.EpisodeID,
			AgentID:   c.id,
			Obs:       d.Obs,
			Reward:    d.Reward,
		})
		if err != nil {
			d.Err = err
			if c.logger != nil {
				c.logger.Printf("decide agent=%s tick=%d: %v", c.id, d.Tick, err)
			}
		} else {
			act = a
		}
	}
	d.Action = act

	c.ledger.Post(rewards.TimePressure)
	if c.body.IsFrozen() {
		c.ledger.Post(rewards.Frozen)
	}
	if c.enemy != nil && c.enemy.IsFrozen() {
		c.ledger.Post(rewards.EnemyFrozen)
	}

	c.action = act
	c.intent = c.decoder.Decode(act, f)
	return d
}

// EndEpisode hands the final observation to the source with Done set, then
// clears the intent and the per-episode totals.
func (c *Controller) EndEpisode(ctx context.Context) Summary {
	f := c.Frame()
	if c.source != nil {
		_, err := c.source.Decide(ctx, Step{
			Tick:      c.env.Tick(),
			EpisodeID: c.env.EpisodeID(),
			AgentID:   c.id,
			Obs:       Encode(f),
			Reward:    c.takePending(),
			Done:      true,
		})
		if err != nil && c.logger != nil {
			c.logger.Printf("episode end agent=%s: %v", c.id, err)
		}
	}
	s := Summary{AgentID: c.id, Team: f.Team, Total: c.total, Tally: c.ledger.Tally()}
	c.ledger.ResetTally()
	c.total = 0
	c.pending = 0
	c.intent = Intent{}
	c.action = ActionVector{}
	return s
}

// Frame snapshots the world from this agent's point of view.
func (c *Controller) Frame() Frame {
	team := c.body.Team()
	f := Frame{
		Team:       team,
		Self:       c.body.Transform(),
		Velocity:   c.body.Velocity(),
		TimeLeft:   c.env.TimeRemaining(),
		FrozenTime: c.body.FrozenTime(),
		Frozen:     c.body.IsFrozen(),
		Origin:     c.env.Origin(),
		Base:       c.env.BasePosition(team),
		Targets:    c.env.Targets(),
	}
	if c.enemy != nil {
		f.Enemy = c.enemy.Position()
	} else {
		f.Enemy = f.Self.Position
	}
	return f
}

func (c *Controller) takePending() float64 {
	r := c.pending
	c.pending = 0
	return r
}
