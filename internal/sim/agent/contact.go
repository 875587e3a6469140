package agent

import "cogs.ai/internal/sim/rewards"

// OnTriggerEnter rewards entering the agent's own home base. Resetting the
// carrying count is left to the environment, which runs after this.
func (c *Controller) OnTriggerEnter(o Contact) {
	if o.Category != CategoryHomeBase || o.Team != c.body.Team() {
		return
	}
	if n := c.body.Carrying(); n == 0 {
		c.ledger.Post(rewards.InBaseForNothing)
	} else {
		c.ledger.PostScaled(rewards.DroppedOneTarget, float64(n))
	}
}

func (c *Controller) OnCollisionEnter(o Contact) {
	switch o.Category {
	case CategoryTarget:
		t := o.Target
		if t.InBase != c.body.Team() && t.Carried == 0 && !c.body.IsFrozen() {
			c.ledger.Post(rewards.CapturedTarget)
		}
	case CategoryWall:
		c.ledger.Post(rewards.HitWall)
	}
}
