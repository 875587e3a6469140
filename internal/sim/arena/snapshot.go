package arena

import (
	"gonum.org/v1/gonum/spatial/r3"

	"cogs.ai/internal/sim/agent"
)

// AgentState is the public state of one body at the end of a tick.
type AgentState struct {
	AgentID   string  `json:"agent_id"`
	Team      int     `json:"team"`
	Position  r3.Vec  `json:"position"`
	Yaw       float64 `json:"yaw"`
	Carrying  int     `json:"carrying"`
	FrozenFor float64 `json:"frozen_for"`
	Laser     bool    `json:"laser"`
}

// Snapshot is what spectators see. A published snapshot is never mutated.
type Snapshot struct {
	Tick        uint64         `json:"tick"`
	EpisodeID   string         `json:"episode_id"`
	EpisodeTick uint64         `json:"episode_tick"`
	Score       map[int]int    `json:"score"`
	Agents      []AgentState   `json:"agents"`
	Targets     []agent.Target `json:"targets"`
}

// Snapshot returns the state as of the last finished tick. Safe to call from
// any goroutine.
func (a *Arena) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.snapshot
	s.Score = copyScore(a.snapshot.Score)
	return s
}

func (a *Arena) buildSnapshot() Snapshot {
	s := Snapshot{
		Tick:        a.tick,
		EpisodeID:   a.episodeID,
		EpisodeTick: a.episodeTick,
		Score:       copyScore(a.score),
		Agents:      make([]AgentState, 0, len(a.agents)),
		Targets:     a.Targets(),
	}
	for _, ag := range a.agents {
		s.Agents = append(s.Agents, AgentState{
			AgentID:   ag.id,
			Team:      ag.team,
			Position:  ag.tr.Position,
			Yaw:       ag.tr.Yaw,
			Carrying:  ag.carrying,
			FrozenFor: ag.frozenFor,
			Laser:     ag.laser,
		})
	}
	return s
}
