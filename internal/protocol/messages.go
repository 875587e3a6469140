package protocol

import "fmt"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentName       string `json:"agent_name"`
	// Team is the seat to take; 0 lets the server pick a free one.
	Team int        `json:"team,omitempty"`
	Auth *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AgentID         string      `json:"agent_id"`
	Team            int         `json:"team"`
	EpisodeID       string      `json:"episode_id"`
	ArenaParams     ArenaParams `json:"arena_params"`
}

type ArenaParams struct {
	TickRateHz        int     `json:"tick_rate_hz"`
	DecisionPeriod    int     `json:"decision_period"`
	EpisodeSeconds    float64 `json:"episode_seconds"`
	DecisionTimeoutMs int     `json:"decision_timeout_ms"`
	ObsSize           int     `json:"obs_size"`
	ActionBranches    []int   `json:"action_branches"`
	Targets           int     `json:"targets"`
}

// OBS (server -> client): one decision request.
type ObsMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Tick            uint64    `json:"tick"`
	EpisodeID       string    `json:"episode_id"`
	AgentID         string    `json:"agent_id"`
	Obs             []float32 `json:"obs"`
	Reward          float64   `json:"reward"`
	Done            bool      `json:"done"`
}

// ACT (client -> server): the answer to the OBS with the same tick.
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`
	Actions         []int  `json:"actions"`
}

// Validate checks the action vector against the branch sizes and returns an
// error code with a message on failure.
func (m ActMsg) Validate(branches []int) (code, msg string) {
	if len(m.Actions) != len(branches) {
		return ErrBadRequest, fmt.Sprintf("actions: want %d slots, got %d", len(branches), len(m.Actions))
	}
	for i, v := range m.Actions {
		if v < 0 || v >= branches[i] {
			return ErrBadRequest, fmt.Sprintf("actions[%d]=%d out of range [0,%d)", i, v, branches[i])
		}
	}
	return "", ""
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}

// EPISODE (server -> client): sent after the final OBS of an episode.
type EpisodeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	EpisodeID       string         `json:"episode_id"`
	Index           uint64         `json:"index"`
	Score           map[string]int `json:"score"`
	AgentID         string         `json:"agent_id"`
	Reward          float64        `json:"reward"`
}
