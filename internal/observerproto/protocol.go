package observerproto

// Version is the observer protocol version (separate from the trainer WS protocol).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeFrame     = "FRAME"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the frame rate.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// RateHz caps how many frames per second are pushed.
	RateHz int `json:"rate_hz"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	EpisodeID       string      `json:"episode_id"`
	ArenaParams     ArenaParams `json:"arena_params"`
}

// ArenaParams is the static geometry a viewer needs to draw the arena.
type ArenaParams struct {
	TickRateHz   int          `json:"tick_rate_hz"`
	Origin       [3]float64   `json:"origin"`
	HalfSize     float64      `json:"half_size"`
	AgentRadius  float64      `json:"agent_radius"`
	TargetRadius float64      `json:"target_radius"`
	BaseRadius   float64      `json:"base_radius"`
	LaserRange   float64      `json:"laser_range"`
	Bases        []BaseInfo   `json:"bases"`
	Obstacles    [][4]float64 `json:"obstacles"` // min_x, min_z, max_x, max_z
}

type BaseInfo struct {
	Team int        `json:"team"`
	Pos  [3]float64 `json:"pos"`
}

// Server -> Client. One arena state.
type FrameMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Tick            uint64         `json:"tick"`
	EpisodeID       string         `json:"episode_id"`
	EpisodeTick     uint64         `json:"episode_tick"`
	Score           map[string]int `json:"score"`
	Agents          []AgentState   `json:"agents"`
	Targets         []TargetState  `json:"targets"`
}

type AgentState struct {
	AgentID   string     `json:"agent_id"`
	Team      int        `json:"team"`
	Pos       [3]float64 `json:"pos"`
	Yaw       float64    `json:"yaw"`
	Carrying  int        `json:"carrying"`
	FrozenFor float64    `json:"frozen_for,omitempty"`
	Laser     bool       `json:"laser,omitempty"`
}

type TargetState struct {
	Pos     [3]float64 `json:"pos"`
	Carried int        `json:"carried,omitempty"`
	InBase  int        `json:"in_base,omitempty"`
}
