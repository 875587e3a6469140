package tuning

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"cogs.ai/internal/sim/rewards"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz        int     `yaml:"tick_rate_hz"`
	DecisionPeriod    int     `yaml:"decision_period"`
	EpisodeSeconds    float64 `yaml:"episode_seconds"`
	DecisionTimeoutMs int     `yaml:"decision_timeout_ms"`

	Arena      Arena           `yaml:"arena"`
	Agent      Agent           `yaml:"agent"`
	Navigation Navigation      `yaml:"navigation"`
	Rewards    []rewards.Entry `yaml:"rewards"`
}

type Arena struct {
	Origin       Point   `yaml:"origin"`
	HalfSize     float64 `yaml:"half_size"`
	AgentRadius  float64 `yaml:"agent_radius"`
	TargetRadius float64 `yaml:"target_radius"`
	BaseRadius   float64 `yaml:"base_radius"`
	Targets      int     `yaml:"targets"`
	Seed         int64   `yaml:"seed"`

	Bases     []Base  `yaml:"bases"`
	Spawns    []Spawn `yaml:"spawns"`
	Obstacles []Box   `yaml:"obstacles,omitempty"`
}

// Point is an XZ position relative to the arena origin.
type Point struct {
	X float64 `yaml:"x"`
	Z float64 `yaml:"z"`
}

type Base struct {
	Team int     `yaml:"team"`
	X    float64 `yaml:"x"`
	Z    float64 `yaml:"z"`
}

type Spawn struct {
	Team int     `yaml:"team"`
	X    float64 `yaml:"x"`
	Z    float64 `yaml:"z"`
	Yaw  float64 `yaml:"yaw"`
}

// Box is an axis-aligned obstacle footprint on the XZ plane.
type Box struct {
	MinX float64 `yaml:"min_x"`
	MinZ float64 `yaml:"min_z"`
	MaxX float64 `yaml:"max_x"`
	MaxZ float64 `yaml:"max_z"`
}

type Agent struct {
	MoveSpeed     float64 `yaml:"move_speed"`
	TurnSpeed     float64 `yaml:"turn_speed"`
	LaserRange    float64 `yaml:"laser_range"`
	FreezeSeconds float64 `yaml:"freeze_seconds"`
}

type Navigation struct {
	DeadBandDeg  float64 `yaml:"dead_band_deg"`
	SearchRadius float64 `yaml:"search_radius"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:   "1.0",
		TickRateHz:        50,
		DecisionPeriod:    5,
		EpisodeSeconds:    120,
		DecisionTimeoutMs: 200,
		Arena: Arena{
			HalfSize:     50,
			AgentRadius:  1,
			TargetRadius: 0.5,
			BaseRadius:   5,
			Targets:      8,
			Seed:         1337,
			Bases: []Base{
				{Team: 1, X: -40, Z: -40},
				{Team: 2, X: 40, Z: 40},
			},
			Spawns: []Spawn{
				{Team: 1, X: -35, Z: -35, Yaw: 45},
				{Team: 2, X: 35, Z: 35, Yaw: -135},
			},
			Obstacles: []Box{
				{MinX: -5, MinZ: -5, MaxX: 5, MaxZ: 5},
			},
		},
		Agent: Agent{
			MoveSpeed:     10,
			TurnSpeed:     180,
			LaserRange:    20,
			FreezeSeconds: 3,
		},
		Navigation: Navigation{
			DeadBandDeg:  5,
			SearchRadius: 200,
		},
		Rewards: rewards.DefaultEntries(),
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, errors.Wrap(err, "read tuning")
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, errors.Wrap(err, "tuning.yaml")
	}
	if err := t.Validate(); err != nil {
		return t, errors.Wrap(err, "tuning.yaml")
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0:
		return errors.New("tick_rate_hz must be > 0")
	case t.DecisionPeriod <= 0:
		return errors.New("decision_period must be > 0")
	case t.EpisodeSeconds <= 0:
		return errors.New("episode_seconds must be > 0")
	case t.DecisionTimeoutMs < 0:
		return errors.New("decision_timeout_ms must be >= 0")
	case t.Arena.HalfSize <= 0:
		return errors.New("arena.half_size must be > 0")
	case t.Arena.AgentRadius <= 0 || t.Arena.TargetRadius <= 0 || t.Arena.BaseRadius <= 0:
		return errors.New("arena radii must be > 0")
	case t.Arena.Targets < 0:
		return errors.New("arena.targets must be >= 0")
	case t.Agent.MoveSpeed < 0 || t.Agent.TurnSpeed < 0:
		return errors.New("agent speeds must be >= 0")
	case t.Navigation.DeadBandDeg < 0 || t.Navigation.DeadBandDeg >= 180:
		return errors.New("navigation.dead_band_deg must be in [0, 180)")
	}
	for _, team := range []int{1, 2} {
		if _, ok := t.Arena.Base(team); !ok {
			return errors.Errorf("arena.bases: no base for team %d", team)
		}
		if _, ok := t.Arena.Spawn(team); !ok {
			return errors.Errorf("arena.spawns: no spawn for team %d", team)
		}
	}
	for i, b := range t.Arena.Obstacles {
		if b.MinX >= b.MaxX || b.MinZ >= b.MaxZ {
			return errors.Errorf("arena.obstacles[%d]: empty box", i)
		}
	}
	if _, err := t.RewardTable(); err != nil {
		return err
	}
	return nil
}

// RewardTable builds the reward table and checks that every reward the
// agent posts is present.
func (t Tuning) RewardTable() (*rewards.Table, error) {
	tab, err := rewards.NewTable(t.Rewards)
	if err != nil {
		return nil, errors.Wrap(err, "rewards")
	}
	if err := tab.Require(
		rewards.Frozen, rewards.DroppedOneTarget, rewards.HitWall, rewards.CapturedTarget,
		rewards.InBaseForNothing, rewards.EnemyFrozen, rewards.TimePressure,
	); err != nil {
		return nil, errors.Wrap(err, "rewards")
	}
	return tab, nil
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(t.TickRateHz)
}

// Dt is the simulated seconds per tick.
func (t Tuning) Dt() float64 { return 1 / float64(t.TickRateHz) }

func (t Tuning) EpisodeTicks() uint64 {
	n := uint64(t.EpisodeSeconds*float64(t.TickRateHz) + 0.5)
	if n == 0 {
		n = 1
	}
	return n
}

func (t Tuning) DecisionTimeout() time.Duration {
	return time.Duration(t.DecisionTimeoutMs) * time.Millisecond
}

func (a Arena) Base(team int) (Base, bool) {
	for _, b := range a.Bases {
		if b.Team == team {
			return b, true
		}
	}
	return Base{}, false
}

func (a Arena) Spawn(team int) (Spawn, bool) {
	for _, s := range a.Spawns {
		if s.Team == team {
			return s, true
		}
	}
	return Spawn{}, false
}
