package arena

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/geom"
	"cogs.ai/internal/sim/rewards"
	"cogs.ai/internal/sim/tuning"
)

// Teams are numbered from 1; 0 means "none" in target state.
const (
	Team1 = 1
	Team2 = 2
)

var Teams = []int{Team1, Team2}

// Recorder receives decisions and finished episodes. Calls happen on the
// arena goroutine and must not block.
type Recorder interface {
	RecordDecision(d agent.Decision)
	RecordEpisode(r EpisodeReport)
}

type EpisodeReport struct {
	EpisodeID string          `json:"episode_id"`
	Index     uint64          `json:"index"`
	StartTick uint64          `json:"start_tick"`
	EndTick   uint64          `json:"end_tick"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Score     map[int]int     `json:"score"`
	Agents    []agent.Summary `json:"agents"`

	// Final is the arena as it stood on the last tick of the episode.
	Final *Snapshot `json:"-"`
}

type Metrics struct {
	Tick              uint64      `json:"tick"`
	EpisodeID         string      `json:"episode_id"`
	EpisodeTick       uint64      `json:"episode_tick"`
	EpisodesCompleted uint64      `json:"episodes_completed"`
	Score             map[int]int `json:"score"`
	TargetsFree       int         `json:"targets_free"`
	TargetsInBase     int         `json:"targets_in_base"`
	LastStepMs        float64     `json:"last_step_ms"`
}

type Options struct {
	// Sources maps a team to its decision source. Missing teams idle.
	Sources   map[int]agent.DecisionSource
	Recorders []Recorder
	Logger    *log.Logger
	// Clock is used for episode timestamps; defaults to time.Now.
	Clock func() time.Time
}

type target struct {
	pos     r3.Vec
	carried int
	inBase  int
}

type contactKey struct {
	team int
	cat  agent.Category
	idx  int
}

type Arena struct {
	cfg    tuning.Tuning
	dt     float64
	origin r3.Vec
	rng    *rand.Rand
	logger *log.Logger
	clock  func() time.Time

	agents      []*Agent
	controllers []*agent.Controller
	targets     []*target
	bases       map[int]r3.Vec
	obstacles   *obstacleIndex
	touching    map[contactKey]struct{}
	recorders   []Recorder

	tick         uint64
	episodeID    string
	episodeIndex uint64
	episodeTick  uint64
	episodeStart uint64
	startedAt    time.Time
	score        map[int]int

	stop     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	metrics  Metrics
	snapshot Snapshot
}

func New(cfg tuning.Tuning, opts Options) (*Arena, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := cfg.RewardTable()
	if err != nil {
		return nil, err
	}
	origin := r3.Vec{X: cfg.Arena.Origin.X, Z: cfg.Arena.Origin.Z}
	obs, err := newObstacleIndex(origin, cfg.Arena.Obstacles)
	if err != nil {
		return nil, errors.Wrap(err, "arena obstacles")
	}
	a := &Arena{
		cfg:       cfg,
		dt:        cfg.Dt(),
		origin:    origin,
		rng:       rand.New(rand.NewSource(cfg.Arena.Seed)),
		logger:    opts.Logger,
		clock:     opts.Clock,
		bases:     map[int]r3.Vec{},
		obstacles: obs,
		touching:  map[contactKey]struct{}{},
		recorders: opts.Recorders,
		score:     map[int]int{},
		stop:      make(chan struct{}),
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	for _, team := range Teams {
		b, _ := cfg.Arena.Base(team)
		a.bases[team] = r3.Add(origin, r3.Vec{X: b.X, Z: b.Z})
		a.agents = append(a.agents, &Agent{id: fmt.Sprintf("agent-%d", team), team: team})
	}
	dec := agent.Decoder{DeadBand: cfg.Navigation.DeadBandDeg, SearchRadius: cfg.Navigation.SearchRadius}
	for i, ag := range a.agents {
		a.controllers = append(a.controllers, agent.New(agent.Config{
			AgentID: ag.id,
			Body:    ag,
			Enemy:   a.agents[1-i],
			Env:     a,
			Source:  opts.Sources[ag.team],
			Rewards: table,
			Decoder: dec,
			Logger:  opts.Logger,
		}))
	}
	a.resetEpisode()
	return a, nil
}

func (a *Arena) Tuning() tuning.Tuning { return a.cfg }

// Agent returns the body for team, or nil.
func (a *Arena) Agent(team int) *Agent {
	if team < 1 || team > len(a.agents) {
		return nil
	}
	return a.agents[team-1]
}

func (a *Arena) Controller(team int) *agent.Controller {
	if team < 1 || team > len(a.controllers) {
		return nil
	}
	return a.controllers[team-1]
}

// ObservationSize is the encoded length for this arena's agents.
func (a *Arena) ObservationSize() int {
	return agent.ObservationSize(a.cfg.Arena.Targets, true)
}

func (a *Arena) Tick() uint64      { return a.tick }
func (a *Arena) EpisodeID() string { return a.episodeID }
func (a *Arena) Origin() r3.Vec    { return a.origin }

func (a *Arena) TimeRemaining() float64 {
	total := a.cfg.EpisodeTicks()
	if a.episodeTick >= total {
		return 0
	}
	return float64(total-a.episodeTick) * a.dt
}

func (a *Arena) BasePosition(team int) r3.Vec { return a.bases[team] }

func (a *Arena) Targets() []agent.Target {
	out := make([]agent.Target, len(a.targets))
	for i, t := range a.targets {
		out[i] = agent.Target{Position: t.pos, Carried: t.carried, InBase: t.inBase}
	}
	return out
}

func (a *Arena) Score(team int) int { return a.score[team] }

func (a *Arena) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.metrics
	m.Score = copyScore(a.metrics.Score)
	return m
}

func (a *Arena) publishMetrics(stepDur time.Duration) {
	m := Metrics{
		Tick:              a.tick,
		EpisodeID:         a.episodeID,
		EpisodeTick:       a.episodeTick,
		EpisodesCompleted: a.episodeIndex,
		Score:             copyScore(a.score),
		LastStepMs:        float64(stepDur.Microseconds()) / 1000,
	}
	for _, t := range a.targets {
		switch {
		case t.inBase != 0:
			m.TargetsInBase++
		case t.carried == 0:
			m.TargetsFree++
		}
	}
	snap := a.buildSnapshot()
	a.mu.Lock()
	a.metrics = m
	a.snapshot = snap
	a.mu.Unlock()
}

// resetEpisode starts a new episode: fresh id, respawned agents and
// rescattered targets.
func (a *Arena) resetEpisode() {
	id, err := uuid.NewRandomFromReader(a.rng)
	if err != nil {
		id = uuid.New()
	}
	a.episodeID = id.String()
	a.episodeTick = 0
	a.episodeStart = a.tick
	a.startedAt = a.clock()
	a.score = map[int]int{}
	for k := range a.touching {
		delete(a.touching, k)
	}
	for _, ag := range a.agents {
		s, _ := a.cfg.Arena.Spawn(ag.team)
		ag.respawn(geom.Transform{
			Position: r3.Add(a.origin, r3.Vec{X: s.X, Z: s.Z}),
			Yaw:      geom.WrapDegrees(s.Yaw),
		})
	}
	a.targets = a.targets[:0]
	for i := 0; i < a.cfg.Arena.Targets; i++ {
		a.targets = append(a.targets, &target{pos: a.scatterPoint()})
	}
	a.publishMetrics(0)
}

// scatterPoint picks a free spot away from obstacles and bases.
func (a *Arena) scatterPoint() r3.Vec {
	ar := a.cfg.Arena
	margin := ar.HalfSize - ar.TargetRadius - ar.AgentRadius
	if margin < 0 {
		margin = 0
	}
	var p r3.Vec
	for try := 0; try < 32; try++ {
		p = r3.Add(a.origin, r3.Vec{
			X: (a.rng.Float64()*2 - 1) * margin,
			Z: (a.rng.Float64()*2 - 1) * margin,
		})
		if a.obstacles.blocked(p, ar.TargetRadius) {
			continue
		}
		inBase := false
		for _, b := range a.bases {
			if geom.Distance(p, b) <= ar.BaseRadius+ar.TargetRadius {
				inBase = true
				break
			}
		}
		if !inBase {
			return p
		}
	}
	return p
}

func (a *Arena) record(d agent.Decision) {
	for _, r := range a.recorders {
		r.RecordDecision(d)
	}
}

func (a *Arena) endEpisode(ctx context.Context) EpisodeReport {
	rep := EpisodeReport{
		EpisodeID: a.episodeID,
		Index:     a.episodeIndex,
		StartTick: a.episodeStart,
		EndTick:   a.tick,
		StartedAt: a.startedAt,
		EndedAt:   a.clock(),
		Score:     copyScore(a.score),
	}
	final := a.buildSnapshot()
	rep.Final = &final
	for _, c := range a.controllers {
		rep.Agents = append(rep.Agents, c.EndEpisode(ctx))
	}
	for _, r := range a.recorders {
		r.RecordEpisode(rep)
	}
	if a.logger != nil {
		a.logger.Printf("episode %s done: score 1=%d 2=%d reward 1=%.3f 2=%.3f",
			rep.EpisodeID, rep.Score[Team1], rep.Score[Team2], rep.Agents[0].Total, rep.Agents[1].Total)
	}
	a.episodeIndex++
	a.resetEpisode()
	return rep
}

func copyScore(s map[int]int) map[int]int {
	out := make(map[int]int, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// compile-time interface checks
var (
	_ agent.Body        = (*Agent)(nil)
	_ agent.Peer        = (*Agent)(nil)
	_ agent.EventSource = (*Agent)(nil)
	_ agent.Environment = (*Arena)(nil)
	_ rewards.Sink      = (*agent.Controller)(nil)
)
