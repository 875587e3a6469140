package arena

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/rewards"
	"cogs.ai/internal/sim/tuning"
)

func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.TickRateHz = 10
	t.DecisionPeriod = 1
	t.EpisodeSeconds = 1
	t.Arena.Obstacles = nil
	t.Arena.Targets = 0
	t.Agent.MoveSpeed = 10
	t.Agent.TurnSpeed = 90
	return t
}

func constant(a agent.ActionVector) agent.DecisionSource {
	return agent.DecisionFunc(func(context.Context, agent.Step) (agent.ActionVector, error) { return a, nil })
}

type recorder struct {
	decisions []agent.Decision
	episodes  []EpisodeReport
}

func (r *recorder) RecordDecision(d agent.Decision) { r.decisions = append(r.decisions, d) }
func (r *recorder) RecordEpisode(e EpisodeReport)   { r.episodes = append(r.episodes, e) }

func newTestArena(t *testing.T, cfg tuning.Tuning, opts Options) *Arena {
	t.Helper()
	a, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	return a
}

func place(ag *Agent, x, z, yaw float64) {
	ag.tr.Position = r3.Vec{X: x, Z: z}
	ag.tr.Yaw = yaw
}

func tally(a *Arena, team int, name string) rewards.Tally {
	return a.Controller(team).Ledger().Tally()[name]
}

func TestNew_RejectsInvalidTuning(t *testing.T) {
	cfg := testTuning()
	cfg.DecisionPeriod = 0
	if _, err := New(cfg, Options{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestArena_EnvironmentView(t *testing.T) {
	cfg := testTuning()
	cfg.Arena.Origin = tuning.Point{X: 100, Z: -100}
	cfg.Arena.Targets = 4
	a := newTestArena(t, cfg, Options{})

	if got := a.BasePosition(Team1); got != (r3.Vec{X: 60, Z: -140}) {
		t.Fatalf("base 1=%+v", got)
	}
	if got := a.Agent(Team2).Position(); got != (r3.Vec{X: 135, Z: -65}) {
		t.Fatalf("spawn 2=%+v", got)
	}
	if got := a.TimeRemaining(); math.Abs(got-1) > 1e-9 {
		t.Fatalf("time remaining=%v", got)
	}
	if got := len(a.Targets()); got != 4 {
		t.Fatalf("targets=%d", got)
	}
	for _, tg := range a.Targets() {
		if math.Abs(tg.Position.X-100) > 50 || math.Abs(tg.Position.Z+100) > 50 {
			t.Fatalf("target outside arena: %+v", tg.Position)
		}
	}
	if a.ObservationSize() != 16+5*4 {
		t.Fatalf("obs size=%d", a.ObservationSize())
	}
	d := a.StepOnce().Decisions
	if len(d) != 2 || len(d[0].Obs) != a.ObservationSize() {
		t.Fatalf("decisions=%d obs=%d", len(d), len(d[0].Obs))
	}
	if d[0].EpisodeID != a.EpisodeID() || d[0].Tick != 0 {
		t.Fatalf("decision=%+v", d[0])
	}
}

func TestArena_PickupAndDelivery(t *testing.T) {
	a := newTestArena(t, testTuning(), Options{})
	a.targets = []*target{{pos: r3.Vec{X: -20, Z: -20}}}
	ag := a.Agent(Team1)
	place(ag, -20, -20, 0)

	a.StepOnce()
	if ag.Carrying() != 1 || a.targets[0].carried != Team1 {
		t.Fatalf("pickup failed: carrying=%d target=%+v", ag.Carrying(), *a.targets[0])
	}
	if got := tally(a, Team1, rewards.CapturedTarget).Count; got != 1 {
		t.Fatalf("captured-target count=%d", got)
	}

	place(ag, -40, -40, 0)
	a.StepOnce()
	if ag.Carrying() != 0 || a.targets[0].inBase != Team1 || a.targets[0].carried != 0 {
		t.Fatalf("delivery failed: carrying=%d target=%+v", ag.Carrying(), *a.targets[0])
	}
	if a.Score(Team1) != 1 {
		t.Fatalf("score=%d", a.Score(Team1))
	}
	dropped := tally(a, Team1, rewards.DroppedOneTarget)
	if dropped.Count != 1 || math.Abs(dropped.Total-1) > 1e-9 {
		t.Fatalf("dropped-one-target=%+v", dropped)
	}
	if got := tally(a, Team1, rewards.InBaseForNothing).Count; got != 0 {
		t.Fatalf("in-base-for-nothing count=%d", got)
	}
}

func TestArena_EmptyHandedBaseEntry(t *testing.T) {
	a := newTestArena(t, testTuning(), Options{})
	place(a.Agent(Team1), -40, -40, 0)
	a.StepOnce()
	a.StepOnce()
	if got := tally(a, Team1, rewards.InBaseForNothing).Count; got != 1 {
		t.Fatalf("in-base-for-nothing count=%d", got)
	}
}

func TestArena_WallContactFiresOnce(t *testing.T) {
	a := newTestArena(t, testTuning(), Options{Sources: map[int]agent.DecisionSource{
		Team1: constant(agent.ActionVector{1, 0, 0, 0, 0}),
	}})
	ag := a.Agent(Team1)
	place(ag, 47, 0, 90)
	for i := 0; i < 5; i++ {
		a.StepOnce()
	}
	if got := ag.Position().X; math.Abs(got-49) > 1e-9 {
		t.Fatalf("agent escaped the arena: x=%v", got)
	}
	if got := tally(a, Team1, rewards.HitWall).Count; got != 1 {
		t.Fatalf("hit-wall count=%d", got)
	}
}

func TestArena_ObstacleBlocksAndFiresOnce(t *testing.T) {
	cfg := testTuning()
	cfg.Arena.Obstacles = []tuning.Box{{MinX: -5, MinZ: -5, MaxX: 5, MaxZ: 5}}
	a := newTestArena(t, cfg, Options{Sources: map[int]agent.DecisionSource{
		Team1: constant(agent.ActionVector{1, 0, 0, 0, 0}),
	}})
	ag := a.Agent(Team1)
	place(ag, -8, 0, 90)
	for i := 0; i < 6; i++ {
		a.StepOnce()
		if x := ag.Position().X; x > -6+1e-9 {
			t.Fatalf("step %d: agent inside obstacle at x=%v", i, x)
		}
	}
	if got := tally(a, Team1, rewards.HitWall).Count; got != 1 {
		t.Fatalf("hit-wall count=%d", got)
	}
}

func TestArena_LaserFreezesEnemyAndDropsTargets(t *testing.T) {
	a := newTestArena(t, testTuning(), Options{Sources: map[int]agent.DecisionSource{
		Team1: constant(agent.ActionVector{0, 0, 1, 0, 0}),
	}})
	shooter, victim := a.Agent(Team1), a.Agent(Team2)
	place(shooter, -10, 0, 90)
	place(victim, 0, 0, 0)
	a.targets = []*target{{pos: r3.Vec{}, carried: Team2}}
	victim.carrying = 1

	a.StepOnce()
	if victim.IsFrozen() {
		t.Fatalf("laser fired before the first decision")
	}
	a.StepOnce()
	if !victim.IsFrozen() || victim.FrozenTime() != 3 {
		t.Fatalf("victim frozen=%v for %v", victim.IsFrozen(), victim.FrozenTime())
	}
	if victim.Carrying() != 0 || a.targets[0].carried != 0 {
		t.Fatalf("victim kept its target: carrying=%d target=%+v", victim.Carrying(), *a.targets[0])
	}
	if shooter.hits != 1 {
		t.Fatalf("hits=%d", shooter.hits)
	}
	if got := tally(a, Team1, rewards.EnemyFrozen).Count; got != 1 {
		t.Fatalf("enemy-frozen count=%d", got)
	}
	if got := tally(a, Team2, rewards.Frozen).Count; got != 1 {
		t.Fatalf("frozen count=%d", got)
	}

	a.StepOnce()
	if got := victim.FrozenTime(); math.Abs(got-2.9) > 1e-9 {
		t.Fatalf("freeze timer=%v", got)
	}
}

func TestArena_RotateRightIncreasesYaw(t *testing.T) {
	a := newTestArena(t, testTuning(), Options{Sources: map[int]agent.DecisionSource{
		Team1: constant(agent.ActionVector{0, 1, 0, 0, 0}),
	}})
	a.StepOnce()
	a.StepOnce()
	if got := a.Agent(Team1).Transform().Yaw; math.Abs(got-54) > 1e-9 {
		t.Fatalf("yaw=%v", got)
	}
}

func TestArena_EpisodeEndsAndResets(t *testing.T) {
	var done []agent.Step
	src := agent.DecisionFunc(func(_ context.Context, s agent.Step) (agent.ActionVector, error) {
		if s.Done {
			done = append(done, s)
		}
		return agent.ActionVector{}, nil
	})
	rec := &recorder{}
	a := newTestArena(t, testTuning(), Options{
		Sources:   map[int]agent.DecisionSource{Team1: src, Team2: src},
		Recorders: []Recorder{rec},
	})
	first := a.EpisodeID()

	var last StepResult
	for i := 0; i < 10; i++ {
		last = a.StepOnce()
		if i < 9 && last.Episode != nil {
			t.Fatalf("episode ended early at step %d", i)
		}
	}
	if last.Episode == nil || last.Episode.EpisodeID != first {
		t.Fatalf("episode report=%+v", last.Episode)
	}
	if len(rec.decisions) != 20 || len(rec.episodes) != 1 {
		t.Fatalf("recorded decisions=%d episodes=%d", len(rec.decisions), len(rec.episodes))
	}
	if len(done) != 2 || done[0].EpisodeID != first {
		t.Fatalf("done steps=%+v", done)
	}
	for _, s := range last.Episode.Agents {
		if s.Tally[rewards.TimePressure].Count != 10 || math.Abs(s.Total+0.001) > 1e-9 {
			t.Fatalf("summary=%+v", s)
		}
	}
	if f := last.Episode.Final; f == nil || f.EpisodeID != first || f.Tick != 10 || len(f.Agents) != 2 {
		t.Fatalf("final snapshot=%+v", f)
	}
	if a.EpisodeID() == first {
		t.Fatalf("episode id not renewed")
	}
	if snap := a.Snapshot(); snap.EpisodeID != a.EpisodeID() || snap.EpisodeTick != 0 || snap.Tick != 10 {
		t.Fatalf("live snapshot=%+v", snap)
	}
	m := a.Metrics()
	if m.EpisodesCompleted != 1 || m.EpisodeTick != 0 || m.Tick != 10 {
		t.Fatalf("metrics=%+v", m)
	}
	if math.Abs(a.TimeRemaining()-1) > 1e-9 {
		t.Fatalf("timer not reset: %v", a.TimeRemaining())
	}
}

func TestArena_SameSeedSameEpisode(t *testing.T) {
	cfg := tuning.Defaults()
	a1 := newTestArena(t, cfg, Options{})
	a2 := newTestArena(t, cfg, Options{})
	if a1.EpisodeID() != a2.EpisodeID() {
		t.Fatalf("episode ids differ: %s vs %s", a1.EpisodeID(), a2.EpisodeID())
	}
	t1, t2 := a1.Targets(), a2.Targets()
	for i := range t1 {
		if t1[i] != t2[i] {
			t.Fatalf("target %d differs: %+v vs %+v", i, t1[i], t2[i])
		}
		if a1.obstacles.blocked(t1[i].Position, cfg.Arena.TargetRadius) {
			t.Fatalf("target %d scattered into an obstacle", i)
		}
	}
}

func TestPushOut(t *testing.T) {
	box := tuning.Box{MinX: -1, MinZ: -1, MaxX: 1, MaxZ: 1}

	p, touching, pen := pushOut(r3.Vec{X: 1.5}, 1, box)
	if !touching || !pen || math.Abs(p.X-2) > 1e-9 {
		t.Fatalf("side push: p=%+v touching=%v pen=%v", p, touching, pen)
	}
	p, touching, pen = pushOut(r3.Vec{X: -0.9, Z: 0.2}, 1, box)
	if !touching || !pen || math.Abs(p.X+2) > 1e-9 {
		t.Fatalf("inside push: p=%+v", p)
	}
	if _, touching, _ = pushOut(r3.Vec{X: 3}, 1, box); touching {
		t.Fatalf("far circle reported touching")
	}
	if _, touching, pen = pushOut(r3.Vec{X: 2.02}, 1, box); !touching || pen {
		t.Fatalf("resting contact: touching=%v pen=%v", touching, pen)
	}
}
