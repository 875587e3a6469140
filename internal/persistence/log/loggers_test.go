package log

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/arena"
	"cogs.ai/internal/sim/rewards"
)

func TestStepLogger_RoundTripAndRotation(t *testing.T) {
	dir := t.TempDir()
	l := NewStepLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	l.RecordDecision(agent.Decision{Tick: 5, EpisodeID: "ep", AgentID: "agent-1", Team: 1, Obs: agent.Observation{1, 2}, Action: agent.ActionVector{1, 0, 1, 0, 0}, Reward: -0.5})
	clock = clock.Add(2 * time.Minute)
	l.RecordDecision(agent.Decision{Tick: 10, EpisodeID: "ep", AgentID: "agent-1", Team: 1, Err: errors.New("timeout")})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if l.Errors() != 0 {
		t.Fatalf("write errors=%d", l.Errors())
	}

	files, err := Files(dir, "steps")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "steps-2026-03-01-10.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}

	var got []StepEntry
	for _, f := range files {
		if err := ReadSteps(f, func(e StepEntry) error { got = append(got, e); return nil }); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(got) != 2 {
		t.Fatalf("entries=%d", len(got))
	}
	if got[0].Tick != 5 || got[0].Reward != -0.5 || len(got[0].Obs) != 2 || got[0].Action[0] != 1 || got[0].Action[2] != 1 {
		t.Fatalf("first=%+v", got[0])
	}
	if got[1].Error != "timeout" {
		t.Fatalf("second=%+v", got[1])
	}
}

func TestEpisodeLogger_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	report := arena.EpisodeReport{
		EpisodeID: "ep-1",
		Index:     1,
		EndTick:   6000,
		Score:     map[int]int{1: 2, 2: 0},
		Agents: []agent.Summary{
			{AgentID: "agent-1", Team: 1, Total: 1.5, Tally: map[string]rewards.Tally{rewards.CapturedTarget: {Count: 3, Total: 1.5}}},
		},
	}

	for i := 0; i < 2; i++ {
		l := NewEpisodeLogger(dir)
		l.w.now = func() time.Time { return clock }
		report.Index = uint64(i + 1)
		l.RecordEpisode(report)
		l.RecordDecision(agent.Decision{})
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	files, err := Files(dir, "episodes")
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var got []arena.EpisodeReport
	if err := ReadEpisodes(files[0], func(r arena.EpisodeReport) error { got = append(got, r); return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0].Index != 1 || got[1].Index != 2 {
		t.Fatalf("episodes=%+v", got)
	}
	if got[0].Score[1] != 2 || got[0].Agents[0].Tally[rewards.CapturedTarget].Count != 3 {
		t.Fatalf("episode=%+v", got[0])
	}
}

func TestReadJSONL_MissingFile(t *testing.T) {
	if err := ReadJSONL(filepath.Join(t.TempDir(), "nope.jsonl.zst"), func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected error")
	}
}
