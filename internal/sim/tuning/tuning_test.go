package tuning

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"cogs.ai/internal/sim/rewards"
)

func TestLoad_RepoConfigMatchesDefaults(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, Defaults()) {
		t.Fatalf("configs/tuning.yaml drifted from Defaults():\n got=%+v\nwant=%+v", got, Defaults())
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	got, err := Load("  ")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TickRateHz != 50 || got.Navigation.SearchRadius != 200 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("tick_rate_hz: 20\narena:\n  targets: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TickRateHz != 20 || got.Arena.Targets != 3 {
		t.Fatalf("override not applied: %+v", got)
	}
	if got.Arena.HalfSize != 50 || len(got.Rewards) != len(rewards.DefaultEntries()) {
		t.Fatalf("defaults lost: %+v", got)
	}
	if got.TickInterval() != 50*time.Millisecond {
		t.Fatalf("tick interval=%v", got.TickInterval())
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Tuning)
		want string
	}{
		{"tick rate", func(t *Tuning) { t.TickRateHz = 0 }, "tick_rate_hz"},
		{"decision period", func(t *Tuning) { t.DecisionPeriod = 0 }, "decision_period"},
		{"missing base", func(t *Tuning) { t.Arena.Bases = t.Arena.Bases[:1] }, "no base for team 2"},
		{"missing spawn", func(t *Tuning) { t.Arena.Spawns = t.Arena.Spawns[1:] }, "no spawn for team 1"},
		{"empty obstacle", func(t *Tuning) { t.Arena.Obstacles = []Box{{MinX: 1, MaxX: 1, MaxZ: 2}} }, "empty box"},
		{"missing reward", func(t *Tuning) { t.Rewards = t.Rewards[:3] }, "missing rewards"},
		{"duplicate reward", func(t *Tuning) { t.Rewards = append(t.Rewards, rewards.Entry{Name: "frozen"}) }, "duplicate"},
	}
	for _, c := range cases {
		tu := Defaults()
		tu.Rewards = append([]rewards.Entry(nil), tu.Rewards...)
		c.mut(&tu)
		err := tu.Validate()
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%s: err=%v want %q", c.name, err, c.want)
		}
	}
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestDerivedDurations(t *testing.T) {
	tu := Defaults()
	if got := tu.EpisodeTicks(); got != 6000 {
		t.Fatalf("episode ticks=%d", got)
	}
	if got := tu.DecisionTimeout(); got != 200*time.Millisecond {
		t.Fatalf("timeout=%v", got)
	}
	if got := tu.Dt(); got != 0.02 {
		t.Fatalf("dt=%v", got)
	}
}
