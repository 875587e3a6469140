package indexdb

import (
	"testing"

	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/arena"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEpisode}

	s.RecordDecision(agent.Decision{Tick: 2, Reward: -0.9})
	s.RecordDecision(agent.Decision{Tick: 3}) // nothing to index
	s.RecordEpisode(arena.EpisodeReport{EpisodeID: "ep"})

	st := s.Stats()
	if st.DropDecisionTotal != 1 {
		t.Fatalf("DropDecisionTotal=%d want=1", st.DropDecisionTotal)
	}
	if st.DropEpisodeTotal != 1 {
		t.Fatalf("DropEpisodeTotal=%d want=1", st.DropEpisodeTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilIsSafe(t *testing.T) {
	var s *SQLiteIndex
	s.RecordDecision(agent.Decision{Reward: 1})
	s.RecordEpisode(arena.EpisodeReport{})
	if st := s.Stats(); st != (Stats{}) {
		t.Fatalf("stats=%+v", st)
	}
}
