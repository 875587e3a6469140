package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cogs.ai/internal/persistence/indexdb"
	"cogs.ai/internal/sim/arena"
	"cogs.ai/internal/sim/tuning"
	"cogs.ai/internal/transport/ws"
)

func newTestArena(t *testing.T, recorders ...arena.Recorder) *arena.Arena {
	t.Helper()
	a, err := arena.New(tuning.Defaults(), arena.Options{Recorders: recorders})
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	return a
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	a := newTestArena(t)
	for i := 0; i < 3; i++ {
		a.StepOnce()
	}
	seats := []*ws.Seat{ws.NewSeat(1, "agent-1", time.Second, nil), ws.NewSeat(2, "agent-2", time.Second, nil)}
	ts := httptest.NewServer(newRouter(routerDeps{Arena: a, Seats: seats}))
	defer ts.Close()

	if code, body := get(t, ts.URL+"/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	code, body := get(t, ts.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics status=%d", code)
	}
	for _, want := range []string{
		"cogs_arena_tick 3\n",
		"cogs_arena_episodes_total 0\n",
		`cogs_arena_score{team="1"} 0`,
		`cogs_seat_connected{team="2"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "cogs_index_") {
		t.Fatalf("index metrics without an index")
	}
	if code, _ := get(t, ts.URL+"/v1/episodes"); code != http.StatusNotFound {
		t.Fatalf("episodes without index: %d", code)
	}
}

func TestRouter_AdminState(t *testing.T) {
	a := newTestArena(t)
	seats := []*ws.Seat{ws.NewSeat(1, "agent-1", time.Second, nil)}
	ts := httptest.NewServer(newRouter(routerDeps{Arena: a, Seats: seats}))
	defer ts.Close()

	code, body := get(t, ts.URL+"/admin/v1/state")
	if code != http.StatusOK {
		t.Fatalf("state status=%d body=%s", code, body)
	}
	var resp struct {
		Metrics arena.Metrics `json:"metrics"`
		Seats   []struct {
			Team    int    `json:"team"`
			AgentID string `json:"agent_id"`
		} `json:"seats"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Metrics.EpisodeID == "" || len(resp.Seats) != 1 || resp.Seats[0].AgentID != "agent-1" {
		t.Fatalf("state=%+v", resp)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	newRouter(routerDeps{Arena: a}).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote admin status=%d", rec.Code)
	}
}

func TestRouter_EpisodesFromIndex(t *testing.T) {
	idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer func() { _ = idx.Close() }()

	cfg := tuning.Defaults()
	cfg.EpisodeSeconds = 0.2
	a, err := arena.New(cfg, arena.Options{Recorders: []arena.Recorder{idx}})
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	for i := uint64(0); i < cfg.EpisodeTicks()*2; i++ {
		a.StepOnce()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	ts := httptest.NewServer(newRouter(routerDeps{Arena: a, Index: idx}))
	defer ts.Close()
	code, body := get(t, ts.URL+"/v1/episodes?limit=5")
	if code != http.StatusOK {
		t.Fatalf("episodes status=%d body=%s", code, body)
	}
	var resp struct {
		Episodes []indexdb.EpisodeRow `json:"episodes"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Episode indexes count from zero; newest first.
	if len(resp.Episodes) != 2 || resp.Episodes[0].Index != 1 || resp.Episodes[1].Index != 0 {
		t.Fatalf("episodes=%+v", resp.Episodes)
	}
	if _, body := get(t, ts.URL+"/metrics"); !strings.Contains(body, "cogs_index_write_errors_total 0") {
		t.Fatalf("metrics missing index stats:\n%s", body)
	}
}

func TestFallbackFor(t *testing.T) {
	tune := tuning.Defaults()
	if src, err := fallbackFor("remote", 1, tune, 1); err != nil || src != nil {
		t.Fatalf("remote: %v %v", src, err)
	}
	for _, mode := range []string{"scripted", "Random"} {
		if src, err := fallbackFor(mode, 2, tune, 1); err != nil || src == nil {
			t.Fatalf("%s: %v %v", mode, src, err)
		}
	}
	if _, err := fallbackFor("telepathic", 1, tune, 1); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
