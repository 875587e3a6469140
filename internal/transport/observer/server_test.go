package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gonum.org/v1/gonum/spatial/r3"

	"cogs.ai/internal/observerproto"
	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/arena"
	"cogs.ai/internal/sim/tuning"
)

type fakeSource struct {
	mu   sync.Mutex
	snap arena.Snapshot
}

func (f *fakeSource) Snapshot() arena.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) set(s arena.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

func TestBootstrap(t *testing.T) {
	src := &fakeSource{snap: arena.Snapshot{Tick: 12, EpisodeID: "ep"}}
	srv := NewServer(src, tuning.Defaults(), nil)
	ts := httptest.NewServer(srv.BootstrapHandler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Tick != 12 || b.EpisodeID != "ep" || b.ArenaParams.HalfSize != 50 || len(b.ArenaParams.Bases) != 2 || len(b.ArenaParams.Obstacles) != 1 {
		t.Fatalf("bootstrap=%+v", b)
	}
	if b.ArenaParams.Bases[0].Pos != [3]float64{-40, 0, -40} {
		t.Fatalf("base=%+v", b.ArenaParams.Bases[0])
	}
}

func TestStreamFrames(t *testing.T) {
	src := &fakeSource{snap: arena.Snapshot{
		Tick:      3,
		EpisodeID: "ep",
		Score:     map[int]int{1: 1},
		Agents:    []arena.AgentState{{AgentID: "agent-1", Team: 1, Position: r3.Vec{X: 1, Z: 2}, Yaw: 90, Carrying: 1}},
		Targets:   []agent.Target{{Position: r3.Vec{X: 5}, Carried: 1}},
	}}
	srv := NewServer(src, tuning.Defaults(), nil)
	ts := httptest.NewServer(srv.WSHandler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version, RateHz: 50}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	read := func() observerproto.FrameMsg {
		t.Helper()
		var f observerproto.FrameMsg
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		return f
	}

	f := read()
	if f.Type != observerproto.TypeFrame || f.Tick != 3 || f.Score["1"] != 1 {
		t.Fatalf("frame=%+v", f)
	}
	if len(f.Agents) != 1 || f.Agents[0].Pos != [3]float64{1, 0, 2} || f.Agents[0].Carrying != 1 {
		t.Fatalf("agents=%+v", f.Agents)
	}
	if len(f.Targets) != 1 || f.Targets[0].Carried != 1 {
		t.Fatalf("targets=%+v", f.Targets)
	}

	// Frames are only pushed once the arena advances.
	next := src.Snapshot()
	next.Tick = 4
	src.set(next)
	if f := read(); f.Tick != 4 {
		t.Fatalf("second frame tick=%d", f.Tick)
	}
}

func TestNormalizeSubscribe(t *testing.T) {
	srv := NewServer(&fakeSource{}, tuning.Defaults(), nil)
	sub := observerproto.SubscribeMsg{}
	srv.normalizeSubscribe(&sub)
	if sub.RateHz != 10 {
		t.Fatalf("default rate=%d", sub.RateHz)
	}
	sub.RateHz = 1000
	srv.normalizeSubscribe(&sub)
	if sub.RateHz != 50 {
		t.Fatalf("capped rate=%d", sub.RateHz)
	}
}
