package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"cogs.ai/internal/sim/arena"
	"cogs.ai/internal/transport/observer"
	"cogs.ai/internal/transport/ws"
)

// metricsSource is the part of the arena the HTTP surface reads.
type metricsSource interface {
	Metrics() arena.Metrics
}

type routerDeps struct {
	Arena    metricsSource
	Seats    []*ws.Seat
	Index    runtimeIndex
	WS       http.HandlerFunc
	Observer *observer.Server
	Logger   *log.Logger
	Pprof    bool
}

func newRouter(d routerDeps) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/metrics", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, d.Arena.Metrics(), d.Seats, d.Index)
	}).Methods(http.MethodGet)
	r.HandleFunc("/v1/episodes", func(rw http.ResponseWriter, req *http.Request) {
		if d.Index == nil {
			http.Error(rw, "episode index disabled", http.StatusNotFound)
			return
		}
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		rows, err := d.Index.Episodes(ctx, limit)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"episodes": rows})
	}).Methods(http.MethodGet)

	// Local-only state dump.
	r.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, req *http.Request) {
		if !isLoopbackRemote(req.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		type seatState struct {
			Team    int    `json:"team"`
			AgentID string `json:"agent_id"`
			Trainer string `json:"trainer,omitempty"`
		}
		resp := struct {
			Metrics arena.Metrics `json:"metrics"`
			Seats   []seatState   `json:"seats"`
		}{Metrics: d.Arena.Metrics()}
		for _, s := range d.Seats {
			name, _ := s.Connected()
			resp.Seats = append(resp.Seats, seatState{Team: s.Team(), AgentID: s.AgentID(), Trainer: name})
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}).Methods(http.MethodGet)

	if d.Observer != nil {
		r.HandleFunc("/admin/v1/observer/bootstrap", d.Observer.BootstrapHandler())
		r.HandleFunc("/admin/v1/observer/ws", d.Observer.WSHandler())
	}

	if d.Pprof {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else if d.Logger != nil {
		d.Logger.Printf("pprof endpoints disabled (COGS_ENABLE_PPROF_HTTP=false)")
	}
	if d.WS != nil {
		r.HandleFunc("/v1/ws", d.WS)
	}
	return r
}

// writeMetrics renders the Prometheus text exposition format.
func writeMetrics(rw http.ResponseWriter, m arena.Metrics, seats []*ws.Seat, idx runtimeIndex) {
	fmt.Fprintf(rw, "# HELP cogs_arena_tick Current arena tick.\n")
	fmt.Fprintf(rw, "# TYPE cogs_arena_tick gauge\n")
	fmt.Fprintf(rw, "cogs_arena_tick %d\n", m.Tick)

	fmt.Fprintf(rw, "# HELP cogs_arena_episode_tick Ticks into the current episode.\n")
	fmt.Fprintf(rw, "# TYPE cogs_arena_episode_tick gauge\n")
	fmt.Fprintf(rw, "cogs_arena_episode_tick{episode=%q} %d\n", m.EpisodeID, m.EpisodeTick)

	fmt.Fprintf(rw, "# HELP cogs_arena_episodes_total Finished episodes.\n")
	fmt.Fprintf(rw, "# TYPE cogs_arena_episodes_total counter\n")
	fmt.Fprintf(rw, "cogs_arena_episodes_total %d\n", m.EpisodesCompleted)

	fmt.Fprintf(rw, "# HELP cogs_arena_score Targets delivered this episode.\n")
	fmt.Fprintf(rw, "# TYPE cogs_arena_score gauge\n")
	for _, t := range arena.Teams {
		fmt.Fprintf(rw, "cogs_arena_score{team=\"%d\"} %d\n", t, m.Score[t])
	}

	fmt.Fprintf(rw, "# HELP cogs_arena_targets Targets by state.\n")
	fmt.Fprintf(rw, "# TYPE cogs_arena_targets gauge\n")
	fmt.Fprintf(rw, "cogs_arena_targets{state=%q} %d\n", "free", m.TargetsFree)
	fmt.Fprintf(rw, "cogs_arena_targets{state=%q} %d\n", "in_base", m.TargetsInBase)

	fmt.Fprintf(rw, "# HELP cogs_arena_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE cogs_arena_step_ms gauge\n")
	fmt.Fprintf(rw, "cogs_arena_step_ms %.3f\n", m.LastStepMs)

	fmt.Fprintf(rw, "# HELP cogs_seat_connected Whether a trainer holds the seat.\n")
	fmt.Fprintf(rw, "# TYPE cogs_seat_connected gauge\n")
	for _, s := range seats {
		v := 0
		if _, ok := s.Connected(); ok {
			v = 1
		}
		fmt.Fprintf(rw, "cogs_seat_connected{team=\"%d\"} %d\n", s.Team(), v)
	}

	if idx == nil {
		return
	}
	st := idx.Stats()
	fmt.Fprintf(rw, "# HELP cogs_index_queue_depth Episode index queue depth.\n")
	fmt.Fprintf(rw, "# TYPE cogs_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "cogs_index_queue_depth %d\n", st.QueueDepth)
	fmt.Fprintf(rw, "# HELP cogs_index_dropped_total Records dropped because the index fell behind.\n")
	fmt.Fprintf(rw, "# TYPE cogs_index_dropped_total counter\n")
	fmt.Fprintf(rw, "cogs_index_dropped_total{kind=%q} %d\n", "decision", st.DropDecisionTotal)
	fmt.Fprintf(rw, "cogs_index_dropped_total{kind=%q} %d\n", "episode", st.DropEpisodeTotal)
	fmt.Fprintf(rw, "# HELP cogs_index_write_errors_total Failed index writes.\n")
	fmt.Fprintf(rw, "# TYPE cogs_index_write_errors_total counter\n")
	fmt.Fprintf(rw, "cogs_index_write_errors_total %d\n", st.WriteErrorTotal)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
