package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	persistlog "cogs.ai/internal/persistence/log"
	"cogs.ai/internal/persistence/snapshot"
	"cogs.ai/internal/policy"
	"cogs.ai/internal/protocol"
	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/arena"
	"cogs.ai/internal/sim/tuning"
	"cogs.ai/internal/transport/observer"
	"cogs.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite episode index")
		keepSnaps  = flag.Int("snapshots_keep", 20, "episode-end snapshots to keep (0 = all, -1 = off)")
		team1      = flag.String("team1", "remote", "team 1 seat when no trainer is attached: remote|idle|scripted|random")
		team2      = flag.String("team2", "scripted", "team 2 seat when no trainer is attached: remote|idle|scripted|random")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	// Optional read model; the JSONL logs are the source of truth.
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	stepLog := persistlog.NewStepLogger(*dataDir)
	episodeLog := persistlog.NewEpisodeLogger(*dataDir)
	defer stepLog.Close()
	defer episodeLog.Close()

	modes := map[int]string{arena.Team1: *team1, arena.Team2: *team2}
	seats := make([]*ws.Seat, 0, len(arena.Teams))
	sources := map[int]agent.DecisionSource{}
	recorders := []arena.Recorder{stepLog, episodeLog}
	if idx != nil {
		recorders = append(recorders, idx)
	}
	if *keepSnaps >= 0 {
		recorders = append(recorders, snapshot.NewWriter(*dataDir, *keepSnaps, logger))
	}
	for i, team := range arena.Teams {
		fallback, err := fallbackFor(modes[team], team, tune, tune.Arena.Seed+int64(i)+1)
		if err != nil {
			logger.Fatalf("team %d: %v", team, err)
		}
		seat := ws.NewSeat(team, agentID(team), tune.DecisionTimeout(), fallback)
		seats = append(seats, seat)
		sources[team] = seat
		recorders = append(recorders, seat)
	}

	a, err := arena.New(tune, arena.Options{
		Sources:   sources,
		Recorders: recorders,
		Logger:    log.New(os.Stdout, "[arena] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		logger.Fatalf("arena: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	arenaDone := make(chan struct{})
	go func() {
		defer close(arenaDone)
		if err := a.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("arena stopped: %v", err)
		}
	}()

	params := protocol.ArenaParams{
		TickRateHz:        tune.TickRateHz,
		DecisionPeriod:    tune.DecisionPeriod,
		EpisodeSeconds:    tune.EpisodeSeconds,
		DecisionTimeoutMs: tune.DecisionTimeoutMs,
		ObsSize:           a.ObservationSize(),
		ActionBranches:    agent.BranchSizes[:],
		Targets:           tune.Arena.Targets,
	}
	wsLogger := log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds)
	wsSrv := ws.NewServer(seats, params, func() string { return a.Metrics().EpisodeID }, wsLogger)

	router := newRouter(routerDeps{
		Arena:    a,
		Seats:    seats,
		Index:    idx,
		WS:       wsSrv.Handler(),
		Observer: observer.NewServer(a, tune, logger),
		Logger:   logger,
		Pprof:    envBool("COGS_ENABLE_PPROF_HTTP", false),
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (team1=%s team2=%s obs_size=%d)", *addr, *team1, *team2, params.ObsSize)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	// Let the arena finish its tick before the loggers close.
	<-arenaDone
}

func agentID(team int) string { return fmt.Sprintf("agent-%d", team) }

// fallbackFor builds the source a seat uses while no trainer is attached.
// "remote" seats have none and hold still.
func fallbackFor(mode string, team int, tune tuning.Tuning, seed int64) (agent.DecisionSource, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "remote", "":
		return nil, nil
	case "idle":
		return policy.Idle{}, nil
	case "scripted":
		return policy.NewScripted(team, tune.Agent.LaserRange), nil
	case "random":
		return policy.NewRandom(seed), nil
	default:
		return nil, errors.Errorf("unknown seat mode %q", mode)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
