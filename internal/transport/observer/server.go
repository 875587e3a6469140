package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"gonum.org/v1/gonum/spatial/r3"

	"cogs.ai/internal/observerproto"
	"cogs.ai/internal/sim/arena"
	"cogs.ai/internal/sim/tuning"
)

// Source is the part of the arena spectators read.
type Source interface {
	Snapshot() arena.Snapshot
}

type Server struct {
	src  Source
	tune tuning.Tuning
	log  *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(src Source, tune tuning.Tuning, logger *log.Logger) *Server {
	return &Server{
		src:  src,
		tune: tune,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		snap := s.src.Snapshot()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Tick:            snap.Tick,
			EpisodeID:       snap.EpisodeID,
			ArenaParams:     s.arenaParams(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) arenaParams() observerproto.ArenaParams {
	ar := s.tune.Arena
	p := observerproto.ArenaParams{
		TickRateHz:   s.tune.TickRateHz,
		Origin:       [3]float64{ar.Origin.X, 0, ar.Origin.Z},
		HalfSize:     ar.HalfSize,
		AgentRadius:  ar.AgentRadius,
		TargetRadius: ar.TargetRadius,
		BaseRadius:   ar.BaseRadius,
		LaserRange:   s.tune.Agent.LaserRange,
	}
	for _, b := range ar.Bases {
		p.Bases = append(p.Bases, observerproto.BaseInfo{Team: b.Team, Pos: [3]float64{ar.Origin.X + b.X, 0, ar.Origin.Z + b.Z}})
	}
	for _, o := range ar.Obstacles {
		p.Obstacles = append(p.Obstacles, [4]float64{ar.Origin.X + o.MinX, ar.Origin.Z + o.MinZ, ar.Origin.X + o.MaxX, ar.Origin.Z + o.MaxZ})
	}
	return p
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		s.normalizeSubscribe(&sub)
		if s.log != nil {
			s.log.Printf("observer %s subscribed at %d Hz", r.RemoteAddr, sub.RateHz)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		rates := make(chan int, 1)

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			writeErr <- s.stream(ctx, conn, sub.RateHz, rates)
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var sub observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
				continue
			}
			s.normalizeSubscribe(&sub)
			select {
			case rates <- sub.RateHz:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// stream pushes a FRAME whenever the arena has advanced, at most rateHz
// times per second.
func (s *Server) stream(ctx context.Context, conn *websocket.Conn, rateHz int, rates <-chan int) error {
	ticker := time.NewTicker(time.Second / time.Duration(rateHz))
	defer ticker.Stop()

	var (
		sent     bool
		lastTick uint64
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hz := <-rates:
			ticker.Reset(time.Second / time.Duration(hz))
		case <-ticker.C:
			snap := s.src.Snapshot()
			if sent && snap.Tick == lastTick {
				continue
			}
			b, err := json.Marshal(frameMsg(snap))
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}
			sent, lastTick = true, snap.Tick
		}
	}
}

func frameMsg(snap arena.Snapshot) observerproto.FrameMsg {
	m := observerproto.FrameMsg{
		Type:            observerproto.TypeFrame,
		ProtocolVersion: observerproto.Version,
		Tick:            snap.Tick,
		EpisodeID:       snap.EpisodeID,
		EpisodeTick:     snap.EpisodeTick,
		Score:           map[string]int{},
		Agents:          make([]observerproto.AgentState, 0, len(snap.Agents)),
		Targets:         make([]observerproto.TargetState, 0, len(snap.Targets)),
	}
	for team, n := range snap.Score {
		m.Score[strconv.Itoa(team)] = n
	}
	for _, a := range snap.Agents {
		m.Agents = append(m.Agents, observerproto.AgentState{
			AgentID:   a.AgentID,
			Team:      a.Team,
			Pos:       vec3(a.Position),
			Yaw:       a.Yaw,
			Carrying:  a.Carrying,
			FrozenFor: a.FrozenFor,
			Laser:     a.Laser,
		})
	}
	for _, t := range snap.Targets {
		m.Targets = append(m.Targets, observerproto.TargetState{Pos: vec3(t.Position), Carried: t.Carried, InBase: t.InBase})
	}
	return m
}

func vec3(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func (s *Server) normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.RateHz <= 0 {
		sub.RateHz = 10
	}
	if limit := s.tune.TickRateHz; limit > 0 && sub.RateHz > limit {
		sub.RateHz = limit
	}
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
