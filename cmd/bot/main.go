package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"cogs.ai/internal/policy"
	"cogs.ai/internal/protocol"
	"cogs.ai/internal/sim/agent"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name       = flag.String("name", "bot", "agent name")
		team       = flag.Int("team", 0, "seat to take (0 = any free seat)")
		laserRange = flag.Float64("laser_range", 20, "fire when the enemy is closer than this")
		keys       = flag.String("keys", "", "hold these keys instead of playing scripted, e.g. \"a,space\"")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	b := &bot{name: *name, team: *team, laserRange: *laserRange, log: logger}
	if *keys != "" {
		held := agent.ParseKeys(*keys)
		b.policy = agent.HeuristicSource{Poll: func() agent.Keys { return held }}
	}
	if err := b.play(ctx, conn); err != nil && ctx.Err() == nil {
		logger.Fatalf("%v", err)
	}
}

// bot plays one seat with the scripted policy unless a policy was set up front.
type bot struct {
	name       string
	team       int
	laserRange float64
	log        *log.Logger

	policy   agent.DecisionSource
	episodes int
}

func (b *bot) play(ctx context.Context, conn *websocket.Conn) error {
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       b.name,
		Team:            b.team,
	}
	if err := conn.WriteJSON(hello); err != nil {
		return errors.Wrap(err, "send HELLO")
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			b.team = w.Team
			if b.policy == nil {
				b.policy = policy.NewScripted(w.Team, b.laserRange)
			}
			b.logf("WELCOME agent_id=%s team=%d obs_size=%d episode=%s", w.AgentID, w.Team, w.ArenaParams.ObsSize, w.EpisodeID)

		case protocol.TypeObs:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(msg, &obs); err != nil {
				continue
			}
			if obs.Done || b.policy == nil {
				continue
			}
			act, err := b.respond(ctx, obs)
			if err != nil {
				b.logf("tick %d: %v", obs.Tick, err)
			}
			if err := conn.WriteJSON(act); err != nil {
				return errors.Wrap(err, "send ACT")
			}

		case protocol.TypeEpisode:
			var ep protocol.EpisodeMsg
			if err := json.Unmarshal(msg, &ep); err != nil {
				continue
			}
			b.episodes++
			b.logf("episode %s done: score=%v reward=%.3f", ep.EpisodeID, ep.Score, ep.Reward)

		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				continue
			}
			if !a.Accepted {
				if a.AckFor == protocol.TypeHello {
					return errors.Errorf("HELLO rejected: %s %s", a.Code, a.Message)
				}
				b.logf("%s rejected: %s %s", a.AckFor, a.Code, a.Message)
			}
		}
	}
}

// respond answers one OBS. Policy errors still produce an ACT carrying the
// no-op so the seat does not wait for its timeout.
func (b *bot) respond(ctx context.Context, obs protocol.ObsMsg) (protocol.ActMsg, error) {
	a, err := b.policy.Decide(ctx, agent.Step{
		Tick:      obs.Tick,
		EpisodeID: obs.EpisodeID,
		AgentID:   obs.AgentID,
		Obs:       obs.Obs,
		Reward:    obs.Reward,
	})
	if err != nil {
		a = agent.ActionVector{}
	}
	return protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            obs.Tick,
		AgentID:         obs.AgentID,
		Actions:         a[:],
	}, err
}

func (b *bot) logf(format string, args ...any) {
	if b.log != nil {
		b.log.Printf(format, args...)
	}
}
