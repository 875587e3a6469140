package ws

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"cogs.ai/internal/protocol"
	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/arena"
)

var (
	ErrDecisionTimeout = errors.New("decision timeout")
	ErrSeatTaken       = errors.New("seat taken")
	ErrDisconnected    = errors.New("trainer disconnected")
)

// Seat is the decision source of one team. While a trainer is connected it
// forwards every OBS and waits for the matching ACT; otherwise it defers to
// the fallback source.
type Seat struct {
	team     int
	agentID  string
	timeout  time.Duration
	fallback agent.DecisionSource

	mu   sync.Mutex
	sess *session
}

type session struct {
	name string
	out  chan []byte
	acts chan protocol.ActMsg
	done chan struct{}
	once sync.Once
}

func (s *session) close() { s.once.Do(func() { close(s.done) }) }

func NewSeat(team int, agentID string, timeout time.Duration, fallback agent.DecisionSource) *Seat {
	return &Seat{team: team, agentID: agentID, timeout: timeout, fallback: fallback}
}

func (s *Seat) Team() int       { return s.team }
func (s *Seat) AgentID() string { return s.agentID }

// Connected reports the name of the attached trainer, if any.
func (s *Seat) Connected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return "", false
	}
	return s.sess.name, true
}

func (s *Seat) attach(name string, queue int) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		return nil, ErrSeatTaken
	}
	s.sess = &session{
		name: name,
		out:  make(chan []byte, queue),
		acts: make(chan protocol.ActMsg, 4),
		done: make(chan struct{}),
	}
	return s.sess, nil
}

func (s *Seat) detach(sess *session) {
	s.mu.Lock()
	if s.sess == sess {
		s.sess = nil
	}
	s.mu.Unlock()
	sess.close()
}

func (s *Seat) current() *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Decide implements agent.DecisionSource.
func (s *Seat) Decide(ctx context.Context, st agent.Step) (agent.ActionVector, error) {
	sess := s.current()
	if sess == nil {
		if s.fallback == nil {
			return agent.ActionVector{}, nil
		}
		return s.fallback.Decide(ctx, st)
	}

	// Drop answers to earlier requests.
	for drained := false; !drained; {
		select {
		case <-sess.acts:
		default:
			drained = true
		}
	}

	b, err := json.Marshal(protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            st.Tick,
		EpisodeID:       st.EpisodeID,
		AgentID:         s.agentID,
		Obs:             st.Obs,
		Reward:          st.Reward,
		Done:            st.Done,
	})
	if err != nil {
		return agent.ActionVector{}, errors.Wrap(err, "marshal obs")
	}
	sendLatest(sess.out, b)
	if st.Done {
		return agent.ActionVector{}, nil
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return agent.ActionVector{}, ctx.Err()
		case <-sess.done:
			return agent.ActionVector{}, ErrDisconnected
		case <-timer.C:
			return agent.ActionVector{}, errors.Wrapf(ErrDecisionTimeout, "team %d tick %d", s.team, st.Tick)
		case act := <-sess.acts:
			if act.Tick != st.Tick {
				continue
			}
			var a agent.ActionVector
			copy(a[:], act.Actions)
			return a, nil
		}
	}
}

// RecordDecision implements arena.Recorder.
func (s *Seat) RecordDecision(agent.Decision) {}

// RecordEpisode tells the connected trainer how the episode ended.
func (s *Seat) RecordEpisode(r arena.EpisodeReport) {
	sess := s.current()
	if sess == nil {
		return
	}
	msg := protocol.EpisodeMsg{
		Type:            protocol.TypeEpisode,
		ProtocolVersion: protocol.Version,
		EpisodeID:       r.EpisodeID,
		Index:           r.Index,
		Score:           map[string]int{},
		AgentID:         s.agentID,
	}
	for team, n := range r.Score {
		msg.Score[strconv.Itoa(team)] = n
	}
	for _, a := range r.Agents {
		if a.AgentID == s.agentID {
			msg.Reward = a.Total
		}
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	sendLatest(sess.out, b)
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
