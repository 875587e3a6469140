package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cogs.ai/internal/protocol"
)

type Server struct {
	seats   []*Seat
	params  protocol.ArenaParams
	episode func() string
	log     *log.Logger

	upgrader websocket.Upgrader
}

// NewServer serves trainers for seats. episode reports the current episode id
// for WELCOME.
func NewServer(seats []*Seat, params protocol.ArenaParams, episode func() string, logger *log.Logger) *Server {
	return &Server{
		seats:   seats,
		params:  params,
		episode: episode,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		seat, sess := s.handshake(conn)
		if sess == nil {
			return
		}
		defer seat.detach(sess)
		s.logf("seat %d taken by %q", seat.team, sess.name)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-sess.done:
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						sess.close()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				s.reject(sess, protocol.ErrProtoBadRequest, "bad ACT json", 0)
				continue
			}
			if act.ProtocolVersion != protocol.Version {
				s.reject(sess, protocol.ErrProtoVersion, "bad protocol_version", act.Tick)
				continue
			}
			if code, m := act.Validate(s.params.ActionBranches); code != "" {
				s.reject(sess, code, m, act.Tick)
				continue
			}
			select {
			case sess.acts <- act:
			default:
				s.reject(sess, protocol.ErrStale, "too many pending ACTs", act.Tick)
			}
		}
		s.logf("seat %d released by %q", seat.team, sess.name)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (*Seat, *session) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil, nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, ack(protocol.TypeHello, protocol.ErrProtoVersion, "bad protocol_version", 0))
		return nil, nil
	}
	if hello.AgentName == "" {
		hello.AgentName = "trainer"
	}

	seat, sess, code := s.claim(hello)
	if sess == nil {
		_ = writeJSON(conn, ack(protocol.TypeHello, code, "no seat for team", 0))
		return nil, nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         seat.agentID,
		Team:            seat.team,
		ArenaParams:     s.params,
	}
	if s.episode != nil {
		welcome.EpisodeID = s.episode()
	}
	if err := writeJSON(conn, welcome); err != nil {
		seat.detach(sess)
		return nil, nil
	}
	return seat, sess
}

// claim attaches to the requested seat, or the first free one for team 0.
func (s *Server) claim(hello protocol.HelloMsg) (*Seat, *session, string) {
	code := protocol.ErrSeatNotFound
	for _, seat := range s.seats {
		if hello.Team != 0 && seat.team != hello.Team {
			continue
		}
		sess, err := seat.attach(hello.AgentName, 16)
		if err == nil {
			return seat, sess, ""
		}
		code = protocol.ErrSeatTaken
	}
	return nil, nil, code
}

func (s *Server) reject(sess *session, code, msg string, tick uint64) {
	b, err := json.Marshal(ack(protocol.TypeAct, code, msg, tick))
	if err != nil {
		return
	}
	sendLatest(sess.out, b)
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func ack(forType, code, msg string, tick uint64) protocol.AckMsg {
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          forType,
		Accepted:        code == "",
		Code:            code,
		Message:         msg,
		ServerTick:      tick,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
