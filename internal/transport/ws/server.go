// Package ws is the command gateway: one websocket endpoint accepting
// COMMAND frames, answering RESULT frames, and pushing NOTIFY frames from
// the fleet's notification sink to every connected client.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelfleet.ai/internal/fleet"
	"voxelfleet.ai/internal/protocol"
)

type Server struct {
	fleet   *fleet.Fleet
	router  *fleet.Router
	schemas *protocol.Schemas
	log     *log.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[chan []byte]struct{}
}

func NewServer(f *fleet.Fleet, r *fleet.Router, schemas *protocol.Schemas, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		fleet:   f,
		router:  r,
		schemas: schemas,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		conns: map[chan []byte]struct{}{},
	}
	f.SetNotifier(s.notifyAll)
	return s
}

// notifyAll fans one NOTIFY frame out to every connection. Slow clients
// drop frames rather than stalling the fleet.
func (s *Server) notifyAll(agentID, message string) {
	b, err := json.Marshal(protocol.NotifyMsg{
		Type:            protocol.TypeNotify,
		ProtocolVersion: protocol.Version,
		AgentID:         agentID,
		Message:         message,
	})
	if err != nil {
		return
	}
	s.mu.Lock()
	for ch := range s.conns {
		select {
		case ch <- b:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Server) register(out chan []byte) {
	s.mu.Lock()
	s.conns[out] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregister(out chan []byte) {
	s.mu.Lock()
	delete(s.conns, out)
	s.mu.Unlock()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		out := make(chan []byte, 32)
		s.register(out)
		defer s.unregister(out)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine; the reader never touches the conn for writes.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCommand {
				continue
			}

			var cmd protocol.CommandMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			if err := s.schemas.ValidateCommand(msg); err != nil {
				s.send(ctx, out, resultFor(cmd.Ref, nil,
					protocol.NewError(protocol.ErrBadRequest, "schema: "+err.Error())))
				continue
			}
			if cmd.ProtocolVersion != protocol.Version {
				s.send(ctx, out, resultFor(cmd.Ref, nil,
					protocol.NewError(protocol.ErrBadRequest, "unsupported protocol_version")))
				continue
			}

			lines, herr := s.router.Handle(cmd.Text, cmd.SenderID, cmd.Trust)
			s.send(ctx, out, resultFor(cmd.Ref, lines, herr))
		}
	}
}

func resultFor(ref string, lines []string, err error) protocol.ResultMsg {
	res := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		Ref:             ref,
		OK:              err == nil,
		Lines:           lines,
	}
	if err != nil {
		res.Code = protocol.CodeOf(err)
		res.Lines = []string{err.Error()}
	}
	return res
}

// send enqueues one RESULT; unlike notifications, results are not dropped
// while the connection is alive.
func (s *Server) send(ctx context.Context, out chan []byte, res protocol.ResultMsg) {
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	select {
	case <-ctx.Done():
	case out <- b:
	}
}
