package transport

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pkg.world.dev/ensemble/input"
)

// Handler receives the inbound events of every session.
type Handler interface {
	// Connect places a new session in a game. It may set s.GameID when the client did not ask for one.
	// Returning an error refuses the connection.
	Connect(s *Session) error
	Input(s *Session, p input.Packet)
	Ack(s *Session, a input.Ack)
	Pause(s *Session)
	Unpause(s *Session)
	Disconnect(s *Session)
	// Error is told about client reported errors and malformed messages.
	Error(s *Session, err error)
}

// Hub owns the connected sessions, grouped by game.
type Hub struct {
	handler Handler
	logger  zerolog.Logger

	mu       sync.RWMutex
	sessions map[string][]*Session
	closed   bool
}

func NewHub(handler Handler, logger zerolog.Logger) *Hub {
	return &Hub{
		handler:  handler,
		logger:   logger,
		sessions: make(map[string][]*Session),
	}
}

// Serve runs a client connection until it disconnects. It blocks.
func (h *Hub) Serve(conn Conn, mode, gameID string) {
	s := NewSession(uuid.NewString(), mode, gameID, conn, h.logger)
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("failed to close connection")
		}
	}()

	if err := h.handler.Connect(s); err != nil {
		s.logger.Warn().Err(err).Str("mode", mode).Str("game_id", gameID).Msg("connection refused")
		if sendErr := s.Send(EventError, ErrorReport{Message: err.Error()}); sendErr != nil {
			s.logger.Debug().Err(sendErr).Msg("failed to report refusal")
		}
		return
	}
	if !h.add(s) {
		h.handler.Disconnect(s)
		return
	}
	defer func() {
		h.remove(s)
		h.handler.Disconnect(s)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug().Err(err).Msg("connection closed")
			return
		}
		if !h.dispatch(s, msg) {
			return
		}
	}
}

// dispatch handles one message and reports whether the session stays open.
func (h *Hub) dispatch(s *Session, msg []byte) bool {
	env, err := decodeEnvelope(msg)
	if err != nil {
		h.handler.Error(s, err)
		return true
	}

	switch env.Event {
	case EventInput:
		p, err := decodeData[input.Packet](env)
		if err != nil {
			h.handler.Error(s, err)
			return true
		}
		h.handler.Input(s, p)
	case EventAck:
		a, err := decodeData[input.Ack](env)
		if err != nil {
			h.handler.Error(s, err)
			return true
		}
		h.handler.Ack(s, a)
	case EventPause:
		h.handler.Pause(s)
	case EventUnpause:
		h.handler.Unpause(s)
	case EventDisconnect:
		return false
	case EventError:
		report, err := decodeData[ErrorReport](env)
		if err != nil {
			h.handler.Error(s, err)
			return true
		}
		h.handler.Error(s, eris.Errorf("client error: %s", report.Message))
	default:
		h.handler.Error(s, eris.Wrapf(ErrUnknownEvent, "%q", env.Event))
	}
	return true
}

func (h *Hub) add(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s.GameID] = append(h.sessions[s.GameID], s)
	return true
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.sessions[s.GameID]
	for i, other := range list {
		if other == s {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(h.sessions, s.GameID)
		return
	}
	h.sessions[s.GameID] = list
}

// Sessions returns the sessions of a game in the order they joined.
func (h *Hub) Sessions(gameID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Session(nil), h.sessions[gameID]...)
}

// Close closes every connection and refuses new ones. The read loops then finish on their own.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*Session, 0)
	for _, list := range h.sessions {
		all = append(all, list...)
	}
	h.mu.Unlock()

	for _, s := range all {
		if err := s.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("failed to close connection")
		}
	}
}
