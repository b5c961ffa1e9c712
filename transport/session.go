package transport

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/wI2L/jsondiff"

	"pkg.world.dev/ensemble/codec"
)

// Conn is the part of a websocket connection a Session uses. Both the fiber and the gorilla websocket
// connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is one connected client. Writes are serialized, so the engine may send from the update loop while
// the read loop answers the client.
type Session struct {
	ID     string
	Mode   string
	GameID string

	conn   Conn
	logger zerolog.Logger

	mu   sync.Mutex
	seq  int64
	last []byte
}

func NewSession(id, mode, gameID string, conn Conn, logger zerolog.Logger) *Session {
	return &Session{
		ID:     id,
		Mode:   mode,
		GameID: gameID,
		conn:   conn,
		logger: logger.With().Str("session_id", id).Logger(),
	}
}

// Send writes one event to the client.
func (s *Session) Send(event string, data any) error {
	bz, err := encodeEnvelope(event, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(bz)
}

func (s *Session) write(bz []byte) error {
	if err := s.conn.WriteMessage(websocket.TextMessage, bz); err != nil {
		return eris.Wrap(err, "failed to write to client")
	}
	return nil
}

// SendUpdate sends an updateState event unless gameState is identical to the last state sent to this
// client. It reports whether anything was sent.
func (s *Session) SendUpdate(gameState any, highestProcessed, timestamp int64) (bool, error) {
	bz, err := codec.Encode(gameState)
	if err != nil {
		return false, eris.Wrap(err, "failed to encode game state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil {
		patch, err := jsondiff.CompareJSON(s.last, bz)
		if err != nil {
			return false, eris.Wrap(err, "failed to diff game state")
		}
		if len(patch) == 0 {
			return false, nil
		}
	}

	msg, err := encodeEnvelope(EventUpdateState, UpdateState{
		ID:                      s.seq + 1,
		GameState:               bz,
		HighestProcessedMessage: highestProcessed,
		Timestamp:               timestamp,
	})
	if err != nil {
		return false, err
	}
	if err := s.write(msg); err != nil {
		return false, err
	}
	s.seq++
	s.last = bz
	return true, nil
}

// Prime makes gameState the state the client is known to have, so SendUpdate only sends once it changes.
func (s *Session) Prime(gameState any) error {
	bz, err := codec.Encode(gameState)
	if err != nil {
		return eris.Wrap(err, "failed to encode game state")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = bz
	return nil
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return eris.Wrap(s.conn.Close(), "")
}
