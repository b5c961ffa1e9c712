package transport

import (
	"io"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConn feeds queued messages to ReadMessage and records writes.
type pipeConn struct {
	in chan []byte

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan []byte, 16)}
}

func (c *pipeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.in
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, msg, nil
}

func (c *pipeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *pipeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *pipeConn) events(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.written))
	for _, bz := range c.written {
		env, err := decodeEnvelope(bz)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func TestIdenticalSnapshotsAreSentOnce(t *testing.T) {
	conn := newPipeConn()
	s := NewSession("p1", "arena", "g1", conn, zerolog.Nop())

	first := map[string]any{"game": map[string]any{"score": 1, "names": []any{"a", "b"}}}
	same := map[string]any{"game": map[string]any{"names": []any{"a", "b"}, "score": 1}}
	changed := map[string]any{"game": map[string]any{"score": 2, "names": []any{"a", "b"}}}

	sent, err := s.SendUpdate(first, 3, 100)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = s.SendUpdate(same, 4, 115)
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = s.SendUpdate(changed, 5, 130)
	require.NoError(t, err)
	assert.True(t, sent)

	events := conn.events(t)
	require.Len(t, events, 2)
	for _, env := range events {
		assert.Equal(t, EventUpdateState, env.Event)
	}

	var last UpdateState
	require.NoError(t, json.Unmarshal(events[1].Data, &last))
	assert.Equal(t, int64(2), last.ID)
	assert.Equal(t, int64(5), last.HighestProcessedMessage)
	assert.Equal(t, int64(130), last.Timestamp)
	assert.JSONEq(t, `{"game":{"score":2,"names":["a","b"]}}`, string(last.GameState))
}

func TestPrimedSessionOnlyReceivesChanges(t *testing.T) {
	conn := newPipeConn()
	s := NewSession("p1", "arena", "g1", conn, zerolog.Nop())
	require.NoError(t, s.Prime(map[string]any{"a": 1}))

	sent, err := s.SendUpdate(map[string]any{"a": 1}, 0, 10)
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = s.SendUpdate(map[string]any{"a": 2}, 0, 20)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, conn.events(t), 1)
}

func TestFailedWriteIsNotRemembered(t *testing.T) {
	conn := newPipeConn()
	s := NewSession("p1", "arena", "g1", conn, zerolog.Nop())
	require.NoError(t, conn.Close())

	sent, err := s.SendUpdate(map[string]any{"a": 1}, 0, 0)
	assert.Error(t, err)
	assert.False(t, sent)

	conn.closed = false
	sent, err = s.SendUpdate(map[string]any{"a": 1}, 0, 0)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestSendWrapsPayload(t *testing.T) {
	conn := newPipeConn()
	s := NewSession("p1", "arena", "g1", conn, zerolog.Nop())
	require.NoError(t, s.Send(EventPlayerID, "p1"))

	events := conn.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, EventPlayerID, events[0].Event)
	assert.JSONEq(t, `"p1"`, string(events[0].Data))
}
