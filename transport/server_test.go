package transport

import (
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 5 * time.Second
	testTick    = 10 * time.Millisecond
)

func startServer(t *testing.T, handler Handler) (*Hub, string) {
	t.Helper()
	hub := NewHub(handler, zerolog.Nop())
	srv := NewServer(hub, zerolog.Nop(), func() bool { return true })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeListener(ln) }()
	t.Cleanup(func() {
		assert.NoError(t, srv.Shutdown())
		<-errCh
	})
	return hub, ln.Addr().String()
}

func TestHealth(t *testing.T) {
	_, addr := startServer(t, &recordingHandler{})

	res, err := http.Get("http://" + addr + HealthPath)
	require.NoError(t, err)
	defer res.Body.Close()
	bz, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	var reply HealthReply
	require.NoError(t, json.Unmarshal(bz, &reply))
	assert.Equal(t, HealthReply{IsServerRunning: true, IsGameLoopRunning: true}, reply)
}

func TestSocketRoundTrip(t *testing.T) {
	handler := &recordingHandler{}
	hub, addr := startServer(t, handler)

	client, _, err := websocket.DefaultDialer.Dial("ws://"+addr+SocketPath+"?mode=arena&gameId=g1", nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return len(hub.Sessions("g1")) == 1 }, testTimeout, testTick)
	session := hub.Sessions("g1")[0]
	assert.Equal(t, "arena", session.Mode)

	require.NoError(t, client.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"input","data":{"id":1,"keys":["up"]}}`)))
	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.packets) == 1
	}, testTimeout, testTick)

	state := map[string]any{"score": 1}
	sent, err := session.SendUpdate(state, 1, 50)
	require.NoError(t, err)
	require.True(t, sent)
	sent, err = session.SendUpdate(state, 1, 65)
	require.NoError(t, err)
	require.False(t, sent)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(testTimeout)))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	env, err := decodeEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, EventUpdateState, env.Event)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"event":"disconnect"}`)))
	require.Eventually(t, func() bool { return len(hub.Sessions("g1")) == 0 }, testTimeout, testTick)
}

func TestPlainRequestToSocketIsRefused(t *testing.T) {
	_, addr := startServer(t, &recordingHandler{})
	res, err := http.Get("http://" + addr + SocketPath)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, res.StatusCode)
}
