// Package transport carries the socket protocol between clients and the engine: every message is an
// envelope holding an event name and its payload.
package transport

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"pkg.world.dev/ensemble/codec"
)

// Inbound events.
const (
	EventInput      = "input"
	EventPause      = "pause"
	EventUnpause    = "unpause"
	EventDisconnect = "disconnect"
	EventError      = "error"
	EventAck        = "ack"
)

// Outbound events.
const (
	EventInitialState = "initialState"
	EventUpdateState  = "updateState"
	EventPlayerID     = "playerId"
	EventStartTime    = "startTime"
)

var ErrUnknownEvent = eris.New("unknown event")

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UpdateState is the per-tick snapshot sent to every client of a game.
type UpdateState struct {
	ID                      int64           `json:"id"`
	GameState               json.RawMessage `json:"gameState"`
	HighestProcessedMessage int64           `json:"highestProcessedMessage"`
	Timestamp               int64           `json:"timestamp"`
}

// ErrorReport is the payload of an error event in either direction.
type ErrorReport struct {
	Message string `json:"message"`
}

func encodeEnvelope(event string, data any) ([]byte, error) {
	bz, err := codec.Encode(data)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to encode %s payload", event)
	}
	return codec.Encode(Envelope{Event: event, Data: bz})
}

func decodeEnvelope(bz []byte) (Envelope, error) {
	env, err := codec.Decode[Envelope](bz)
	if err != nil {
		return env, eris.Wrap(err, "malformed envelope")
	}
	if env.Event == "" {
		return env, eris.New("envelope has no event")
	}
	return env, nil
}

// decodeData decodes the payload of env. An empty payload decodes to the zero value.
func decodeData[T any](env Envelope) (T, error) {
	var zero T
	if len(env.Data) == 0 {
		return zero, nil
	}
	v, err := codec.Decode[T](env.Data)
	if err != nil {
		return zero, eris.Wrapf(err, "malformed %s payload", env.Event)
	}
	return v, nil
}
