// Package input buffers what clients send between ticks and feeds it to the ActionMap and AckMap
// callbacks at the start of each game's tick.
package input

import (
	"sync"
)

// Cursor is a pointer position in client coordinates.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Packet is one input message from a client.
type Packet struct {
	ID        int64          `json:"id"`
	Keys      []string       `json:"keys"`
	Cursor    *Cursor        `json:"cursor,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Ack is one acknowledgement message from a client.
type Ack struct {
	ID   int64          `json:"id"`
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

type inputEntry struct {
	player string
	packet Packet
}

type ackEntry struct {
	player string
	ack    Ack
}

type buffer struct {
	inputs []inputEntry
	acks   []ackEntry
}

// Queue is written by socket goroutines and drained by the update loop.
type Queue struct {
	mu      sync.Mutex
	buffers map[string]*buffer
	highest map[string]map[string]int64
}

func NewQueue() *Queue {
	return &Queue{
		buffers: make(map[string]*buffer),
		highest: make(map[string]map[string]int64),
	}
}

func (q *Queue) buffer(game string) *buffer {
	b, ok := q.buffers[game]
	if !ok {
		b = &buffer{}
		q.buffers[game] = b
	}
	return b
}

func (q *Queue) PushInput(game, player string, p Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b := q.buffer(game)
	b.inputs = append(b.inputs, inputEntry{player: player, packet: p})
}

func (q *Queue) PushAck(game, player string, a Ack) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b := q.buffer(game)
	b.acks = append(b.acks, ackEntry{player: player, ack: a})
}

// drain takes everything buffered for game.
func (q *Queue) drain(game string) *buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.buffers[game]
	if !ok {
		return &buffer{}
	}
	delete(q.buffers, game)
	return b
}

func (q *Queue) processed(game, player string, id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	players, ok := q.highest[game]
	if !ok {
		players = make(map[string]int64)
		q.highest[game] = players
	}
	if id > players[player] {
		players[player] = id
	}
}

// HighestProcessed returns the largest packet id processed for player in game, or 0.
func (q *Queue) HighestProcessed(game, player string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.highest[game][player]
}

// Forget drops everything held for game.
func (q *Queue) Forget(game string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.buffers, game)
	delete(q.highest, game)
}
