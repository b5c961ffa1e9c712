// Package clock is the wall-clock abstraction used by the update loop. Every reading is expressed in
// milliseconds since the Unix epoch so that values can be stored in the state tree and sent to clients as-is.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time and the time the process (or test) started.
type Clock interface {
	// Present returns the current time in milliseconds.
	Present() int64
	// SinceStart returns the number of milliseconds elapsed since AtStart.
	SinceStart() int64
	// AtStart returns the time the clock was created, in milliseconds.
	AtStart() int64
}

var _ Clock = (*Wall)(nil)
var _ Clock = (*Manual)(nil)

// Wall is a Clock backed by time.Now.
type Wall struct {
	start int64
}

func NewWall() *Wall {
	return &Wall{start: time.Now().UnixMilli()}
}

func (w *Wall) Present() int64 {
	return time.Now().UnixMilli()
}

func (w *Wall) SinceStart() int64 {
	return w.Present() - w.start
}

func (w *Wall) AtStart() int64 {
	return w.start
}

// Manual is a Clock that only moves when told to. Tests use it to produce exact deltas.
type Manual struct {
	mu    sync.Mutex
	start int64
	now   int64
}

// NewManual creates a manual clock whose start and present are both at.
func NewManual(at int64) *Manual {
	return &Manual{start: at, now: at}
}

func (m *Manual) Present() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) SinceStart() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now - m.start
}

func (m *Manual) AtStart() int64 {
	return m.start
}

// Set moves the clock to an absolute time.
func (m *Manual) Set(at int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = at
}

// Advance moves the clock forward by d and returns the new present.
func (m *Manual) Advance(d time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d.Milliseconds()
	return m.now
}
