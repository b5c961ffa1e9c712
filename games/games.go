// Package games tracks the games hosted by a server and the stage each one is in.
package games

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

var (
	ErrGameExists  = eris.New("game already exists")
	ErrUnknownGame = eris.New("unknown game")
)

// Game is one hosted game (a save).
type Game struct {
	ID        string
	Mode      string
	CreatedAt int64

	stage  *stageManager
	loaded atomic.Bool
}

func (g *Game) Stage() Stage {
	return g.stage.Current()
}

// Transition moves the game from one stage to another. It fails if the game is not in from or the
// transition is not allowed.
func (g *Game) Transition(from, to Stage) bool {
	return g.stage.CompareAndSwap(from, to)
}

// Loaded reports whether the game finished its ready hooks.
func (g *Game) Loaded() bool {
	return g.loaded.Load()
}

func (g *Game) MarkLoaded() {
	g.loaded.Store(true)
}

// List holds games in the order they were added. Iteration order is stable.
type List struct {
	mu    sync.RWMutex
	order []*Game
	byID  map[string]*Game
}

func NewList() *List {
	return &List{byID: make(map[string]*Game)}
}

// Add creates a game in the WaitingForPlayers stage. An empty id is replaced by a random one.
func (l *List) Add(id, mode string, createdAt int64) (*Game, error) {
	if id == "" {
		id = uuid.NewString()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[id]; ok {
		return nil, eris.Wrapf(ErrGameExists, "game %q", id)
	}
	g := &Game{
		ID:        id,
		Mode:      mode,
		CreatedAt: createdAt,
		stage:     newStageManager(),
	}
	l.order = append(l.order, g)
	l.byID[id] = g
	return g, nil
}

func (l *List) Get(id string) (*Game, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	g, ok := l.byID[id]
	return g, ok
}

// Remove stops the game and drops it from the list.
func (l *List) Remove(id string) (*Game, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.byID[id]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownGame, "game %q", id)
	}
	g.stage.stop()
	delete(l.byID, id)
	for i, other := range l.order {
		if other == g {
			l.order = append(l.order[:i:i], l.order[i+1:]...)
			break
		}
	}
	return g, nil
}

// All returns the games that are not stopped, in insertion order.
func (l *List) All() []*Game {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Game, 0, len(l.order))
	for _, g := range l.order {
		if g.Stage() != Stopped {
			out = append(out, g)
		}
	}
	return out
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// StopAll moves every game to Stopped and returns them. The games stay in the list.
func (l *List) StopAll() []*Game {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Game, 0, len(l.order))
	for _, g := range l.order {
		if g.stage.stop() != Stopped {
			out = append(out, g)
		}
	}
	return out
}
