// Package state holds the per-game state trees and the single entry point that writes to them.
package state

import (
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Framework is the namespace that owns the reserved "ensemble" subtree.
const Framework = "ensemble"

// Reserved paths. They are seeded when a game is created and only the framework writes them.
const (
	PathPaused     = Framework + ".paused"
	PathWorldTime  = Framework + ".worldTime"
	PathJobs       = Framework + ".jobs"
	PathRandomSeed = Framework + ".randomSeed"
	PathMode       = Framework + ".mode"
)

var (
	ErrUnknownGame  = eris.New("unknown game")
	ErrGameExists   = eris.New("game already exists")
	ErrReservedPath = eris.New("path is reserved for the framework")
)

// Change describes one leaf write.
type Change struct {
	Game string
	Path string
	Old  any
	New  any
}

// Seed returns the reserved subtree every new game starts with.
func Seed(mode string, randomSeed int64) Tree {
	return Tree{
		Framework: map[string]any{
			"paused":     false,
			"worldTime":  int64(0),
			"jobs":       []any{},
			"randomSeed": randomSeed,
			"mode":       mode,
		},
	}
}

// Store keeps one Tree per game. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	games  map[string]Tree
	subsMu sync.RWMutex
	subs   map[int]func(Change)
	nextID int
}

func NewStore() *Store {
	return &Store{
		games: make(map[string]Tree),
		subs:  make(map[int]func(Change)),
	}
}

// Create adds a game with the given initial tree.
func (s *Store) Create(id string, initial Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[id]; ok {
		return eris.Wrapf(ErrGameExists, "game %q", id)
	}
	tree := Clone(initial)
	if tree == nil {
		tree = make(Tree)
	}
	s.games[id] = tree
	return nil
}

// Remove drops a game's tree. Removing an unknown game is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, id)
}

func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.games[id]
	return ok
}

// Snapshot returns a deep copy of a game's tree.
func (s *Store) Snapshot(id string) (Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tree, ok := s.games[id]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownGame, "game %q", id)
	}
	return Clone(tree), nil
}

// Subscribe registers fn to receive every applied Change. The returned function unsubscribes.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.subsMu.RLock()
	subs := make([]func(Change), 0, len(s.subs))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	s.subsMu.RUnlock()

	for _, c := range changes {
		for _, fn := range subs {
			fn(c)
		}
	}
}

// For returns read access to one game.
func (s *Store) For(id string) Access {
	return Access{store: s, id: id}
}

// Access reads one game's state.
type Access struct {
	store *Store
	id    string
}

// Get returns the value at path, or nil if it is not set or the game is unknown.
func (a Access) Get(path string) any {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	tree, ok := a.store.games[a.id]
	if !ok {
		return nil
	}
	v, _ := Lookup(tree, path)
	return cloneValue(v)
}

// Select runs fn against a copy of the game's tree and returns its result.
func (a Access) Select(fn func(Tree) any) any {
	tree, err := a.store.Snapshot(a.id)
	if err != nil {
		return nil
	}
	return fn(tree)
}

// Mutator is the only writer of game state.
type Mutator struct {
	store  *Store
	logger zerolog.Logger
}

func NewMutator(store *Store, logger zerolog.Logger) *Mutator {
	return &Mutator{store: store, logger: logger}
}

// Mutate applies patch to game id on behalf of namespace. Nil patches are ignored. Patches touching the
// reserved subtree are refused unless namespace is Framework. A refused or invalid patch changes nothing.
func (m *Mutator) Mutate(namespace, id string, patch Patch) error {
	if patch == nil {
		return nil
	}
	if err := patch.validate(); err != nil {
		return eris.Wrapf(err, "invalid patch from %q", namespace)
	}
	if namespace != Framework {
		for _, p := range patch.Paths() {
			if IsReserved(p) {
				m.logger.Error().
					Str("namespace", namespace).
					Str("game_id", id).
					Str("path", p).
					Msg("refused write to reserved state path")
				return eris.Wrapf(ErrReservedPath, "%q cannot write %q", namespace, p)
			}
		}
	}

	var changes []Change
	m.store.mu.Lock()
	tree, ok := m.store.games[id]
	if !ok {
		m.store.mu.Unlock()
		return eris.Wrapf(ErrUnknownGame, "game %q", id)
	}
	err := patch.apply(tree, func(path string, old, new any) {
		changes = append(changes, Change{Game: id, Path: path, Old: old, New: new})
	})
	m.store.mu.Unlock()
	if err != nil {
		return eris.Wrapf(err, "failed to apply patch from %q", namespace)
	}

	m.store.publish(changes)
	return nil
}

// IsReserved reports whether path lies in the framework subtree.
func IsReserved(path string) bool {
	return path == Framework || strings.HasPrefix(path, Framework+".")
}
