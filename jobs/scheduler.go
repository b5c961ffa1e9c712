// Package jobs runs delayed plugin calls. Jobs count down in simulated time, so paused games do not
// advance them.
package jobs

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pkg.world.dev/ensemble/codec"
	"pkg.world.dev/ensemble/physics"
	"pkg.world.dev/ensemble/plugin"
	"pkg.world.dev/ensemble/state"
)

// Handler is the signature of a job target. It is looked up by plugin type and method name when the job
// fires, from a plugin exporting plugin.Methods.
type Handler = func(gameID string, current state.Access) (state.Patch, error)

type opKind uint8

const (
	opAdd opKind = iota
	opCancel
)

type op struct {
	kind opKind
	job  Job
}

// Scheduler buffers job changes made during a tick and applies them at the start of the next one.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string][]op
	known   map[string]map[string]struct{}

	loader  *plugin.Loader
	mutator *state.Mutator
	logger  zerolog.Logger
}

func NewScheduler(loader *plugin.Loader, mutator *state.Mutator, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		pending: make(map[string][]op),
		known:   make(map[string]map[string]struct{}),
		loader:  loader,
		mutator: mutator,
		logger:  logger,
	}
}

// Add schedules pluginType.method to run for game after duration of simulated time.
func (s *Scheduler) Add(game, key string, duration time.Duration, pluginType, method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[game] = append(s.pending[game], op{kind: opAdd, job: Job{
		Key:      key,
		Duration: Remaining(duration),
		Plugin:   pluginType,
		Method:   method,
	}})
}

// CancelAll removes every job with key, including ones added earlier in the same tick. Jobs added after
// the cancel in the same tick survive.
func (s *Scheduler) CancelAll(game, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[game] = append(s.pending[game], op{kind: opCancel, job: Job{Key: key}})
}

// Forget drops the buffers of a removed game.
func (s *Scheduler) Forget(game string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, game)
	delete(s.known, game)
}

func (s *Scheduler) drain(game string) []op {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.pending[game]
	delete(s.pending, game)
	return ops
}

func (s *Scheduler) markKnown(game, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.known[game]
	if !ok {
		keys = make(map[string]struct{})
		s.known[game] = keys
	}
	keys[key] = struct{}{}
}

func (s *Scheduler) isKnown(game, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[game][key]
	return ok
}

// Frame is the scheduler's OnPhysicsFrame contribution.
func (s *Scheduler) Frame(f physics.Frame) (state.Patch, error) {
	game := f.Game.ID
	live, err := Current(f.State)
	if err != nil {
		return nil, err
	}
	for _, j := range live {
		s.markKnown(game, j.Key)
	}

	for _, o := range s.drain(game) {
		switch o.kind {
		case opAdd:
			s.markKnown(game, o.job.Key)
			live = append(live, o.job)
		case opCancel:
			if !s.isKnown(game, o.job.Key) {
				s.logger.Warn().
					Str("game_id", game).
					Str("key", o.job.Key).
					Msg("cancelled a job key that was never added")
			}
			live = without(live, o.job.Key)
		}
	}

	remaining := make([]Job, 0, len(live))
	var ready []Job
	for _, j := range live {
		j = j.advance(f.Delta)
		if j.ready() {
			ready = append(ready, j)
			continue
		}
		remaining = append(remaining, j)
	}

	for _, j := range ready {
		s.invoke(game, j, f.State)
	}
	return state.Set(state.PathJobs, remaining), nil
}

func (s *Scheduler) invoke(game string, j Job, current state.Access) {
	logger := s.logger.With().
		Str("game_id", game).
		Str("key", j.Key).
		Str("plugin", j.Plugin).
		Str("method", j.Method).
		Logger()

	fn, err := plugin.LoadMethod[Handler](s.loader, j.Plugin, j.Method)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load job target, dropping job")
		return
	}
	patch, err := call(fn, game, current)
	if err != nil {
		logger.Error().Err(err).Msg("job failed, dropping job")
		return
	}
	if err := s.mutator.Mutate(j.Plugin, game, patch); err != nil {
		logger.Error().Err(err).Msg("failed to apply job result")
	}
}

func call(fn Handler, game string, current state.Access) (patch state.Patch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("job panicked: %v", r)
		}
	}()
	return fn(game, current)
}

func without(list []Job, key string) []Job {
	out := list[:0:0]
	for _, j := range list {
		if j.Key != key {
			out = append(out, j)
		}
	}
	return out
}

// Current reads the job list from a game's state. Lists restored from a save are decoded from their
// generic form.
func Current(current state.Access) ([]Job, error) {
	raw := current.Get(state.PathJobs)
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []Job:
		return append([]Job(nil), v...), nil
	default:
		bz, err := codec.Encode(v)
		if err != nil {
			return nil, eris.Wrap(err, "failed to read job list")
		}
		list, err := codec.Decode[[]Job](bz)
		if err != nil {
			return nil, eris.Wrap(err, "failed to read job list")
		}
		return list, nil
	}
}
