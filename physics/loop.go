// Package physics is the server's fixed-step update loop. Every tick walks the games list and runs the
// frame stages for each game that is not paused.
package physics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkg.world.dev/ensemble/clock"
	"pkg.world.dev/ensemble/games"
	"pkg.world.dev/ensemble/hook"
	"pkg.world.dev/ensemble/plugin"
	"pkg.world.dev/ensemble/state"
	"pkg.world.dev/ensemble/statsd"
)

var ErrTickChannelClosed = eris.New("tick channel has been closed")

// ErrorHandler is told about a game whose tick was cut short.
type ErrorHandler func(g *games.Game, err error)

type Option func(*Loop)

// WithProfiler times every callback. A nil profiler disables profiling.
func WithProfiler(p statsd.Profiler) Option {
	return func(l *Loop) {
		if p != nil {
			l.profiler = p
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(l *Loop) {
		l.tracer = t
	}
}

func WithErrorHandler(fn ErrorHandler) Option {
	return func(l *Loop) {
		l.onError = fn
	}
}

// WithTickObserver calls fn after every tick run by Run, before the tick is reported on the done channel.
func WithTickObserver(fn func(ctx context.Context, tick uint64)) Option {
	return func(l *Loop) {
		l.observers = append(l.observers, fn)
	}
}

// Loop runs frame callbacks for every game on each tick. It is not re-entrant; Tick must not be called
// concurrently.
type Loop struct {
	registry *plugin.Registry
	list     *games.List
	store    *state.Store
	mutator  *state.Mutator
	clock    clock.Clock
	logger   zerolog.Logger
	profiler statsd.Profiler
	tracer   trace.Tracer
	onError  ErrorHandler

	observers []func(ctx context.Context, tick uint64)

	mu    sync.Mutex
	prior map[string]int64
	tick  atomic.Uint64

	cmdMu    sync.Mutex
	running  bool
	commands []Command
}

// Command is work handed to the loop goroutine. queued is false when the loop was not running and the
// command ran on the caller's goroutine.
type Command func(queued bool)

func NewLoop(
	registry *plugin.Registry,
	list *games.List,
	store *state.Store,
	mutator *state.Mutator,
	clk clock.Clock,
	logger zerolog.Logger,
	opts ...Option,
) *Loop {
	l := &Loop{
		registry: registry,
		list:     list,
		store:    store,
		mutator:  mutator,
		clock:    clk,
		logger:   logger,
		profiler: statsd.NoOp{},
		tracer:   otel.Tracer("physics"),
		onError:  func(*games.Game, error) {},
		prior:    make(map[string]int64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CurrentTick returns the number of completed ticks.
func (l *Loop) CurrentTick() uint64 {
	return l.tick.Load()
}

// Track starts measuring delta for a game from now.
func (l *Loop) Track(gameID string, now int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prior[gameID] = now
}

// Forget stops measuring delta for a game.
func (l *Loop) Forget(gameID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.prior, gameID)
}

// elapsed returns the time since the game's previous reading and makes now the new reading. Games that
// were never tracked start with a zero delta.
func (l *Loop) elapsed(gameID string, now int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, ok := l.prior[gameID]
	l.prior[gameID] = now
	if !ok || now < prev {
		return 0
	}
	return now - prev
}

// Do hands cmd to the loop. While Run is active cmd is queued and runs on the loop goroutine at the start
// of the next tick, before any frame callback. Otherwise it runs right away on the caller's goroutine.
func (l *Loop) Do(cmd Command) {
	l.cmdMu.Lock()
	if !l.running {
		l.cmdMu.Unlock()
		l.runCommand(cmd, false)
		return
	}
	l.commands = append(l.commands, cmd)
	l.cmdMu.Unlock()
}

// runCommands runs the queued commands. Commands queued while they run wait for the next tick.
func (l *Loop) runCommands() {
	l.cmdMu.Lock()
	cmds := l.commands
	l.commands = nil
	l.cmdMu.Unlock()

	for _, cmd := range cmds {
		l.runCommand(cmd, true)
	}
}

func (l *Loop) runCommand(cmd Command, queued bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Msgf("panic in loop command: %v", r)
		}
	}()
	cmd(queued)
}

func (l *Loop) setRunning(running bool) {
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()
	l.running = running
}

// Run ticks the loop every time ticks fires until ctx is done. If done is not nil the number of the
// finished tick is sent on it after every tick. Commands still queued when Run returns are run before it
// returns.
func (l *Loop) Run(ctx context.Context, ticks <-chan time.Time, done chan<- uint64) error {
	l.logger.Info().Msg("physics loop started")
	l.setRunning(true)
	defer func() {
		l.setRunning(false)
		l.runCommands()
		if done != nil {
			close(done)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Uint64("tick", l.CurrentTick()).Msg("physics loop stopped")
			return nil
		case _, ok := <-ticks:
			if !ok {
				return ErrTickChannelClosed
			}
			l.Tick(ctx)
			for _, observe := range l.observers {
				observe(ctx, l.CurrentTick())
			}
			if done != nil {
				select {
				case done <- l.CurrentTick():
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

type stages struct {
	before  []hook.Contribution[Handler]
	on      []hook.Contribution[Handler]
	after   []hook.Contribution[Handler]
	waiting []hook.Contribution[WaitingFunc]
}

func (l *Loop) resolveStages() stages {
	return stages{
		before:  hook.Contributions[Handler](l.registry, TypeBeforeFrame),
		on:      hook.Contributions[Handler](l.registry, TypeOnFrame),
		after:   hook.Contributions[Handler](l.registry, TypeAfterFrame),
		waiting: hook.Contributions[WaitingFunc](l.registry, TypeWaitingForPlayers),
	}
}

// Tick runs the queued commands and then one step for every game. Contributions are resolved at the start
// of each tick, so plugins defined while the server runs take part from the next tick on. A contribution
// that cannot be resolved is left out; a failing callback ends its own game's tick. Either way the other
// games are unaffected.
func (l *Loop) Tick(ctx context.Context) {
	tick := l.tick.Load()
	ctx, span := l.tracer.Start(ctx, "physics.tick", trace.WithAttributes(attribute.Int64("tick", int64(tick))))
	defer span.End()
	defer l.tick.Add(1)

	l.runCommands()
	st := l.resolveStages()

	now := l.clock.Present()
	for _, g := range l.list.All() {
		if err := l.tickGame(ctx, g, now, st); err != nil {
			l.logger.Error().
				Err(err).
				Uint64("tick", tick).
				Str("game_id", g.ID).
				Str("mode", g.Mode).
				Msg("game tick aborted")
			span.RecordError(err)
			l.profiler.Count("tick_aborted", 1, "mode:"+g.Mode)
			l.onError(g, err)
		}
	}
}

func (l *Loop) tickGame(ctx context.Context, g *games.Game, now int64, st stages) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("panic during tick: %v", r)
		}
	}()

	if !g.Loaded() || !l.store.Has(g.ID) {
		return nil
	}
	access := l.store.For(g.ID)
	if access.Paused() {
		l.Track(g.ID, now)
		for _, from := range []games.Stage{games.Running, games.WaitingForPlayers} {
			if g.Transition(from, games.Paused) {
				break
			}
		}
		return nil
	}

	frame := Frame{
		Game:  g,
		Delta: time.Duration(l.elapsed(g.ID, now)) * time.Millisecond,
		Now:   now,
		State: access,
	}

	_, span := l.tracer.Start(ctx, "physics.game", trace.WithAttributes(
		attribute.String("game_id", g.ID),
		attribute.String("mode", g.Mode),
	))
	defer span.End()

	if err := l.runStage(g, frame, st.before); err != nil {
		span.SetStatus(codes.Error, eris.ToString(err, true))
		return err
	}

	waiting := l.waiting(g, access, st.waiting)
	l.syncStage(g, waiting)
	if waiting {
		return nil
	}

	if err := l.runStage(g, frame, st.on); err != nil {
		span.SetStatus(codes.Error, eris.ToString(err, true))
		return err
	}
	if err := l.runStage(g, frame, st.after); err != nil {
		span.SetStatus(codes.Error, eris.ToString(err, true))
		return err
	}
	return nil
}

func (l *Loop) runStage(g *games.Game, frame Frame, list []hook.Contribution[Handler]) error {
	for _, c := range hook.ForMode(list, g.Mode) {
		timer := l.profiler.Start(c.Type, "namespace:"+c.Namespace, "mode:"+g.Mode)
		patch, err := c.Handler(frame)
		timer.Stop()
		if err != nil {
			return eris.Wrapf(err, "%s callback from %q failed", c.Type, c.Namespace)
		}
		if err := l.mutator.Mutate(c.Namespace, g.ID, patch); err != nil {
			return eris.Wrapf(err, "%s callback from %q returned a bad patch", c.Type, c.Namespace)
		}
	}
	return nil
}

func (l *Loop) waiting(g *games.Game, access state.Access, list []hook.Contribution[WaitingFunc]) bool {
	for _, c := range hook.ForMode(list, g.Mode) {
		if c.Handler(g, access) {
			return true
		}
	}
	return false
}

func (l *Loop) syncStage(g *games.Game, waiting bool) {
	switch {
	case waiting:
		if g.Transition(games.Running, games.WaitingForPlayers) || g.Transition(games.Paused, games.WaitingForPlayers) {
			l.logger.Debug().Str("game_id", g.ID).Msg("game is waiting for players")
		}
	default:
		if g.Transition(games.WaitingForPlayers, games.Running) || g.Transition(games.Paused, games.Running) {
			l.logger.Debug().Str("game_id", g.ID).Msg("game is running")
		}
	}
}
