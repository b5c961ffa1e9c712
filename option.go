package ensemble

import (
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pkg.world.dev/ensemble/clock"
	"pkg.world.dev/ensemble/statsd"
	"pkg.world.dev/ensemble/storage"
)

// Option changes how the Engine is built. Options override the environment configuration.
type Option func(*Engine)

// WithConfig replaces the configuration loaded from the environment.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithNamespace sets the server namespace.
func WithNamespace(namespace string) Option {
	return func(e *Engine) {
		e.cfg.Namespace = namespace
	}
}

// WithPort sets the port of the socket server.
func WithPort(port string) Option {
	return func(e *Engine) {
		e.cfg.Server.Port = port
	}
}

// WithListener serves the socket server on ln instead of the configured port.
func WithListener(ln net.Listener) Option {
	return func(e *Engine) {
		e.listener = ln
	}
}

// WithoutServer runs the update loop without the socket server.
func WithoutServer() Option {
	return func(e *Engine) {
		e.serverDisabled = true
	}
}

// WithTickChannel sets the channel that decides when the update loop ticks. If unset, the loop ticks every
// Server.PhysicsUpdateLoop. Tests can pass in a channel they control.
func WithTickChannel(ch <-chan time.Time) Option {
	return func(e *Engine) {
		e.tickChannel = ch
	}
}

// WithTickDoneChannel sets a channel that receives the number of every completed tick. Sends block, so the
// channel must be read.
func WithTickDoneChannel(ch chan<- uint64) Option {
	return func(e *Engine) {
		e.tickDoneChannel = ch
	}
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger replaces the logger built from the debug configuration.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = &logger
	}
}

// WithSaveStore persists games to store instead of the configured redis.
func WithSaveStore(store storage.SaveStore) Option {
	return func(e *Engine) {
		e.saves = store
	}
}

// WithRedisClient persists games to redis through client.
func WithRedisClient(client redis.Cmdable) Option {
	return func(e *Engine) {
		e.redisClient = client
	}
}

// WithProfiler times frame callbacks with p, regardless of Debug.Profiling.
func WithProfiler(p statsd.Profiler) Option {
	return func(e *Engine) {
		e.profiler = p
	}
}
