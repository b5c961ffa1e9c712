// Package ensemble is a multiplayer game server runtime. Games are assembled from plugins that contribute
// to named lifecycle hooks; a fixed-step update loop advances every game and clients receive the
// resulting state over a websocket.
package ensemble

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pkg.world.dev/ensemble/clock"
	"pkg.world.dev/ensemble/games"
	"pkg.world.dev/ensemble/hook"
	"pkg.world.dev/ensemble/input"
	"pkg.world.dev/ensemble/internal/enginestage"
	"pkg.world.dev/ensemble/jobs"
	"pkg.world.dev/ensemble/log"
	"pkg.world.dev/ensemble/physics"
	"pkg.world.dev/ensemble/plugin"
	"pkg.world.dev/ensemble/state"
	"pkg.world.dev/ensemble/statsd"
	"pkg.world.dev/ensemble/storage"
	"pkg.world.dev/ensemble/transport"
	"pkg.world.dev/ensemble/trigger"
	"pkg.world.dev/ensemble/validate"
)

// Engine wires the plugin registry, the update loop and the socket server together.
type Engine struct {
	cfg    Config
	logger *zerolog.Logger
	clock  clock.Clock
	stage  *enginestage.Manager

	registry  *plugin.Registry
	loader    *plugin.Loader
	list      *games.List
	store     *state.Store
	mutator   *state.Mutator
	loop      *physics.Loop
	scheduler *jobs.Scheduler
	queue     *input.Queue
	processor *input.Processor
	evaluator *trigger.Evaluator
	hub       *transport.Hub
	server    *transport.Server

	saves       storage.SaveStore
	redisClient redis.Cmdable
	ownedRedis  *redis.Client
	profiler    statsd.Profiler
	statsd      *statsd.Client

	listener        net.Listener
	serverDisabled  bool
	tickChannel     <-chan time.Time
	tickDoneChannel chan<- uint64

	// joinMu serializes game creation so that two clients asking for the same new game get one game, and
	// a game's setup is queued before anything a later join queues for it.
	joinMu sync.Mutex

	runMu  sync.Mutex
	cancel func()
}

// New builds an engine from the environment configuration and opts. Plugins are added with Load or Hooks
// before Run is called.
func New(opts ...Option) (*Engine, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:   cfg,
		stage: enginestage.NewManager(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid options")
	}

	if e.logger == nil {
		logger, err := log.New(os.Stdout, e.cfg.Debug.LogLevel, e.cfg.Debug.PrettyLog)
		if err != nil {
			return nil, err
		}
		e.logger = &logger
	}
	if e.clock == nil {
		e.clock = clock.NewWall()
	}
	if e.tickChannel == nil {
		e.tickChannel = time.Tick(e.cfg.Server.PhysicsUpdateLoop)
	}
	if err := e.setupMeasurement(); err != nil {
		return nil, err
	}
	e.setupSaves()

	e.registry = plugin.NewRegistry(log.Component(e.logger, "plugin"))
	e.registry.Configure(plugin.Config{
		Logger: log.Component(e.logger, "plugin"),
		MultiTypes: []string{
			physics.TypeWaitingForPlayers,
			validate.TypeActionMap,
			validate.TypeAckMap,
			validate.TypeTriggerMap,
			TypeStateSeed,
		},
		DefaultModeTypes: []string{
			physics.TypeWaitingForPlayers,
			physics.TypeBeforeFrame,
			physics.TypeOnFrame,
			physics.TypeAfterFrame,
			validate.TypeActionMap,
			validate.TypeAckMap,
			validate.TypeTriggerMap,
			TypeStateSeed,
		},
		SilencedTypes: []string{
			validate.TypeActionMapValidator,
			validate.TypeAckMapValidator,
			validate.TypeTriggerMapValidator,
		},
		OnBroken: e.onBroken,
	})
	e.loader = plugin.NewLoader(e.registry)
	e.list = games.NewList()
	e.store = state.NewStore()
	e.mutator = state.NewMutator(e.store, log.Component(e.logger, "state"))
	e.scheduler = jobs.NewScheduler(e.loader, e.mutator, log.Component(e.logger, "jobs"))
	e.queue = input.NewQueue()
	e.processor = input.NewProcessor(e.queue, e.registry, e.mutator, log.Component(e.logger, "input"))
	e.evaluator = trigger.NewEvaluator(e.store, e.registry, e.mutator, log.Component(e.logger, "trigger"))
	e.loop = physics.NewLoop(e.registry, e.list, e.store, e.mutator, e.clock, log.Component(e.logger, "physics"),
		physics.WithProfiler(e.profiler),
		physics.WithErrorHandler(e.onLoopError),
		physics.WithTickObserver(e.publish),
	)
	e.hub = transport.NewHub(socketHandler{e: e}, log.Component(e.logger, "socket"))
	if !e.serverDisabled {
		e.server = transport.NewServer(e.hub, log.Component(e.logger, "server"), e.IsGameLoopRunning)
	}

	if err := e.defineFramework(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) setupMeasurement() error {
	if e.profiler != nil || !e.cfg.Debug.Profiling {
		return nil
	}
	client, err := statsd.New(e.cfg.Measure.StatsdAddress, e.cfg.Measure.Tags, log.Component(e.logger, "statsd"))
	if err != nil {
		return eris.Wrap(err, "failed to set up profiling")
	}
	e.statsd = client
	e.profiler = client
	return nil
}

func (e *Engine) setupSaves() {
	if e.saves != nil {
		return
	}
	if e.redisClient == nil && e.cfg.Redis.Address != "" {
		e.ownedRedis = redis.NewClient(&redis.Options{
			Addr:     e.cfg.Redis.Address,
			Password: e.cfg.Redis.Password,
			DB:       0,
		})
		e.redisClient = e.ownedRedis
	}
	if e.redisClient != nil {
		e.saves = storage.NewRedisSaveStore(e.redisClient, e.cfg.Namespace)
	}
}

// defineFramework registers the engine's own plugins. They are defined first, so within each frame stage
// they run before game plugins.
func (e *Engine) defineFramework() error {
	singletons := map[string]any{
		TypeDelayedJobs:         e.scheduler,
		TypeDynamicPluginLoader: e.loader,
		TypeGamesList:           e.list,
		TypeStateMutator:        e.mutator,
		TypeTime:                e.clock,
	}
	for _, typ := range []string{TypeDelayedJobs, TypeDynamicPluginLoader, TypeGamesList, TypeStateMutator, TypeTime} {
		if err := e.registry.Define(plugin.Definition{
			Type:      typ,
			Func:      hook.Handle(singletons[typ]),
			Namespace: state.Framework,
		}); err != nil {
			return err
		}
	}

	fw := hook.NewDispatcher(e.registry, state.Framework)
	frame := "PhysicsFrame"
	if err := fw.Before(frame, hook.Handle(physics.Handler(physics.AdvanceWorldTime))); err != nil {
		return err
	}
	if err := fw.Before(frame, hook.Handle(physics.Handler(e.processor.Frame))); err != nil {
		return err
	}
	if err := fw.On(frame, hook.Handle(physics.Handler(e.scheduler.Frame))); err != nil {
		return err
	}
	if err := fw.After(frame, hook.Handle(physics.Handler(e.evaluator.Frame))); err != nil {
		return err
	}

	for _, def := range validate.Definitions(e.registry, log.Component(e.logger, "validate")) {
		def.Namespace = state.Framework
		if err := e.registry.Define(def); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the plugin registry.
func (e *Engine) Registry() *plugin.Registry {
	return e.registry
}

// Hooks returns a dispatcher that contributes to hooks on behalf of namespace.
func (e *Engine) Hooks(namespace string) *hook.Dispatcher {
	return hook.NewDispatcher(e.registry, namespace)
}

// Load defines plugins under namespace and resolves them.
func (e *Engine) Load(namespace string, defs ...plugin.Definition) error {
	return e.registry.Load(namespace, defs...)
}

func (e *Engine) Games() *games.List {
	return e.list
}

// State returns read access to a game's state.
func (e *Engine) State(gameID string) (state.Access, error) {
	if !e.store.Has(gameID) {
		return state.Access{}, eris.Wrapf(games.ErrUnknownGame, "game %q", gameID)
	}
	return e.store.For(gameID), nil
}

// Mutate applies patch to a game's state on behalf of namespace.
func (e *Engine) Mutate(namespace, gameID string, patch state.Patch) error {
	return e.mutator.Mutate(namespace, gameID, patch)
}

func (e *Engine) Jobs() *jobs.Scheduler {
	return e.scheduler
}

// Input queues an input packet as if it came from a client socket.
func (e *Engine) Input(gameID, playerID string, p input.Packet) {
	e.queue.PushInput(gameID, playerID, p)
}

// Ack queues an acknowledgement as if it came from a client socket.
func (e *Engine) Ack(gameID, playerID string, a input.Ack) {
	e.queue.PushAck(gameID, playerID, a)
}

func (e *Engine) CurrentTick() uint64 {
	return e.loop.CurrentTick()
}

func (e *Engine) IsGameLoopRunning() bool {
	return e.stage.Current() == enginestage.Running
}

func (e *Engine) Namespace() string {
	return e.cfg.Namespace
}
