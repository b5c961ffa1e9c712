package ensemble

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pkg.world.dev/ensemble/internal/enginestage"
	"pkg.world.dev/ensemble/log"
)

// Run resolves the plugins, then runs the update loop and the socket server until ctx is done, Shutdown
// is called or either of them fails. Games still running are saved before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.runMu.Lock()
	if !e.stage.CompareAndSwap(enginestage.Init, enginestage.Starting) {
		e.runMu.Unlock()
		return eris.New("engine has already been started")
	}
	e.cancel = cancel
	e.runMu.Unlock()

	// Plugin failures degrade the feature they provide; they do not stop the server.
	if err := e.registry.WarmUp(); err != nil {
		e.logger.Error().Err(err).Msg("some plugins failed to load")
	}
	for _, err := range e.registry.Validate() {
		e.logger.Warn().Err(err).Msg("plugin dependency is not defined")
	}
	log.Registry(e.logger, e.registry, zerolog.InfoLevel)
	if ids, err := e.Saves(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("failed to list saves")
	} else if len(ids) > 0 {
		e.logger.Info().Int("saves", len(ids)).Msg("found saved games")
	}

	e.stage.Store(enginestage.Running)
	e.logger.Info().Str("namespace", e.cfg.Namespace).Msg("engine running")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return e.loop.Run(gctx, e.tickChannel, e.tickDoneChannel)
	})
	if e.server != nil {
		group.Go(func() error {
			err := e.serve()
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
		group.Go(func() error {
			<-gctx.Done()
			return e.server.Shutdown()
		})
	}
	err := group.Wait()

	e.stage.Store(enginestage.ShuttingDown)
	e.shutdown()
	e.stage.Store(enginestage.ShutDown)
	return err
}

func (e *Engine) serve() error {
	if e.listener != nil {
		return e.server.ServeListener(e.listener)
	}
	return e.server.Serve(e.cfg.Server.Port)
}

// shutdown saves the remaining games and closes the connections the engine opened itself.
func (e *Engine) shutdown() {
	ctx := context.Background()
	for _, g := range e.list.All() {
		if err := e.save(ctx, g); err != nil {
			e.logger.Error().Err(err).Str("game_id", g.ID).Msg("failed to save game")
		}
	}
	stopped := e.list.StopAll()
	e.logger.Info().Int("games", len(stopped)).Msg("stopped games")

	e.evaluator.Close()
	var errs []error
	if e.ownedRedis != nil {
		errs = append(errs, eris.Wrap(e.ownedRedis.Close(), "failed to close redis client"))
	}
	if e.statsd != nil {
		errs = append(errs, e.statsd.Close())
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Error().Err(err).Msg("failed to close connections")
	}
	e.logger.Info().Msg("engine shut down")
}

// Shutdown stops a running engine and blocks until Run has saved the games.
func (e *Engine) Shutdown() error {
	e.runMu.Lock()
	cancel := e.cancel
	e.runMu.Unlock()
	if cancel == nil {
		return eris.New("shutdown attempted before the engine was started")
	}
	cancel()
	<-e.stage.NotifyOnStage(enginestage.ShutDown)
	return nil
}
