package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"pkg.world.dev/ensemble"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := ensemble.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create engine")
	}

	Must(registerCountdown(e))

	if err := e.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}
}

func Must(err ...error) {
	e := errors.Join(err...)
	if e != nil {
		log.Fatal().Err(e).Msg("")
	}
}
