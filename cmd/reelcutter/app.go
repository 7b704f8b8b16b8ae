package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/keagan/reelcutter/internal/config"
	"github.com/keagan/reelcutter/internal/logging"
	"github.com/keagan/reelcutter/internal/pipeline"
	"github.com/keagan/reelcutter/internal/runner"
	"github.com/keagan/reelcutter/internal/store"
)

// app bundles the long lived pieces shared by the commands
type app struct {
	cfg    *config.Config
	pipe   *pipeline.Pipeline
	ledger *store.Store
	runner *runner.Runner
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pipe, err := pipeline.New(ctx, log.Logger, cfg, pipeline.Deps{})
	if err != nil {
		return nil, err
	}

	ledger, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		pipe.Close()
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	logger := logging.WithComponent("cli")
	if n, err := ledger.FailStale(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to reset interrupted runs")
	} else if n > 0 {
		logger.Warn().Int64("runs", n).Str("ledger", ledger.Path()).Msg("marked interrupted runs as failed")
	}

	return &app{
		cfg:    cfg,
		pipe:   pipe,
		ledger: ledger,
		runner: runner.New(log.Logger, pipe, ledger, runner.Options{
			OutputDir: cfg.OutputDir,
			WriteDocx: cfg.Captions.WriteDocx,
		}),
	}, nil
}

func (a *app) Close() {
	a.runner.Wait()
	if err := a.pipe.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to release pipeline resources")
	}
	if err := a.ledger.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close run ledger")
	}
}
