package app

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/microsoft/amplifier-bundle-containers/internal/config"
	"github.com/microsoft/amplifier-bundle-containers/internal/manager"
)

// App wires the lifecycle manager from configuration and exposes the
// operation surface to the CLI.
type App struct {
	Manager *manager.Manager
	logger  zerolog.Logger
}

// New creates a new App by wiring up all dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	return &App{
		Manager: manager.New(cfg, logger),
		logger:  logger,
	}, nil
}

// Invoke runs one named operation with raw JSON parameters.
func (a *App) Invoke(ctx context.Context, op manager.Op, params json.RawMessage) (any, error) {
	a.logger.Debug().Str("op", string(op)).Msg("Dispatching operation")
	return a.Manager.Dispatch(ctx, op, params)
}
