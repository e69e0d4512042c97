package engine

import (
	"context"

	"scrapeflow/internal/browser"
	"scrapeflow/internal/pkg/config"
	"scrapeflow/internal/pkg/logger"

	"go.uber.org/fx"
)

// Module provides the engine for FX
var Module = fx.Module("engine",
	fx.Provide(
		NewRegistry,
		NewEngineFromConfig,
	),
	fx.Invoke(registerHooks),
)

// Params holds the dependencies for creating the engine
type Params struct {
	fx.In

	Config   *config.Config
	Sessions browser.Factory
	Registry *Registry
	Logger   *logger.Logger
}

// NewEngineFromConfig creates the engine from application configuration
func NewEngineFromConfig(p Params) *Engine {
	return New(FromAppConfig(p.Config), p.Sessions, p.Registry, p.Logger)
}

// registerHooks ties the engine lifecycle to the FX application lifecycle
func registerHooks(lc fx.Lifecycle, eng *Engine, cfg *config.Config, log *logger.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Engine module starting")
			return eng.Start()
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Engine module stopping")
			return eng.Shutdown(cfg.Engine.ShutdownTimeout)
		},
	})
}
