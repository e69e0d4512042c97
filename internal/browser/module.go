package browser

import (
	"scrapeflow/internal/pkg/config"
	"scrapeflow/internal/pkg/logger"

	"go.uber.org/fx"
)

// Module provides the browser session factory for FX
var Module = fx.Module("browser",
	fx.Provide(NewFactoryFromConfig),
)

// NewFactoryFromConfig builds the HTTP-backed session factory from
// application configuration
func NewFactoryFromConfig(cfg *config.Config, log *logger.Logger) Factory {
	return NewFactory(cfg.Browser, log)
}
