package scraper

import (
	"scrapeflow/internal/browser"
	"scrapeflow/internal/engine"
	"scrapeflow/internal/pkg/config"
	"scrapeflow/internal/pkg/health"
	"scrapeflow/internal/pkg/logger"
	"scrapeflow/internal/pkg/schedule"
	"scrapeflow/internal/pkg/server"
	"scrapeflow/internal/sites"

	"go.uber.org/fx"
)

// App provides all scraper service dependencies including infrastructure
var App = fx.Options(
	// Infrastructure modules
	config.Module,
	logger.Module,
	server.Module,

	// Scraping stack
	browser.Module,
	engine.Module,
	sites.Module,
	health.Module,
	schedule.Module,

	// Service components
	fx.Provide(
		NewTokenService,
		NewHandler,
	),

	// Register routes
	fx.Invoke(registerRoutes),
)

// registerRoutes registers scraper routes on the Echo server
func registerRoutes(srv *server.Server, handler *Handler, tokens *TokenService, cfg *config.Config) {
	RegisterRoutes(srv.GetEcho(), handler, tokens, cfg)
}
