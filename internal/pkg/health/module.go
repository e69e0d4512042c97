package health

import (
	"time"

	"scrapeflow/internal/engine"
	"scrapeflow/internal/pkg/config"

	"go.uber.org/fx"
)

// Module provides the health service for FX
var Module = fx.Module("health",
	fx.Provide(NewServiceFromConfig),
	fx.Invoke(registerProviders),
)

// NewServiceFromConfig creates the health service
func NewServiceFromConfig() *Service {
	return NewService(5 * time.Second)
}

func registerProviders(service *Service, eng *engine.Engine, cfg *config.Config) {
	service.RegisterProvider(NewEngineProvider(eng))
	service.RegisterProvider(NewQueueProvider(eng, cfg.Engine.QueueCapacity))
}
