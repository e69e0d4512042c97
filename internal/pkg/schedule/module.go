package schedule

import (
	"context"

	"scrapeflow/internal/engine"
	"scrapeflow/internal/pkg/config"
	"scrapeflow/internal/pkg/logger"

	"go.uber.org/fx"
)

// Module provides the recurring submission scheduler for FX
var Module = fx.Module("schedule",
	fx.Provide(NewSchedulerFromConfig),
	fx.Invoke(registerHooks),
)

// NewSchedulerFromConfig builds the scheduler and loads configured entries
func NewSchedulerFromConfig(eng *engine.Engine, cfg *config.Config, log *logger.Logger) (*Scheduler, error) {
	s := NewScheduler(eng, log)
	for _, e := range cfg.Scheduler.Entries {
		err := s.Add(Entry{
			Name:       e.Name,
			Spec:       e.Spec,
			Site:       e.Site,
			URL:        e.URL,
			Priority:   e.Priority,
			Parameters: e.Parameters,
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func registerHooks(lc fx.Lifecycle, s *Scheduler, cfg *config.Config, log *logger.Logger) {
	if !cfg.Scheduler.Enabled {
		log.Info("Scheduler disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}
