package engine

import (
	"time"

	"scrapeflow/internal/pkg/config"
)

// Config holds the engine's tunables
type Config struct {
	// Workers is the fixed worker pool size
	Workers int

	// QueueCapacity bounds the pending task queue
	QueueCapacity int

	// EnqueueTimeout is how long a submit waits on a full queue before
	// reporting backpressure
	EnqueueTimeout time.Duration

	// DequeuePoll is the dispatch loop's dequeue wait
	DequeuePoll time.Duration

	// DefaultMaxRetries applies to tasks submitted without a retry budget
	DefaultMaxRetries int

	// Retention is how long finished tasks stay queryable
	Retention time.Duration

	// ShutdownTimeout bounds the graceful stop
	ShutdownTimeout time.Duration

	// CallbackBuffer sizes the callback event channel
	CallbackBuffer int

	// NavMaxAttempts bounds navigation retries per session connect/recover
	NavMaxAttempts int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:           3,
		QueueCapacity:     100,
		EnqueueTimeout:    5 * time.Second,
		DequeuePoll:       1 * time.Second,
		DefaultMaxRetries: 3,
		Retention:         time.Hour,
		ShutdownTimeout:   30 * time.Second,
		CallbackBuffer:    64,
		NavMaxAttempts:    3,
	}
}

// FromAppConfig maps the application configuration onto an engine Config
func FromAppConfig(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	if cfg.Engine.Workers > 0 {
		c.Workers = cfg.Engine.Workers
	}
	if cfg.Engine.QueueCapacity > 0 {
		c.QueueCapacity = cfg.Engine.QueueCapacity
	}
	if cfg.Engine.EnqueueTimeout > 0 {
		c.EnqueueTimeout = cfg.Engine.EnqueueTimeout
	}
	if cfg.Engine.DequeuePoll > 0 {
		c.DequeuePoll = cfg.Engine.DequeuePoll
	}
	if cfg.Engine.DefaultMaxRetries >= 0 {
		c.DefaultMaxRetries = cfg.Engine.DefaultMaxRetries
	}
	if cfg.Engine.Retention > 0 {
		c.Retention = cfg.Engine.Retention
	}
	if cfg.Engine.ShutdownTimeout > 0 {
		c.ShutdownTimeout = cfg.Engine.ShutdownTimeout
	}
	if cfg.Engine.CallbackBuffer > 0 {
		c.CallbackBuffer = cfg.Engine.CallbackBuffer
	}
	if cfg.Browser.NavMaxAttempts > 0 {
		c.NavMaxAttempts = cfg.Browser.NavMaxAttempts
	}
	return c
}
