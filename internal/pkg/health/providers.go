package health

import (
	"context"
	"time"

	"scrapeflow/internal/engine"
)

// EngineProvider reports the engine lifecycle state. Running and Paused are
// healthy, Idle is degraded, Error and Stopping are down.
type EngineProvider struct {
	eng *engine.Engine
}

// NewEngineProvider wraps the engine as a health provider
func NewEngineProvider(eng *engine.Engine) *EngineProvider {
	return &EngineProvider{eng: eng}
}

func (p *EngineProvider) Name() string { return "engine" }

func (p *EngineProvider) Check(ctx context.Context) Result {
	state := p.eng.State()
	metrics := p.eng.GetMetrics()

	status := StatusUp
	switch state {
	case engine.StateIdle:
		status = StatusDegraded
	case engine.StateError, engine.StateStopping:
		status = StatusDown
	}

	return Result{
		Name:      p.Name(),
		Status:    status,
		CheckedAt: time.Now(),
		Details: map[string]interface{}{
			"state":           string(state),
			"tasks_completed": metrics.TasksCompleted,
			"tasks_failed":    metrics.TasksFailed,
			"tasks_in_flight": metrics.TasksInProgress,
			"uptime":          metrics.Uptime.String(),
		},
	}
}

// QueueProvider reports queue saturation. A queue at capacity is degraded
// since submissions are hitting backpressure.
type QueueProvider struct {
	eng      *engine.Engine
	capacity int
}

// NewQueueProvider wraps the task queue as a health provider
func NewQueueProvider(eng *engine.Engine, capacity int) *QueueProvider {
	return &QueueProvider{eng: eng, capacity: capacity}
}

func (p *QueueProvider) Name() string { return "task_queue" }

func (p *QueueProvider) Check(ctx context.Context) Result {
	size := p.eng.QueueSize()

	status := StatusUp
	if p.capacity > 0 && size >= p.capacity {
		status = StatusDegraded
	}

	return Result{
		Name:      p.Name(),
		Status:    status,
		CheckedAt: time.Now(),
		Details: map[string]interface{}{
			"size":     size,
			"capacity": p.capacity,
		},
	}
}
