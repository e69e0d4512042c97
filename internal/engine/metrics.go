package engine

import (
	"sync/atomic"
	"time"
)

// EngineMetrics is a point-in-time aggregate of engine activity
type EngineMetrics struct {
	TasksCompleted  int64         `json:"tasks_completed"`
	TasksFailed     int64         `json:"tasks_failed"`
	TasksCancelled  int64         `json:"tasks_cancelled"`
	TasksQueued     int64         `json:"tasks_queued"`
	TasksInProgress int64         `json:"tasks_in_progress"`
	TotalRetries    int64         `json:"total_retries"`
	TotalTime       time.Duration `json:"total_time"`
	AvgTaskTime     time.Duration `json:"avg_task_time"`
	SuccessRate     float64       `json:"success_rate"`
	StartedAt       time.Time     `json:"started_at"`
	Uptime          time.Duration `json:"uptime"`
}

// MetricsCollector aggregates counters across the engine lifetime. All
// increments are atomic so workers can update concurrently.
type MetricsCollector struct {
	completed  atomic.Int64
	failed     atomic.Int64
	cancelled  atomic.Int64
	queued     atomic.Int64
	inProgress atomic.Int64
	retries    atomic.Int64
	totalNanos atomic.Int64
	startedAt  atomic.Int64 // unix nanos, zero until the engine starts
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// MarkStarted records the engine start time
func (m *MetricsCollector) MarkStarted(at time.Time) {
	m.startedAt.Store(at.UnixNano())
}

// TaskQueued bumps the queued gauge
func (m *MetricsCollector) TaskQueued() {
	m.queued.Add(1)
}

// TaskDequeued drops the queued gauge, never below zero
func (m *MetricsCollector) TaskDequeued() {
	if m.queued.Add(-1) < 0 {
		m.queued.Store(0)
	}
}

// TaskStarted bumps the in-progress gauge
func (m *MetricsCollector) TaskStarted() {
	m.inProgress.Add(1)
}

// TaskCompleted finalizes a successful execution
func (m *MetricsCollector) TaskCompleted(duration time.Duration) {
	m.inProgress.Add(-1)
	m.completed.Add(1)
	m.totalNanos.Add(int64(duration))
}

// TaskFailed finalizes a failed execution
func (m *MetricsCollector) TaskFailed(duration time.Duration) {
	m.inProgress.Add(-1)
	m.failed.Add(1)
	m.totalNanos.Add(int64(duration))
}

// TaskCancelled finalizes a cancelled task; wasRunning distinguishes a task
// cancelled mid-execution from one dropped while still queued
func (m *MetricsCollector) TaskCancelled(wasRunning bool) {
	if wasRunning {
		m.inProgress.Add(-1)
	}
	m.cancelled.Add(1)
}

// TaskAbandoned finalizes an in-flight task dropped at shutdown
func (m *MetricsCollector) TaskAbandoned() {
	m.inProgress.Add(-1)
	m.failed.Add(1)
}

// TaskRetried records an execution attempt that ended in a retry; the
// attempt leaves the in-progress gauge without counting as failed
func (m *MetricsCollector) TaskRetried() {
	m.inProgress.Add(-1)
	m.retries.Add(1)
}

// Snapshot derives the read-side aggregate
func (m *MetricsCollector) Snapshot() EngineMetrics {
	completed := m.completed.Load()
	failed := m.failed.Load()
	total := time.Duration(m.totalNanos.Load())

	var successRate float64
	if completed+failed > 0 {
		successRate = float64(completed) / float64(completed+failed)
	}

	var avg time.Duration
	if completed > 0 {
		avg = total / time.Duration(completed)
	}

	var startedAt time.Time
	var uptime time.Duration
	if nanos := m.startedAt.Load(); nanos > 0 {
		startedAt = time.Unix(0, nanos)
		uptime = time.Since(startedAt)
	}

	return EngineMetrics{
		TasksCompleted:  completed,
		TasksFailed:     failed,
		TasksCancelled:  m.cancelled.Load(),
		TasksQueued:     m.queued.Load(),
		TasksInProgress: m.inProgress.Load(),
		TotalRetries:    m.retries.Load(),
		TotalTime:       total,
		AvgTaskTime:     avg,
		SuccessRate:     successRate,
		StartedAt:       startedAt,
		Uptime:          uptime,
	}
}
