package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scrapeflow/internal/browser"
	"scrapeflow/internal/pkg/errorsx"
	"scrapeflow/internal/pkg/logger"

	"go.uber.org/zap"
)

// State is the engine lifecycle state
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateError    State = "error"
)

var (
	// ErrNotAccepting is returned by Submit outside Running/Paused
	ErrNotAccepting = errors.New("engine not accepting work")
	// ErrQueueFull is the backpressure signal to submitters
	ErrQueueFull = errors.New("task queue full")
	// ErrStartup marks an unrecoverable startup failure
	ErrStartup = errors.New("engine startup failed")
)

// EngineStatus is a point-in-time view of the whole engine
type EngineStatus struct {
	State     State         `json:"state"`
	Metrics   EngineMetrics `json:"metrics"`
	Workers   []WorkerInfo  `json:"workers"`
	QueueSize int           `json:"queue_size"`
	Sites     []string      `json:"sites"`
}

// taskRecord tracks one known task from submission until retention eviction.
// The dequeued flag makes the queue-departure accounting exactly-once: the
// dispatch loop and Cancel can both believe they pulled the task out, but
// only the first to flip the flag adjusts the queued gauge.
type taskRecord struct {
	task       *Task
	controller *browser.RecoveryController
	finalized  bool
	dequeued   bool
	finishedAt time.Time
}

// Engine owns the task queue, the worker pool, the lifecycle state machine,
// and the retry policy. Construct one per process and pass it explicitly.
type Engine struct {
	config    Config
	logger    *logger.Logger
	sessions  browser.Factory
	registry  *Registry
	queue     *TaskQueue
	metrics   *MetricsCollector
	callbacks *CallbackRegistry

	mu        sync.RWMutex
	state     State
	pool      *WorkerPool
	stopCh    chan struct{}
	resumeCh  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc

	dispatchWG sync.WaitGroup
	inflightWG sync.WaitGroup

	tasksMu sync.Mutex
	tasks   map[string]*taskRecord
}

// New creates an engine in the idle state
func New(config Config, sessions browser.Factory, registry *Registry, log *logger.Logger) *Engine {
	return &Engine{
		config:    config,
		logger:    log,
		sessions:  sessions,
		registry:  registry,
		queue:     NewTaskQueue(config.QueueCapacity, config.EnqueueTimeout),
		metrics:   NewMetricsCollector(),
		callbacks: NewCallbackRegistry(config.CallbackBuffer, log),
		state:     StateIdle,
		tasks:     make(map[string]*taskRecord),
	}
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Start allocates the worker pool and launches the dispatch loop. Calling
// Start on a running engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning, StatePaused:
		e.logger.Debug("Engine already running, start ignored")
		return nil
	case StateStopping:
		return fmt.Errorf("engine is stopping")
	}

	pool, err := NewWorkerPool(e.config.Workers)
	if err != nil {
		e.state = StateError
		e.logger.Error("Failed to allocate worker pool", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStartup, err)
	}

	e.pool = pool
	e.stopCh = make(chan struct{})
	e.resumeCh = nil
	e.runCtx, e.runCancel = context.WithCancel(context.Background())
	e.state = StateRunning
	e.metrics.MarkStarted(time.Now())

	e.dispatchWG.Add(1)
	go e.dispatchLoop()

	e.logger.Info("Engine started",
		zap.Int("workers", e.config.Workers),
		zap.Int("queue_capacity", e.config.QueueCapacity),
	)
	return nil
}

// Pause stops new dequeues without disturbing tasks in flight. Valid only
// while Running; otherwise a logged no-op.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		e.logger.Warn("Pause ignored", zap.String("state", string(e.state)))
		return
	}
	e.state = StatePaused
	e.resumeCh = make(chan struct{})
	e.logger.Info("Engine paused")
}

// Resume releases a paused dispatch loop. Valid only while Paused.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		e.logger.Warn("Resume ignored", zap.String("state", string(e.state)))
		return
	}
	e.state = StateRunning
	if e.resumeCh != nil {
		close(e.resumeCh)
		e.resumeCh = nil
	}
	e.logger.Info("Engine resumed")
}

// Stop signals shutdown and waits up to timeout for in-flight tasks to
// finish cooperatively. Tasks still running after the timeout are
// abandoned: their sessions are force-closed and they finalize FAILED.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StatePaused {
		e.logger.Warn("Stop ignored", zap.String("state", string(e.state)))
		e.mu.Unlock()
		return nil
	}
	e.state = StateStopping
	if e.resumeCh != nil {
		close(e.resumeCh)
		e.resumeCh = nil
	}
	stopCh := e.stopCh
	cancel := e.runCancel
	e.mu.Unlock()

	e.logger.Info("Engine stopping", zap.Duration("timeout", timeout))
	close(stopCh)
	e.dispatchWG.Wait()

	done := make(chan struct{})
	go func() {
		e.inflightWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("All in-flight tasks finished")
	case <-time.After(timeout):
		e.logger.Warn("Stop timeout exceeded, abandoning in-flight tasks")
		cancel()
		e.abandonInflight()
		// Workers unwind quickly once their context is cancelled and
		// their session is gone
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			e.logger.Error("Workers failed to unwind after abandonment")
		}
	}

	cancel()

	e.mu.Lock()
	e.state = StateIdle
	e.mu.Unlock()

	e.logger.Info("Engine stopped")
	return nil
}

// Shutdown stops the engine and tears down the callback dispatcher. The
// engine cannot be restarted afterwards.
func (e *Engine) Shutdown(timeout time.Duration) error {
	err := e.Stop(timeout)
	e.callbacks.Close()
	return err
}

// abandonInflight force-closes sessions of unfinished tasks and finalizes
// them FAILED with a non-recoverable shutdown error
func (e *Engine) abandonInflight() {
	e.tasksMu.Lock()
	var abandoned []*taskRecord
	for _, rec := range e.tasks {
		if !rec.finalized && rec.task.Status() == StatusInProgress {
			abandoned = append(abandoned, rec)
		}
	}
	e.tasksMu.Unlock()

	for _, rec := range abandoned {
		if rec.controller != nil {
			_ = rec.controller.Close()
		}
		rec.task.RecordError(errorsx.KindShutdown, "engine shutdown", false)
		rec.task.SetStatus(StatusFailed)
		if e.tryFinalize(rec.task.ID) {
			e.metrics.TaskAbandoned()
			e.callbacks.NotifyCompletion(rec.task.Snapshot())
			e.logger.Warn("Task abandoned at shutdown", zap.String("task_id", rec.task.ID))
		}
	}
}

// Submit enqueues a task. Valid only while Running or Paused; a full queue
// surfaces as ErrQueueFull with no lasting side effect.
func (e *Engine) Submit(task *Task) error {
	e.mu.RLock()
	state := e.state
	e.mu.RUnlock()
	if state != StateRunning && state != StatePaused {
		return ErrNotAccepting
	}

	task.applyDefaultMaxRetries(e.config.DefaultMaxRetries)

	e.tasksMu.Lock()
	e.tasks[task.ID] = &taskRecord{task: task}
	e.tasksMu.Unlock()

	if !e.queue.Enqueue(task) {
		e.tasksMu.Lock()
		delete(e.tasks, task.ID)
		e.tasksMu.Unlock()
		return ErrQueueFull
	}

	// A cancel that lands mid-submit already finalized the task; the queue
	// drops it silently at dequeue time, so it never counts as queued
	if task.SetStatus(StatusQueued) {
		e.metrics.TaskQueued()
		e.callbacks.NotifyProgress(task.Snapshot())
	}

	e.logger.Debug("Task submitted",
		zap.String("task_id", task.ID),
		zap.String("site", task.Site),
		zap.String("priority", task.Priority.String()),
	)
	return nil
}

// SubmitBulk submits tasks in order, reporting per-task acceptance
func (e *Engine) SubmitBulk(tasks []*Task) map[string]bool {
	out := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		out[task.ID] = e.Submit(task) == nil
	}
	return out
}

// GetStatus returns the status of a known task
func (e *Engine) GetStatus(id string) (Status, bool) {
	e.tasksMu.Lock()
	rec, ok := e.tasks[id]
	e.tasksMu.Unlock()
	if !ok {
		return "", false
	}
	return rec.task.Status(), true
}

// GetTask returns a snapshot of a known task
func (e *Engine) GetTask(id string) (TaskView, bool) {
	e.tasksMu.Lock()
	rec, ok := e.tasks[id]
	e.tasksMu.Unlock()
	if !ok {
		return TaskView{}, false
	}
	return rec.task.Snapshot(), true
}

// Cancel requests cancellation of a task. Queued tasks finalize
// immediately and are dropped at dequeue time; in-progress tasks abort
// cooperatively at their next safe point. Cancelling a finished task is a
// no-op returning false.
func (e *Engine) Cancel(id string) bool {
	e.tasksMu.Lock()
	rec, ok := e.tasks[id]
	e.tasksMu.Unlock()
	if !ok {
		return false
	}

	prior, ok := rec.task.CancelWithStatus()
	if !ok {
		return false
	}

	// A task not yet handed to a worker finalizes here; the queue drops it
	// silently at dequeue time. markDequeued arbitrates with the dispatch
	// loop so the queued gauge is adjusted exactly once, and a Pending task
	// was never counted queued in the first place.
	if prior != StatusInProgress && e.markDequeued(id) {
		if prior != StatusPending {
			e.metrics.TaskDequeued()
		}
		if e.tryFinalize(id) {
			e.metrics.TaskCancelled(false)
			e.callbacks.NotifyCompletion(rec.task.Snapshot())
		}
	}

	e.logger.Info("Task cancelled",
		zap.String("task_id", id),
		zap.String("prior_status", string(prior)),
	)
	return true
}

// GetMetrics returns the aggregate engine metrics
func (e *Engine) GetMetrics() EngineMetrics {
	return e.metrics.Snapshot()
}

// Status returns a full engine snapshot
func (e *Engine) Status() EngineStatus {
	e.mu.RLock()
	state := e.state
	pool := e.pool
	e.mu.RUnlock()

	var workers []WorkerInfo
	if pool != nil {
		workers = pool.Snapshot()
	}

	return EngineStatus{
		State:     state,
		Metrics:   e.metrics.Snapshot(),
		Workers:   workers,
		QueueSize: e.queue.Size(),
		Sites:     e.registry.Sites(),
	}
}

// OnProgress registers a progress observer
func (e *Engine) OnProgress(cb ProgressCallback) {
	e.callbacks.RegisterProgress(cb)
}

// OnCompletion registers a completion observer
func (e *Engine) OnCompletion(cb CompletionCallback) {
	e.callbacks.RegisterCompletion(cb)
}

// QueueSize returns the number of queued tasks
func (e *Engine) QueueSize() int {
	return e.queue.Size()
}

// dispatchLoop is the single supervisory loop feeding the worker pool
func (e *Engine) dispatchLoop() {
	defer e.dispatchWG.Done()

	// Slot acquisition must unblock on stop even while every worker is
	// busy, so it waits on a context tied to the stop signal
	acquireCtx, cancelAcquire := context.WithCancel(e.runCtx)
	defer cancelAcquire()
	go func() {
		<-e.stopCh
		cancelAcquire()
	}()

	janitor := time.NewTicker(time.Minute)
	defer janitor.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-janitor.C:
			e.evictExpired()
		default:
		}

		e.mu.RLock()
		state := e.state
		resumeCh := e.resumeCh
		e.mu.RUnlock()

		if state == StatePaused {
			select {
			case <-resumeCh:
			case <-e.stopCh:
				return
			}
			continue
		}

		task := e.queue.Dequeue(e.config.DequeuePoll)
		if task == nil {
			continue
		}
		if e.markDequeued(task.ID) {
			e.metrics.TaskDequeued()
		}

		if task.IsCancelled() {
			// Cancelled after the queue's own drop check; Cancel
			// already finalized it
			continue
		}

		slot, err := e.pool.Acquire(acquireCtx)
		if err != nil {
			// Shutting down; the task goes back on the queue for a
			// future start
			e.requeueOrAbandon(task)
			return
		}

		select {
		case <-e.stopCh:
			e.pool.Release(slot)
			e.requeueOrAbandon(task)
			return
		default:
		}

		e.inflightWG.Add(1)
		go e.runTask(slot, task)
	}
}

// runTask executes one task attempt on a pool slot
func (e *Engine) runTask(slot int, task *Task) {
	defer e.inflightWG.Done()
	defer e.pool.Release(slot)

	log := e.logger.With(
		zap.String("task_id", task.ID),
		zap.String("site", task.Site),
		zap.Int("retry", task.RetryCount()),
	)

	if task.IsCancelled() {
		e.finalizeCancelled(task, false)
		return
	}

	task.SetStatus(StatusInProgress)
	task.MarkStarted()
	e.metrics.TaskStarted()
	e.pool.SetCurrent(slot, task.ID)
	e.callbacks.NotifyProgress(task.Snapshot())
	log.Info("Task execution started")

	execErr := e.execute(task, log)

	task.MarkEnded()
	m := task.Metrics()
	duration := m.EndTime.Sub(m.StartTime)

	e.applyRetryPolicy(task, execErr, duration, slot, log)
}

// execute resolves the site module, prepares a recovery-managed session,
// and invokes the module. A module panic becomes a recoverable error.
func (e *Engine) execute(task *Task, log *logger.Logger) error {
	module, err := e.registry.Create(task.Site)
	if err != nil {
		return errorsx.WithKind(errorsx.KindUnsupported, errorsx.WrapPermanent(err))
	}

	rc, err := browser.NewRecoveryController(e.sessions, task.URL, e.config.NavMaxAttempts, e.logger)
	if err != nil {
		return err
	}
	e.setController(task.ID, rc)
	defer e.setController(task.ID, nil)
	defer rc.Close()

	if err := rc.Connect(e.runCtx); err != nil {
		log.Warn("Session connect failed", zap.Error(err))
		return err
	}

	rc.ResetAttempt()
	return e.invokeModule(module, task, rc)
}

func (e *Engine) invokeModule(module SiteModule, task *Task, rc *browser.RecoveryController) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Site module panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
			)
			err = errorsx.WrapRecoverable(fmt.Errorf("site module panic: %v", r))
		}
	}()
	return module.Execute(e.runCtx, task, rc)
}

// applyRetryPolicy routes one finished execution attempt: finalize
// completed/cancelled, re-enqueue recoverable failures with retry budget
// left, finalize the rest as failed
func (e *Engine) applyRetryPolicy(task *Task, execErr error, duration time.Duration, slot int, log *logger.Logger) {
	if task.IsCancelled() {
		e.pool.ClearCurrent(slot, StatusCancelled)
		e.finalizeCancelled(task, true)
		log.Info("Task cancelled during execution")
		return
	}

	if execErr == nil {
		task.SetStatus(StatusCompleted)
		e.pool.ClearCurrent(slot, StatusCompleted)
		if e.tryFinalize(task.ID) {
			e.metrics.TaskCompleted(duration)
			e.callbacks.NotifyCompletion(task.Snapshot())
		}
		log.Info("Task completed",
			zap.Duration("duration", duration),
			zap.Int("items", task.Metrics().ItemsExtracted),
		)
		return
	}

	task.RecordFailure(execErr)
	recoverable := errorsx.IsRecoverable(execErr)

	if recoverable && task.CanRetry() {
		task.IncrementRetry()
		task.SetStatus(StatusRetry)
		e.pool.ClearCurrent(slot, StatusRetry)
		e.metrics.TaskRetried()
		e.callbacks.NotifyProgress(task.Snapshot())
		log.Warn("Task attempt failed, retrying",
			zap.Error(execErr),
			zap.Int("retry", task.RetryCount()),
			zap.Int("max_retries", task.MaxRetries()),
		)

		// Re-enqueued with a fresh ordering timestamp: a retry waits
		// its turn behind equal-priority work already queued
		e.markRequeued(task.ID)
		if e.queue.Enqueue(task) {
			e.metrics.TaskQueued()
			if !task.SetStatus(StatusQueued) && task.IsCancelled() {
				// Cancelled in the hand-off window; the queue drops
				// it silently, so settle its accounting here
				if e.markDequeued(task.ID) {
					e.metrics.TaskDequeued()
				}
				e.finalizeCancelled(task, false)
			}
			return
		}
		task.RecordError(errorsx.KindUnknown, "re-enqueue failed: queue full", false)
	}

	task.SetStatus(StatusFailed)
	e.pool.ClearCurrent(slot, StatusFailed)
	if e.tryFinalize(task.ID) {
		e.metrics.TaskFailed(duration)
		e.callbacks.NotifyCompletion(task.Snapshot())
	}
	log.Error("Task failed",
		zap.Error(execErr),
		zap.Bool("recoverable", recoverable),
		zap.Int("retry", task.RetryCount()),
	)
}

func (e *Engine) finalizeCancelled(task *Task, wasRunning bool) {
	if e.tryFinalize(task.ID) {
		e.metrics.TaskCancelled(wasRunning)
		e.callbacks.NotifyCompletion(task.Snapshot())
	}
}

// requeueOrAbandon returns a dequeued-but-unassigned task to the queue at
// shutdown. If the queue refuses it the task would otherwise be stranded
// QUEUED forever, so it finalizes FAILED with a shutdown error instead.
func (e *Engine) requeueOrAbandon(task *Task) {
	e.markRequeued(task.ID)
	if e.queue.Enqueue(task) {
		e.metrics.TaskQueued()
		return
	}

	task.RecordError(errorsx.KindShutdown, "engine shutdown: queue full on re-enqueue", false)
	task.SetStatus(StatusFailed)
	if e.tryFinalize(task.ID) {
		e.metrics.TaskAbandoned()
		e.callbacks.NotifyCompletion(task.Snapshot())
		e.logger.Warn("Task dropped at shutdown, queue full", zap.String("task_id", task.ID))
	}
}

// markDequeued flips a record's dequeued flag, reporting whether this
// caller is the one that took the task off the queue
func (e *Engine) markDequeued(id string) bool {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	rec, ok := e.tasks[id]
	if !ok || rec.dequeued {
		return false
	}
	rec.dequeued = true
	return true
}

// markRequeued clears the dequeued flag before a task re-enters the queue
func (e *Engine) markRequeued(id string) {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	if rec, ok := e.tasks[id]; ok {
		rec.dequeued = false
	}
}

// tryFinalize marks a record finalized exactly once
func (e *Engine) tryFinalize(id string) bool {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	rec, ok := e.tasks[id]
	if !ok || rec.finalized {
		return false
	}
	rec.finalized = true
	rec.finishedAt = time.Now()
	return true
}

func (e *Engine) setController(id string, rc *browser.RecoveryController) {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	if rec, ok := e.tasks[id]; ok {
		rec.controller = rc
	}
}

// evictExpired drops finalized tasks older than the retention window
func (e *Engine) evictExpired() {
	cutoff := time.Now().Add(-e.config.Retention)

	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	for id, rec := range e.tasks {
		if rec.finalized && rec.finishedAt.Before(cutoff) {
			delete(e.tasks, id)
		}
	}
}
