package engine

import (
	"sync"

	"scrapeflow/internal/pkg/logger"

	"go.uber.org/zap"
)

// ProgressCallback observes task progress updates
type ProgressCallback func(task TaskView)

// CompletionCallback observes task finalization
type CompletionCallback func(task TaskView)

type callbackEvent struct {
	view       TaskView
	completion bool
}

// CallbackRegistry holds observer functions and invokes them on a dedicated
// dispatcher goroutine so a slow or broken callback never stalls the
// dispatch loop. Invocation order within one event follows registration
// order; a panicking callback is logged and swallowed.
type CallbackRegistry struct {
	mu         sync.RWMutex
	progress   []ProgressCallback
	completion []CompletionCallback

	events chan callbackEvent
	done   chan struct{}
	once   sync.Once
	logger *logger.Logger
}

// NewCallbackRegistry creates a registry with the given event buffer and
// starts its dispatcher
func NewCallbackRegistry(buffer int, log *logger.Logger) *CallbackRegistry {
	if buffer <= 0 {
		buffer = 64
	}
	r := &CallbackRegistry{
		events: make(chan callbackEvent, buffer),
		done:   make(chan struct{}),
		logger: log,
	}
	go r.dispatch()
	return r
}

// RegisterProgress adds a progress observer
func (r *CallbackRegistry) RegisterProgress(cb ProgressCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, cb)
}

// RegisterCompletion adds a completion observer
func (r *CallbackRegistry) RegisterCompletion(cb CompletionCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completion = append(r.completion, cb)
}

// NotifyProgress queues a progress event. Dropped with a warning when the
// buffer is full rather than blocking the caller. Callers must not notify
// after Close.
func (r *CallbackRegistry) NotifyProgress(view TaskView) {
	select {
	case r.events <- callbackEvent{view: view}:
	default:
		r.logger.Warn("Callback buffer full, dropping progress event",
			zap.String("task_id", view.ID))
	}
}

// NotifyCompletion queues a completion event
func (r *CallbackRegistry) NotifyCompletion(view TaskView) {
	select {
	case r.events <- callbackEvent{view: view, completion: true}:
	default:
		r.logger.Warn("Callback buffer full, dropping completion event",
			zap.String("task_id", view.ID))
	}
}

// Close stops the dispatcher after draining queued events
func (r *CallbackRegistry) Close() {
	r.once.Do(func() {
		close(r.events)
		<-r.done
	})
}

func (r *CallbackRegistry) dispatch() {
	defer close(r.done)

	for ev := range r.events {
		r.mu.RLock()
		var cbs []func(TaskView)
		if ev.completion {
			for _, cb := range r.completion {
				cbs = append(cbs, cb)
			}
		} else {
			for _, cb := range r.progress {
				cbs = append(cbs, cb)
			}
		}
		r.mu.RUnlock()

		for _, cb := range cbs {
			r.invoke(cb, ev.view)
		}
	}
}

func (r *CallbackRegistry) invoke(cb func(TaskView), view TaskView) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Callback panicked",
				zap.String("task_id", view.ID),
				zap.Any("panic", rec),
			)
		}
	}()
	cb(view)
}
