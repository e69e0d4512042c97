package engine

import (
	"sync"
	"time"

	"scrapeflow/internal/pkg/errorsx"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Priority orders tasks in the queue. Higher values are served first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// ParsePriority maps a priority name to its Priority value, defaulting to normal
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// TaskError is one recorded execution failure. The errors list on a task
// is append-only.
type TaskError struct {
	Kind        errorsx.Kind `json:"kind"`
	Message     string       `json:"message"`
	Recoverable bool         `json:"recoverable"`
	Timestamp   time.Time    `json:"timestamp"`
}

// TaskMetrics accumulates per-task execution counters
type TaskMetrics struct {
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	PagesVisited     int       `json:"pages_visited"`
	ItemsExtracted   int       `json:"items_extracted"`
	FilesDownloaded  int       `json:"files_downloaded"`
	RetriesAttempted int       `json:"retries_attempted"`
}

// Task represents one scraping job. Identity fields are immutable after
// creation; mutable state is guarded by the task's own mutex because a task
// is touched concurrently by the executing worker, the engine, and callers
// cancelling or inspecting it.
type Task struct {
	ID         string
	Site       string
	URL        string
	Parameters map[string]string
	Priority   Priority
	CreatedAt  time.Time

	mu          sync.RWMutex
	status      Status
	updatedAt   time.Time
	scheduledAt time.Time
	retryCount  int
	maxRetries  int
	retriesSet  bool
	errors      []TaskError
	items       []map[string]string
	metrics     TaskMetrics
	cancelled   bool
}

// NewTask creates a task in the pending state
func NewTask(site, url string, params map[string]string, priority Priority) *Task {
	now := time.Now()
	return &Task{
		ID:         uuid.New().String(),
		Site:       site,
		URL:        url,
		Parameters: params,
		Priority:   priority,
		CreatedAt:  now,
		status:     StatusPending,
		updatedAt:  now,
		maxRetries: 3,
	}
}

// Status returns the current task status
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// SetStatus transitions the task. Transitions out of a terminal status are
// ignored so a completed or cancelled task can never move again.
func (t *Task) SetStatus(s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return false
	}
	t.status = s
	t.touch()
	return true
}

// Cancel marks the task cancelled. Returns false if the task already
// reached a terminal status, making repeated cancellation a no-op.
func (t *Task) Cancel() bool {
	_, ok := t.CancelWithStatus()
	return ok
}

// CancelWithStatus marks the task cancelled and returns the status it held
// at that exact moment, so callers can branch on queued-vs-running without
// racing a concurrent transition.
func (t *Task) CancelWithStatus() (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() || t.status == StatusFailed {
		return t.status, false
	}
	prior := t.status
	t.cancelled = true
	t.status = StatusCancelled
	t.touch()
	return prior, true
}

// IsCancelled reports whether cancellation was requested. Site modules poll
// this at safe points (between pages, before downloads) and abort early.
func (t *Task) IsCancelled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cancelled
}

// SetMaxRetries overrides the retry budget; negative values are ignored.
// Zero is a legitimate no-retries setting.
func (t *Task) SetMaxRetries(n int) {
	if n < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxRetries = n
	t.retriesSet = true
}

// applyDefaultMaxRetries installs the engine default unless the submitter
// chose an explicit budget via SetMaxRetries
func (t *Task) applyDefaultMaxRetries(n int) {
	if n < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.retriesSet {
		t.maxRetries = n
	}
}

// RetryCount returns the current retry attempt count
func (t *Task) RetryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retryCount
}

// MaxRetries returns the retry budget
func (t *Task) MaxRetries() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxRetries
}

// CanRetry reports whether the retry budget allows another attempt
func (t *Task) CanRetry() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retryCount < t.maxRetries
}

// IncrementRetry consumes one retry from the budget
func (t *Task) IncrementRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retryCount < t.maxRetries {
		t.retryCount++
		t.metrics.RetriesAttempted++
		t.touch()
	}
}

// RecordError appends a classified error to the task's error list
func (t *Task) RecordError(kind errorsx.Kind, message string, recoverable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = append(t.errors, TaskError{
		Kind:        kind,
		Message:     message,
		Recoverable: recoverable,
		Timestamp:   time.Now(),
	})
	t.touch()
}

// RecordFailure classifies err via errorsx and appends it
func (t *Task) RecordFailure(err error) {
	if err == nil {
		return
	}
	t.RecordError(errorsx.KindOf(err), err.Error(), errorsx.IsRecoverable(err))
}

// LastError returns the most recently recorded error, or nil
func (t *Task) LastError() *TaskError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.errors) == 0 {
		return nil
	}
	e := t.errors[len(t.errors)-1]
	return &e
}

// Errors returns a copy of the recorded errors
func (t *Task) Errors() []TaskError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TaskError, len(t.errors))
	copy(out, t.errors)
	return out
}

// AddItem appends one extracted item
func (t *Task) AddItem(item map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, item)
	t.metrics.ItemsExtracted++
	t.touch()
}

// Items returns a copy of the extracted items
func (t *Task) Items() []map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]map[string]string, len(t.items))
	copy(out, t.items)
	return out
}

// MarkStarted stamps the execution start time
func (t *Task) MarkStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.StartTime = time.Now()
	t.touch()
}

// MarkEnded stamps the execution end time
func (t *Task) MarkEnded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.EndTime = time.Now()
	t.touch()
}

// AddPageVisited bumps the pages-visited counter
func (t *Task) AddPageVisited() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.PagesVisited++
	t.touch()
}

// AddFileDownloaded bumps the files-downloaded counter
func (t *Task) AddFileDownloaded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.FilesDownloaded++
	t.touch()
}

// Metrics returns a copy of the task metrics
func (t *Task) Metrics() TaskMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metrics
}

// SetScheduledAt records when the task is due to run
func (t *Task) SetScheduledAt(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduledAt = at
	t.touch()
}

// UpdatedAt returns the last mutation timestamp
func (t *Task) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updatedAt
}

// touch advances updatedAt monotonically; callers must hold t.mu
func (t *Task) touch() {
	now := time.Now()
	if now.After(t.updatedAt) {
		t.updatedAt = now
	}
}

// TaskView is an immutable snapshot of a task, safe to hand to callbacks
// and serialize in API responses.
type TaskView struct {
	ID          string              `json:"id"`
	Site        string              `json:"site"`
	URL         string              `json:"url"`
	Parameters  map[string]string   `json:"parameters,omitempty"`
	Priority    string              `json:"priority"`
	Status      Status              `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	ScheduledAt time.Time           `json:"scheduled_at,omitempty"`
	RetryCount  int                 `json:"retry_count"`
	MaxRetries  int                 `json:"max_retries"`
	Errors      []TaskError         `json:"errors,omitempty"`
	Items       []map[string]string `json:"items,omitempty"`
	Metrics     TaskMetrics         `json:"metrics"`
}

// Snapshot captures the task state under the lock
func (t *Task) Snapshot() TaskView {
	t.mu.RLock()
	defer t.mu.RUnlock()

	errs := make([]TaskError, len(t.errors))
	copy(errs, t.errors)
	items := make([]map[string]string, len(t.items))
	copy(items, t.items)

	return TaskView{
		ID:          t.ID,
		Site:        t.Site,
		URL:         t.URL,
		Parameters:  t.Parameters,
		Priority:    t.Priority.String(),
		Status:      t.status,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.updatedAt,
		ScheduledAt: t.scheduledAt,
		RetryCount:  t.retryCount,
		MaxRetries:  t.maxRetries,
		Errors:      errs,
		Items:       items,
		Metrics:     t.metrics,
	}
}
