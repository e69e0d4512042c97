package engine

import (
	"errors"
	"testing"

	"scrapeflow/internal/pkg/errorsx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycle(t *testing.T) {
	task := NewTask("docs", "https://example.com", map[string]string{"q": "x"}, PriorityHigh)

	assert.Equal(t, StatusPending, task.Status())
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, 3, task.MaxRetries())

	assert.True(t, task.SetStatus(StatusQueued))
	assert.True(t, task.SetStatus(StatusInProgress))
	assert.True(t, task.SetStatus(StatusCompleted))

	// Terminal status blocks all further transitions
	assert.False(t, task.SetStatus(StatusFailed))
	assert.Equal(t, StatusCompleted, task.Status())
}

func TestTaskCancelIdempotent(t *testing.T) {
	task := NewTask("docs", "https://example.com", nil, PriorityNormal)

	require.True(t, task.Cancel())
	assert.Equal(t, StatusCancelled, task.Status())
	assert.True(t, task.IsCancelled())

	// Second cancel is a no-op
	assert.False(t, task.Cancel())
}

func TestTaskCancelAfterTerminal(t *testing.T) {
	completed := NewTask("docs", "https://example.com", nil, PriorityNormal)
	completed.SetStatus(StatusCompleted)
	assert.False(t, completed.Cancel())
	assert.False(t, completed.IsCancelled())

	failed := NewTask("docs", "https://example.com", nil, PriorityNormal)
	failed.SetStatus(StatusFailed)
	assert.False(t, failed.Cancel())
}

func TestTaskRetryBudget(t *testing.T) {
	task := NewTask("docs", "https://example.com", nil, PriorityNormal)
	task.SetMaxRetries(2)

	require.True(t, task.CanRetry())
	task.IncrementRetry()
	require.True(t, task.CanRetry())
	task.IncrementRetry()
	assert.False(t, task.CanRetry())

	// Increments beyond the budget are ignored
	task.IncrementRetry()
	assert.Equal(t, 2, task.RetryCount())
	assert.Equal(t, 2, task.Metrics().RetriesAttempted)
}

func TestTaskRecordFailure(t *testing.T) {
	task := NewTask("docs", "https://example.com", nil, PriorityNormal)

	task.RecordFailure(errorsx.WithKind(errorsx.KindNetwork,
		errorsx.WrapRecoverable(errors.New("connection reset"))))

	last := task.LastError()
	require.NotNil(t, last)
	assert.Equal(t, errorsx.KindNetwork, last.Kind)
	assert.True(t, last.Recoverable)

	task.RecordFailure(errorsx.WithKind(errorsx.KindAuth,
		errorsx.WrapPermanent(errors.New("forbidden"))))
	assert.Len(t, task.Errors(), 2)
	assert.False(t, task.LastError().Recoverable)
}

func TestTaskSnapshot(t *testing.T) {
	task := NewTask("docs", "https://example.com", nil, PriorityUrgent)
	task.SetStatus(StatusInProgress)
	task.AddItem(map[string]string{"title": "a"})
	task.AddItem(map[string]string{"title": "b"})
	task.AddPageVisited()
	task.AddFileDownloaded()

	view := task.Snapshot()
	assert.Equal(t, task.ID, view.ID)
	assert.Equal(t, "urgent", view.Priority)
	assert.Equal(t, StatusInProgress, view.Status)
	assert.Len(t, view.Items, 2)
	assert.Equal(t, 2, view.Metrics.ItemsExtracted)
	assert.Equal(t, 1, view.Metrics.PagesVisited)
	assert.Equal(t, 1, view.Metrics.FilesDownloaded)

	// The snapshot is detached from later mutations
	task.AddItem(map[string]string{"title": "c"})
	assert.Len(t, view.Items, 2)
}

func TestTaskUpdatedAtMonotonic(t *testing.T) {
	task := NewTask("docs", "https://example.com", nil, PriorityNormal)
	first := task.UpdatedAt()
	task.SetStatus(StatusQueued)
	second := task.UpdatedAt()
	assert.False(t, second.Before(first))
}
