package engine

import (
	"container/heap"
	"sync"
	"time"
)

// queueItem pairs a task with its ordering key. The ordering timestamp is
// assigned at enqueue time, so a retried task competes as if newly
// submitted rather than reclaiming its original queue position.
type queueItem struct {
	task       *Task
	enqueuedAt time.Time
	seq        uint64
}

// taskHeap orders by priority descending, then enqueue time ascending,
// then sequence number so equal-timestamp submissions stay FIFO.
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	if !h[i].enqueuedAt.Equal(h[j].enqueuedAt) {
		return h[i].enqueuedAt.Before(h[j].enqueuedAt)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// TaskQueue is a bounded, thread-safe priority queue. Enqueue blocks up to
// the configured timeout when the queue is at capacity, which is the
// engine's backpressure signal to submitters.
type TaskQueue struct {
	mu             sync.Mutex
	notFull        *sync.Cond
	notEmpty       *sync.Cond
	items          taskHeap
	capacity       int
	enqueueTimeout time.Duration
	seq            uint64
	closed         bool
}

// NewTaskQueue creates a bounded priority queue
func NewTaskQueue(capacity int, enqueueTimeout time.Duration) *TaskQueue {
	if capacity <= 0 {
		capacity = 100
	}
	if enqueueTimeout <= 0 {
		enqueueTimeout = 5 * time.Second
	}
	q := &TaskQueue{
		capacity:       capacity,
		enqueueTimeout: enqueueTimeout,
		items:          make(taskHeap, 0, capacity),
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue inserts a task, blocking up to the enqueue timeout when full.
// Returns false when the queue stayed full for the whole timeout or is closed.
func (q *TaskQueue) Enqueue(task *Task) bool {
	deadline := time.Now().Add(q.enqueueTimeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.capacity && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		q.timedWait(q.notFull, remaining)
	}
	if q.closed {
		return false
	}

	q.seq++
	heap.Push(&q.items, &queueItem{
		task:       task,
		enqueuedAt: time.Now(),
		seq:        q.seq,
	})
	q.notEmpty.Signal()
	return true
}

// Dequeue removes the highest-priority task, waiting up to timeout for one
// to arrive. Tasks cancelled while queued are silently dropped. Returns nil
// on timeout or when the queue is closed and drained.
func (q *TaskQueue) Dequeue(timeout time.Duration) *Task {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for len(q.items) == 0 {
			if q.closed {
				return nil
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil
			}
			q.timedWait(q.notEmpty, remaining)
		}

		item := heap.Pop(&q.items).(*queueItem)
		q.notFull.Signal()

		if item.task.Status() == StatusCancelled {
			continue
		}
		return item.task
	}
}

// Size returns the number of queued tasks, safe from any goroutine
func (q *TaskQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns all queued tasks. Used during shutdown.
func (q *TaskQueue) Drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Task, 0, len(q.items))
	for len(q.items) > 0 {
		item := heap.Pop(&q.items).(*queueItem)
		out = append(out, item.task)
	}
	q.notFull.Broadcast()
	return out
}

// Close wakes all blocked producers and consumers; subsequent enqueues fail
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// timedWait waits on cond but no longer than d. The caller must hold q.mu.
// A background timer broadcasts to break the wait on expiry; spurious
// wakeups are handled by the callers' loops.
func (q *TaskQueue) timedWait(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		cond.Broadcast()
	})
	defer timer.Stop()
	cond.Wait()
}
