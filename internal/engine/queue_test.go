package engine

import (
	"testing"
	"time"
)

func newTestQueue(capacity int, timeout time.Duration) *TaskQueue {
	return NewTaskQueue(capacity, timeout)
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := newTestQueue(10, time.Second)

	t1 := NewTask("site", "https://example.com/1", nil, PriorityNormal)
	t2 := NewTask("site", "https://example.com/2", nil, PriorityHigh)
	t3 := NewTask("site", "https://example.com/3", nil, PriorityLow)

	if !q.Enqueue(t1) || !q.Enqueue(t2) || !q.Enqueue(t3) {
		t.Fatal("enqueue failed on non-full queue")
	}

	want := []string{t2.ID, t1.ID, t3.ID}
	for i, id := range want {
		got := q.Dequeue(time.Second)
		if got == nil {
			t.Fatalf("dequeue %d returned nil", i)
		}
		if got.ID != id {
			t.Errorf("dequeue %d: got task %s, want %s", i, got.ID, id)
		}
	}
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := newTestQueue(10, time.Second)

	var ids []string
	for i := 0; i < 5; i++ {
		task := NewTask("site", "https://example.com", nil, PriorityNormal)
		ids = append(ids, task.ID)
		if !q.Enqueue(task) {
			t.Fatal("enqueue failed")
		}
	}

	for i, id := range ids {
		got := q.Dequeue(time.Second)
		if got == nil || got.ID != id {
			t.Errorf("position %d: expected %s", i, id)
		}
	}
}

func TestQueueBackpressure(t *testing.T) {
	q := newTestQueue(2, 50*time.Millisecond)

	if !q.Enqueue(NewTask("site", "https://example.com", nil, PriorityNormal)) {
		t.Fatal("first enqueue failed")
	}
	if !q.Enqueue(NewTask("site", "https://example.com", nil, PriorityNormal)) {
		t.Fatal("second enqueue failed")
	}

	start := time.Now()
	if q.Enqueue(NewTask("site", "https://example.com", nil, PriorityNormal)) {
		t.Fatal("enqueue on full queue should fail")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("enqueue returned before timeout: %v", elapsed)
	}

	if q.Size() != 2 {
		t.Errorf("queue size changed after rejected enqueue: %d", q.Size())
	}
}

func TestQueueEnqueueUnblocksOnDequeue(t *testing.T) {
	q := newTestQueue(1, time.Second)
	q.Enqueue(NewTask("site", "https://example.com", nil, PriorityNormal))

	done := make(chan bool)
	go func() {
		done <- q.Enqueue(NewTask("site", "https://example.com", nil, PriorityNormal))
	}()

	time.Sleep(20 * time.Millisecond)
	if q.Dequeue(time.Second) == nil {
		t.Fatal("dequeue returned nil")
	}

	select {
	case ok := <-done:
		if !ok {
			t.Error("blocked enqueue should succeed after a slot opened")
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue stayed blocked after dequeue")
	}
}

func TestQueueDropsCancelledTasks(t *testing.T) {
	q := newTestQueue(10, time.Second)

	cancelled := NewTask("site", "https://example.com/1", nil, PriorityHigh)
	alive := NewTask("site", "https://example.com/2", nil, PriorityNormal)

	q.Enqueue(cancelled)
	q.Enqueue(alive)
	cancelled.Cancel()

	got := q.Dequeue(time.Second)
	if got == nil || got.ID != alive.ID {
		t.Error("cancelled task should be skipped at dequeue")
	}
	if q.Size() != 0 {
		t.Errorf("queue should be empty, size %d", q.Size())
	}
}

func TestQueueDequeueTimeout(t *testing.T) {
	q := newTestQueue(10, time.Second)

	start := time.Now()
	if got := q.Dequeue(50 * time.Millisecond); got != nil {
		t.Fatal("dequeue on empty queue should return nil")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("dequeue returned before timeout: %v", elapsed)
	}
}

func TestQueueClose(t *testing.T) {
	q := newTestQueue(10, time.Second)
	q.Close()

	if q.Enqueue(NewTask("site", "https://example.com", nil, PriorityNormal)) {
		t.Error("enqueue should fail on closed queue")
	}
	if q.Dequeue(10*time.Millisecond) != nil {
		t.Error("dequeue on closed empty queue should return nil")
	}
}

func TestQueueRetryLosesOriginalPosition(t *testing.T) {
	q := newTestQueue(10, time.Second)

	first := NewTask("site", "https://example.com/1", nil, PriorityNormal)
	q.Enqueue(first)
	got := q.Dequeue(time.Second)
	if got.ID != first.ID {
		t.Fatal("unexpected dequeue")
	}

	// Another task arrives while the first is executing; the retry of the
	// first must wait behind it
	second := NewTask("site", "https://example.com/2", nil, PriorityNormal)
	q.Enqueue(second)
	q.Enqueue(first)

	if got := q.Dequeue(time.Second); got.ID != second.ID {
		t.Error("re-enqueued task should not reclaim its original position")
	}
	if got := q.Dequeue(time.Second); got.ID != first.ID {
		t.Error("re-enqueued task should come out after newer work")
	}
}
