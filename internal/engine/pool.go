package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WorkerInfo is the bookkeeping record for one pool slot. Each slot's record
// is written only by the worker occupying it and read through Snapshot.
type WorkerInfo struct {
	ID            string    `json:"id"`
	CurrentTaskID string    `json:"current_task_id,omitempty"`
	Completed     int64     `json:"completed"`
	Failed        int64     `json:"failed"`
	LastActivity  time.Time `json:"last_activity"`
}

// WorkerPool bounds task concurrency to a fixed number of slots. Acquiring
// a slot blocks while all slots are busy.
type WorkerPool struct {
	size  int
	slots chan int

	mu    sync.RWMutex
	infos []WorkerInfo
}

// NewWorkerPool allocates a pool with the given number of slots
func NewWorkerPool(size int) (*WorkerPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("worker pool size must be positive, got %d", size)
	}

	p := &WorkerPool{
		size:  size,
		slots: make(chan int, size),
		infos: make([]WorkerInfo, size),
	}
	for i := 0; i < size; i++ {
		p.infos[i] = WorkerInfo{ID: fmt.Sprintf("worker-%d", i+1)}
		p.slots <- i
	}
	return p, nil
}

// Size returns the number of slots
func (p *WorkerPool) Size() int {
	return p.size
}

// Acquire blocks until a slot is free or ctx is done
func (p *WorkerPool) Acquire(ctx context.Context) (int, error) {
	select {
	case slot := <-p.slots:
		return slot, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Release returns a slot to the pool
func (p *WorkerPool) Release(slot int) {
	p.slots <- slot
}

// Busy returns the number of occupied slots
func (p *WorkerPool) Busy() int {
	return p.size - len(p.slots)
}

// SetCurrent records the task a slot is executing
func (p *WorkerPool) SetCurrent(slot int, taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infos[slot].CurrentTaskID = taskID
	p.infos[slot].LastActivity = time.Now()
}

// ClearCurrent empties the slot's current task and records the outcome.
// Retried and cancelled attempts count toward neither tally.
func (p *WorkerPool) ClearCurrent(slot int, outcome Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infos[slot].CurrentTaskID = ""
	p.infos[slot].LastActivity = time.Now()
	switch outcome {
	case StatusCompleted:
		p.infos[slot].Completed++
	case StatusFailed:
		p.infos[slot].Failed++
	}
}

// Snapshot returns a copy of all worker records
func (p *WorkerPool) Snapshot() []WorkerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]WorkerInfo, len(p.infos))
	copy(out, p.infos)
	return out
}
