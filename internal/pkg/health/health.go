package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates the component is healthy
	StatusUp Status = "UP"
	// StatusDown indicates the component is unhealthy
	StatusDown Status = "DOWN"
	// StatusDegraded indicates the component is partially healthy
	StatusDegraded Status = "DEGRADED"
)

// Result represents the result of one health check
type Result struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
	Error     string                 `json:"error,omitempty"`
}

// Provider is implemented by every checkable component
type Provider interface {
	Name() string
	Check(ctx context.Context) Result
}

// Response is the JSON body of the health endpoint
type Response struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Result  `json:"checks"`
}

// Service runs registered providers and aggregates their statuses. Overall
// status is UP only when every provider is UP; a single DOWN makes the
// whole service DOWN, anything else is DEGRADED.
type Service struct {
	mu        sync.RWMutex
	providers []Provider
	timeout   time.Duration
}

// NewService creates a health service with a per-check timeout
func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{timeout: timeout}
}

// RegisterProvider adds a provider to the check set
func (s *Service) RegisterProvider(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = append(s.providers, p)
}

// Check runs all providers and returns the aggregate
func (s *Service) Check(ctx context.Context) Response {
	s.mu.RLock()
	providers := make([]Provider, len(s.providers))
	copy(providers, s.providers)
	s.mu.RUnlock()

	overall := StatusUp
	results := make([]Result, 0, len(providers))
	for _, p := range providers {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		result := p.Check(checkCtx)
		cancel()

		results = append(results, result)
		switch result.Status {
		case StatusDown:
			overall = StatusDown
		case StatusDegraded:
			if overall == StatusUp {
				overall = StatusDegraded
			}
		}
	}

	return Response{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
	}
}
