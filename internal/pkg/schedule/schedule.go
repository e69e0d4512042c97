package schedule

import (
	"fmt"
	"sync"

	"scrapeflow/internal/engine"
	"scrapeflow/internal/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Entry describes one recurring submission
type Entry struct {
	Name       string
	Spec       string
	Site       string
	URL        string
	Priority   string
	Parameters map[string]string
}

// Scheduler submits tasks to the engine on cron schedules. A full queue at
// fire time drops that occurrence with a warning rather than blocking the
// cron runner.
type Scheduler struct {
	cron   *cron.Cron
	engine *engine.Engine
	logger *logger.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewScheduler creates a stopped scheduler
func NewScheduler(eng *engine.Engine, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		engine:  eng,
		logger:  log,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a recurring submission. Names must be unique.
func (s *Scheduler) Add(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.Name]; exists {
		return fmt.Errorf("schedule entry already exists: %s", entry.Name)
	}

	id, err := s.cron.AddFunc(entry.Spec, func() { s.fire(entry) })
	if err != nil {
		return fmt.Errorf("invalid cron spec %q for %s: %w", entry.Spec, entry.Name, err)
	}

	s.entries[entry.Name] = id
	s.logger.Info("Schedule entry added",
		zap.String("name", entry.Name),
		zap.String("spec", entry.Spec),
		zap.String("site", entry.Site),
	)
	return nil
}

// Remove drops a recurring submission by name
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.entries[name]
	if !exists {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	return true
}

// Names lists registered entry names
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

// Start begins firing entries
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop halts firing; running fire callbacks finish first
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) fire(entry Entry) {
	task := engine.NewTask(entry.Site, entry.URL, entry.Parameters, engine.ParsePriority(entry.Priority))

	if err := s.engine.Submit(task); err != nil {
		s.logger.Warn("Scheduled submission dropped",
			zap.String("name", entry.Name),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Scheduled task submitted",
		zap.String("name", entry.Name),
		zap.String("task_id", task.ID),
	)
}
