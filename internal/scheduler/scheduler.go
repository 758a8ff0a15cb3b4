package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/norish-recipes/norish-sub000/pkg/log"
)

// Scheduler runs named cron entries.
type Scheduler struct {
	cron   *cron.Cron
	logger log.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a stopped scheduler. Specs use the standard 5-field cron syntax
// with an optional leading seconds field.
func New(logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.NewLogger()
	}
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		logger:  logger.WithComponent("scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Register installs fn under name. An existing entry with the same name is
// removed first; registration is idempotent across restarts and reloads.
func (s *Scheduler) Register(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old)
		delete(s.entries, name)
	}
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("scheduler: register %s: %w", name, err)
	}
	s.entries[name] = id
	s.logger.Info("schedule registered", log.Str("name", name), log.Str("spec", spec))
	return nil
}

// Names returns the registered entry names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

// Start begins firing entries.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running entries, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
