// Package scheduler wraps robfig/cron and runs keyed recurring callbacks.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
)

// ErrLocked is returned by Start when another process on this host holds the
// lock file.
var ErrLocked = errors.New("scheduler lock held by another process")

// Scheduler wraps robfig/cron. Each entry is identified by a caller key and
// registered at most once.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	lock    *flock.Flock
	running bool
	log     *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLockFile makes Start take an exclusive flock on path so only one
// process per host drives the recurring entries.
func WithLockFile(path string) Option {
	return func(s *Scheduler) {
		if path != "" {
			s.lock = flock.New(path)
		}
	}
}

// New creates an idle Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		entries: make(map[string]cron.EntryID),
		log:     slog.With("component", "scheduler"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Every registers fn to fire each interval under key. It reports false and
// does nothing when key is already registered.
func (s *Scheduler) Every(key string, interval time.Duration, fn func()) (bool, error) {
	if interval <= 0 {
		return false, fmt.Errorf("interval must be positive, got %s", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	spec := fmt.Sprintf("@every %s", interval)
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return false, fmt.Errorf("cron.AddFunc: %w", err)
	}
	s.entries[key] = id
	s.log.Info("entry registered", "key", key, "spec", spec)
	return true, nil
}

// Has reports whether key is registered.
func (s *Scheduler) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Len is the number of registered entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start begins firing entries. With a lock file configured it fails with
// ErrLocked when another process already drives them.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.lock != nil {
		ok, err := s.lock.TryLock()
		if err != nil {
			return fmt.Errorf("scheduler lock: %w", err)
		}
		if !ok {
			return ErrLocked
		}
	}
	s.cron.Start()
	s.running = true
	s.log.Info("cron started", "entries", len(s.entries))
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for running callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("scheduler unlock failed", "err", err)
		}
	}
	s.log.Info("cron stopped")
}
