package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"jobmate/pipeline-service/internal/scheduler"
)

// Processor handles one task. Returning an error schedules a retry until the
// task's attempts are exhausted.
type Processor func(ctx context.Context, t Task) error

// DefaultPollInterval is how often an idle worker checks its queue.
const DefaultPollInterval = time.Second

// DefaultStallTimeout is how long a reservation may stay active before
// another process treats its worker as dead and requeues the task. Tasks
// running longer than this can run twice.
const DefaultStallTimeout = 30 * time.Minute

type worker struct {
	queue       string
	concurrency int
	process     Processor
	processed   atomic.Int64
	failed      atomic.Int64
	retried     atomic.Int64
}

// Manager owns the queue workers and the recurring entries. It is built
// explicitly and passed to the producers that need it.
type Manager struct {
	broker Broker
	sched  *scheduler.Scheduler
	poll   time.Duration
	stall  time.Duration
	now    func() time.Time
	log    *slog.Logger

	mu          sync.Mutex
	workers     map[string]*worker
	order       []string
	initialized bool
	stopped     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPollInterval sets the idle poll period of every worker.
func WithPollInterval(d time.Duration) ManagerOption { return func(m *Manager) { m.poll = d } }

// WithScheduler drives recurring entries through s instead of a private one.
func WithScheduler(s *scheduler.Scheduler) ManagerOption { return func(m *Manager) { m.sched = s } }

// WithStallTimeout overrides DefaultStallTimeout.
func WithStallTimeout(d time.Duration) ManagerOption { return func(m *Manager) { m.stall = d } }

// WithClock overrides the time source used for delays, backoff, leases and
// completion stamps.
func WithClock(now func() time.Time) ManagerOption { return func(m *Manager) { m.now = now } }

// NewManager returns an idle Manager over broker.
func NewManager(broker Broker, opts ...ManagerOption) *Manager {
	m := &Manager{
		broker:  broker,
		poll:    DefaultPollInterval,
		stall:   DefaultStallTimeout,
		now:     time.Now,
		log:     slog.With("component", "queue"),
		workers: make(map[string]*worker),
	}
	for _, o := range opts {
		o(m)
	}
	if m.sched == nil {
		m.sched = scheduler.New()
	}
	if m.stall <= 0 {
		m.stall = DefaultStallTimeout
	}
	return m
}

// Register attaches the single worker of queue. It must be called before
// Initialize.
func (m *Manager) Register(queue string, concurrency int, p Processor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[queue]; ok {
		return fmt.Errorf("%w: %s", ErrWorkerRegistered, queue)
	}
	if m.initialized {
		return fmt.Errorf("register %s: manager already initialized", queue)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	m.workers[queue] = &worker{queue: queue, concurrency: concurrency, process: p}
	m.order = append(m.order, queue)
	return nil
}

// Queues lists registered queue names in registration order.
func (m *Manager) Queues() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func (m *Manager) lookup(queue string) (*worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[queue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	return w, nil
}

// Add enqueues payload on queue and returns the task id. With opts.JobID set
// and a task of that id already stored, Add is a no-op returning the id.
func (m *Manager) Add(ctx context.Context, queue, name string, payload any, opts Options) (string, error) {
	if _, err := m.lookup(queue); err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	opts = opts.withDefaults()

	now := m.now()
	t := Task{
		ID:               opts.JobID,
		Queue:            queue,
		Name:             name,
		Payload:          raw,
		MaxAttempts:      opts.Attempts,
		Backoff:          *opts.Backoff,
		RemoveOnComplete: opts.RemoveOnComplete,
		RunAt:            now.Add(opts.Delay),
		CreatedAt:        now,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	added, err := m.broker.Add(ctx, t)
	if err != nil {
		return "", fmt.Errorf("add %s/%s: %w", queue, name, err)
	}
	if added {
		m.log.Debug("task added", "queue", queue, "name", name, "task_id", t.ID, "delay", opts.Delay)
	}
	return t.ID, nil
}

// AddRepeatable registers a recurring enqueue of payload every opts.Repeat
// under the idempotency key opts.JobID, and enqueues the first run now.
// Registering a key that already exists is a no-op reporting false. Each
// firing uses the id "<key>:<slot>" so concurrent processes firing the same
// slot store it once.
func (m *Manager) AddRepeatable(ctx context.Context, queue, name string, payload any, opts Options) (bool, error) {
	if opts.JobID == "" {
		return false, errors.New("repeatable task needs a JobID")
	}
	if opts.Repeat <= 0 {
		return false, errors.New("repeatable task needs a positive Repeat interval")
	}
	if _, err := m.lookup(queue); err != nil {
		return false, err
	}

	key := queue + ":" + opts.JobID
	every := opts.Repeat
	fire := func(fctx context.Context) {
		o := opts
		o.Repeat = 0
		o.JobID = opts.JobID + ":" + strconv.FormatInt(m.now().Truncate(every).UnixMilli(), 10)
		if _, err := m.Add(fctx, queue, name, payload, o); err != nil {
			m.log.Warn("repeat enqueue failed", "key", key, "err", err)
		}
	}

	added, err := m.sched.Every(key, every, func() { fire(context.Background()) })
	if err != nil || !added {
		return false, err
	}
	fire(ctx)
	return true, nil
}

// Remove deletes a task that has not been picked up yet.
func (m *Manager) Remove(ctx context.Context, queue, id string) error {
	if _, err := m.lookup(queue); err != nil {
		return err
	}
	return m.broker.Remove(ctx, queue, id)
}

// Status reports counts, metrics and health for every registered queue. A
// broker failure on one queue is reported in that queue's Error field.
func (m *Manager) Status(ctx context.Context) []QueueStatus {
	m.mu.Lock()
	workers := make([]*worker, 0, len(m.order))
	for _, q := range m.order {
		workers = append(workers, m.workers[q])
	}
	m.mu.Unlock()

	out := make([]QueueStatus, 0, len(workers))
	for _, w := range workers {
		st := QueueStatus{Name: w.queue, Concurrency: w.concurrency}
		counts, err := m.broker.Counts(ctx, w.queue)
		if err != nil {
			st.Error = err.Error()
			out = append(out, st)
			continue
		}
		st.Counts = &counts
		st.Metrics = &Metrics{
			Processed: w.processed.Load(),
			Failed:    w.failed.Load(),
			Retried:   w.retried.Load(),
		}
		st.Health = Classify(counts)
		out = append(out, st)
	}
	return out
}

// RecoverStalled requeues tasks whose lease is older than the stall timeout
// on every registered queue and returns how many moved.
func (m *Manager) RecoverStalled(ctx context.Context) (int, error) {
	staleBefore := m.now().Add(-m.stall)
	total := 0
	for _, q := range m.Queues() {
		n, err := m.broker.Recover(ctx, q, staleBefore)
		if err != nil {
			return total, fmt.Errorf("recover %s: %w", q, err)
		}
		if n > 0 {
			m.log.Warn("stalled tasks returned to waiting", "queue", q, "count", n)
		}
		total += n
	}
	return total, nil
}

// Initialize recovers stalled tasks, starts the recurring entries (including
// the periodic stall sweep) and launches every worker. Calling it again is a
// no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	if _, err := m.RecoverStalled(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	if _, err := m.sched.Every("queue:stalled", m.stall/2, func() {
		if _, err := m.RecoverStalled(context.Background()); err != nil {
			m.log.Warn("stall sweep failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule stall sweep: %w", err)
	}

	if err := m.sched.Start(); err != nil {
		if !errors.Is(err, scheduler.ErrLocked) {
			return err
		}
		m.log.Warn("recurring entries driven by another process", "err", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	for _, q := range m.order {
		w := m.workers[q]
		for i := 0; i < w.concurrency; i++ {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.run(runCtx, w)
			}()
		}
		m.log.Info("worker started", "queue", q, "concurrency", w.concurrency)
	}
	m.initialized = true
	return nil
}

// Shutdown stops polling, waits for in-flight tasks until ctx expires and
// closes the broker. Tasks in flight are never cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.initialized || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.sched.Stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("queue shutdown: %w", ctx.Err())
	}
	m.log.Info("workers stopped")
	return m.broker.Close()
}

// run is one worker slot's poll loop.
func (m *Manager) run(ctx context.Context, w *worker) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		m.drain(ctx, w)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) drain(ctx context.Context, w *worker) {
	for ctx.Err() == nil {
		if _, err := m.broker.Promote(ctx, w.queue, m.now()); err != nil {
			m.log.Warn("promote failed", "queue", w.queue, "err", err)
		}
		t, err := m.broker.Reserve(ctx, w.queue, m.now())
		if err != nil {
			m.log.Warn("reserve failed", "queue", w.queue, "err", err)
			return
		}
		if t == nil {
			return
		}
		// once picked up, a task runs to completion even during shutdown
		m.execute(context.WithoutCancel(ctx), w, *t)
	}
}

func (m *Manager) execute(ctx context.Context, w *worker, t Task) {
	log := m.log.With("queue", t.Queue, "task_id", t.ID, "name", t.Name, "attempt", t.Attempts)
	start := time.Now()

	err := safeProcess(ctx, w.process, t)
	if err == nil {
		w.processed.Add(1)
		t.FinishedAt = m.now()
		if err := m.broker.Complete(ctx, t); err != nil {
			log.Error("complete failed", "err", err)
		}
		log.Info("task completed", "duration", time.Since(start))
		return
	}

	if t.CanRetry() {
		w.retried.Add(1)
		wait := t.Backoff.Next(t.Attempts)
		if rerr := m.broker.Retry(ctx, t, m.now().Add(wait), err.Error()); rerr != nil {
			log.Error("retry failed", "err", rerr)
		}
		log.Warn("task failed, will retry", "err", err, "retry_in", wait)
		return
	}

	w.failed.Add(1)
	t.FinishedAt = m.now()
	if ferr := m.broker.Fail(ctx, t, err.Error()); ferr != nil {
		log.Error("fail failed", "err", ferr)
	}
	log.Error("task failed permanently", "err", err, "attempts", t.Attempts)
}

func safeProcess(ctx context.Context, p Processor, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p(ctx, t)
}
