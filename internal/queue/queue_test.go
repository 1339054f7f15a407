package queue

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *Backoff { return &Backoff{Type: BackoffFixed, Delay: time.Millisecond} }

func newTestManager(t *testing.T, b Broker) *Manager {
	t.Helper()
	m := NewManager(b, WithPollInterval(5*time.Millisecond))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

// ── Backoff ──────────────────────────────────────────────────────────────

func TestBackoffNext(t *testing.T) {
	exp := Backoff{Type: BackoffExponential, Delay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, exp.Next(1))
	assert.Equal(t, 10*time.Second, exp.Next(2))
	assert.Equal(t, 20*time.Second, exp.Next(3))
	assert.Equal(t, 5*time.Second, exp.Next(0))

	fixed := Backoff{Type: BackoffFixed, Delay: time.Second}
	assert.Equal(t, time.Second, fixed.Next(1))
	assert.Equal(t, time.Second, fixed.Next(4))
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultAttempts, o.Attempts)
	require.NotNil(t, o.Backoff)
	assert.Equal(t, BackoffExponential, o.Backoff.Type)
	assert.Equal(t, DefaultBackoffDelay, o.Backoff.Delay)
	assert.Equal(t, DefaultRemoveOnComplete, o.RemoveOnComplete)
}

// ── Health ───────────────────────────────────────────────────────────────

func TestClassify(t *testing.T) {
	assert.Equal(t, HealthHealthy, Classify(Counts{}))
	assert.Equal(t, HealthHealthy, Classify(Counts{Waiting: BacklogThreshold}))
	assert.Equal(t, HealthBacklog, Classify(Counts{Waiting: BacklogThreshold + 1}))
	assert.Equal(t, HealthAttention, Classify(Counts{Failed: 1, Waiting: 500}))
}

// ── Registration ─────────────────────────────────────────────────────────

func TestRegisterTwiceFails(t *testing.T) {
	m := newTestManager(t, NewMemoryBroker())
	noop := func(context.Context, Task) error { return nil }
	require.NoError(t, m.Register("scraping", 2, noop))
	err := m.Register("scraping", 1, noop)
	assert.ErrorIs(t, err, ErrWorkerRegistered)
}

func TestAddUnknownQueue(t *testing.T) {
	m := newTestManager(t, NewMemoryBroker())
	_, err := m.Add(context.Background(), "nope", "x", nil, Options{})
	assert.ErrorIs(t, err, ErrUnknownQueue)
}

func TestInitializeIsIdempotent(t *testing.T) {
	m := newTestManager(t, NewMemoryBroker())
	var calls atomic.Int32
	require.NoError(t, m.Register("q", 1, func(context.Context, Task) error {
		calls.Add(1)
		return nil
	}))
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Initialize(ctx))

	_, err := m.Add(ctx, "q", "once", nil, Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

// ── Processing ───────────────────────────────────────────────────────────

func TestAddDeduplicatesByJobID(t *testing.T) {
	b := NewMemoryBroker()
	m := newTestManager(t, b)
	require.NoError(t, m.Register("q", 1, func(context.Context, Task) error { return nil }))
	ctx := context.Background()

	id1, err := m.Add(ctx, "q", "a", map[string]string{"k": "v"}, Options{JobID: "fixed", Delay: time.Hour})
	require.NoError(t, err)
	id2, err := m.Add(ctx, "q", "a", map[string]string{"k": "v"}, Options{JobID: "fixed", Delay: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, "fixed", id1)
	assert.Equal(t, id1, id2)

	c, err := b.Counts(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.Delayed)
}

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	b := NewMemoryBroker()
	m := newTestManager(t, b)
	var calls atomic.Int32
	require.NoError(t, m.Register("q", 1, func(context.Context, Task) error {
		calls.Add(1)
		return errors.New("board unreachable")
	}))
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	_, err := m.Add(ctx, "q", "doomed", nil, Options{Attempts: 3, Backoff: fastRetry()})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(b.Failed("q")) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 3, calls.Load())

	failed := b.Failed("q")[0]
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, "board unreachable", failed.FailedReason)

	st := m.Status(ctx)
	require.Len(t, st, 1)
	assert.EqualValues(t, 1, st[0].Metrics.Failed)
	assert.EqualValues(t, 2, st[0].Metrics.Retried)
	assert.Equal(t, HealthAttention, st[0].Health)
}

func TestRetryThenSucceed(t *testing.T) {
	b := NewMemoryBroker()
	m := newTestManager(t, b)
	var calls atomic.Int32
	require.NoError(t, m.Register("q", 1, func(context.Context, Task) error {
		if calls.Add(1) < 2 {
			return errors.New("flaky")
		}
		return nil
	}))
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	_, err := m.Add(ctx, "q", "flaky", nil, Options{Backoff: fastRetry()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c, _ := b.Counts(ctx, "q")
		return c.Completed == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, b.Failed("q"))
}

func TestPanicCountsAsFailure(t *testing.T) {
	b := NewMemoryBroker()
	m := newTestManager(t, b)
	require.NoError(t, m.Register("q", 1, func(context.Context, Task) error { panic("boom") }))
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	_, err := m.Add(ctx, "q", "p", nil, Options{Attempts: 1})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(b.Failed("q")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, b.Failed("q")[0].FailedReason, "boom")
}

func TestConcurrencyIsBounded(t *testing.T) {
	b := NewMemoryBroker()
	m := newTestManager(t, b)
	var (
		inFlight, peak atomic.Int32
		done           sync.WaitGroup
	)
	require.NoError(t, m.Register("q", 2, func(context.Context, Task) error {
		defer done.Done()
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}))
	ctx := context.Background()
	done.Add(6)
	for range 6 {
		_, err := m.Add(ctx, "q", "work", nil, Options{})
		require.NoError(t, err)
	}
	require.NoError(t, m.Initialize(ctx))
	done.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPayloadDecodes(t *testing.T) {
	m := newTestManager(t, NewMemoryBroker())
	got := make(chan string, 1)
	require.NoError(t, m.Register("q", 1, func(_ context.Context, task Task) error {
		var p struct{ Query string }
		if err := task.Decode(&p); err != nil {
			return err
		}
		got <- p.Query
		return nil
	}))
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	_, err := m.Add(ctx, "q", "scrape", map[string]string{"Query": "golang"}, Options{})
	require.NoError(t, err)

	select {
	case q := <-got:
		assert.Equal(t, "golang", q)
	case <-time.After(time.Second):
		t.Fatal("task not processed")
	}
}

// ── Removal ──────────────────────────────────────────────────────────────

func TestRemoveOnlyBeforePickup(t *testing.T) {
	b := NewMemoryBroker()
	m := newTestManager(t, b)
	release := make(chan struct{})
	started := make(chan string, 1)
	require.NoError(t, m.Register("q", 1, func(_ context.Context, task Task) error {
		started <- task.ID
		<-release
		return nil
	}))
	ctx := context.Background()

	delayed, err := m.Add(ctx, "q", "later", nil, Options{Delay: time.Hour})
	require.NoError(t, err)
	require.NoError(t, m.Remove(ctx, "q", delayed))
	assert.ErrorIs(t, m.Remove(ctx, "q", delayed), ErrNotPending)

	running, err := m.Add(ctx, "q", "now", nil, Options{})
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))
	assert.Equal(t, running, <-started)
	assert.ErrorIs(t, m.Remove(ctx, "q", running), ErrNotPending)
	close(release)
}

// ── Recurring ────────────────────────────────────────────────────────────

func TestAddRepeatableRegistersKeyOnce(t *testing.T) {
	b := NewMemoryBroker()
	m := newTestManager(t, b)
	require.NoError(t, m.Register("scraping", 1, func(context.Context, Task) error { return nil }))
	ctx := context.Background()
	opts := Options{JobID: "default:golang:remote", Repeat: 45 * time.Minute}

	added, err := m.AddRepeatable(ctx, "scraping", "scrape", nil, opts)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = m.AddRepeatable(ctx, "scraping", "scrape", nil, opts)
	require.NoError(t, err)
	assert.False(t, added)

	c, err := b.Counts(ctx, "scraping")
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.Waiting, "first run is enqueued once")
}

func TestAddRepeatableValidates(t *testing.T) {
	m := newTestManager(t, NewMemoryBroker())
	require.NoError(t, m.Register("q", 1, func(context.Context, Task) error { return nil }))
	ctx := context.Background()

	_, err := m.AddRepeatable(ctx, "q", "x", nil, Options{Repeat: time.Minute})
	assert.Error(t, err)
	_, err = m.AddRepeatable(ctx, "q", "x", nil, Options{JobID: "k"})
	assert.Error(t, err)
	_, err = m.AddRepeatable(ctx, "other", "x", nil, Options{JobID: "k", Repeat: time.Minute})
	assert.ErrorIs(t, err, ErrUnknownQueue)
}

// ── Status ───────────────────────────────────────────────────────────────

type brokenCounts struct{ *MemoryBroker }

func (brokenCounts) Counts(context.Context, string) (Counts, error) {
	return Counts{}, errors.New("connection refused")
}

func TestStatusReportsBrokerError(t *testing.T) {
	m := newTestManager(t, brokenCounts{NewMemoryBroker()})
	require.NoError(t, m.Register("q", 3, func(context.Context, Task) error { return nil }))

	st := m.Status(context.Background())
	require.Len(t, st, 1)
	assert.Equal(t, "q", st[0].Name)
	assert.Equal(t, 3, st[0].Concurrency)
	assert.Nil(t, st[0].Counts)
	assert.Contains(t, st[0].Error, "connection refused")
}

func TestRecoverOnlyTakesExpiredLeases(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"old", "fresh"} {
		_, err := b.Add(ctx, Task{ID: id, Queue: "q", MaxAttempts: 3, CreatedAt: t0, RunAt: t0})
		require.NoError(t, err)
	}
	_, err := b.Reserve(ctx, "q", t0)
	require.NoError(t, err)
	_, err = b.Reserve(ctx, "q", t0.Add(time.Hour))
	require.NoError(t, err)

	n, err := b.Recover(ctx, "q", t0)
	require.NoError(t, err)
	assert.Zero(t, n, "a lease reserved at the cutoff is still live")

	n, err = b.Recover(ctx, "q", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	c, _ := b.Counts(ctx, "q")
	assert.EqualValues(t, 1, c.Waiting)
	assert.EqualValues(t, 1, c.Active)

	got, err := b.Reserve(ctx, "q", t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "old", got.ID)
	assert.Equal(t, 2, got.Attempts)
}

func TestInitializeLeavesLiveLeasesAlone(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	now := time.Now()
	_, err := b.Add(ctx, Task{ID: "busy", Queue: "q", MaxAttempts: 3, CreatedAt: now, RunAt: now})
	require.NoError(t, err)
	_, err = b.Reserve(ctx, "q", now)
	require.NoError(t, err)

	m := newTestManager(t, b)
	var calls atomic.Int32
	require.NoError(t, m.Register("q", 1, func(context.Context, Task) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, m.Initialize(ctx))
	time.Sleep(30 * time.Millisecond)

	assert.Zero(t, calls.Load())
	c, _ := b.Counts(ctx, "q")
	assert.EqualValues(t, 1, c.Active)
}

func TestManagerClockDrivesDelayAndFinish(t *testing.T) {
	frozen := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewMemoryBroker()
	m := NewManager(b, WithPollInterval(5*time.Millisecond), WithClock(func() time.Time { return frozen }))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	require.NoError(t, m.Register("q", 1, func(context.Context, Task) error { return errors.New("boom") }))
	ctx := context.Background()

	// an hour past the frozen clock is in the wall-clock past, yet still delayed
	_, err := m.Add(ctx, "q", "later", nil, Options{Delay: time.Hour})
	require.NoError(t, err)
	c, err := b.Counts(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.Delayed)
	assert.EqualValues(t, 0, c.Waiting)

	_, err = m.Add(ctx, "q", "now", nil, Options{Attempts: 1})
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))

	require.Eventually(t, func() bool { return len(b.Failed("q")) == 1 }, time.Second, 5*time.Millisecond)
	failed := b.Failed("q")[0]
	assert.Equal(t, "now", failed.Name)
	assert.Equal(t, frozen, failed.FinishedAt)
	assert.Equal(t, frozen, failed.ReservedAt)
}

// ── Redis ────────────────────────────────────────────────────────────────

func TestRedisBrokerLifecycle(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	prefix := "test:" + time.Now().Format("150405.000000") + ":"
	b := NewRedisBroker(rdb, prefix)
	t.Cleanup(func() {
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	})

	task := Task{ID: "t1", Queue: "q", MaxAttempts: 2, RunAt: time.Now()}
	added, err := b.Add(ctx, task)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = b.Add(ctx, task)
	require.NoError(t, err)
	assert.False(t, added)

	got, err := b.Reserve(ctx, "q", time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Attempts)

	require.NoError(t, b.Retry(ctx, *got, time.Now().Add(-time.Millisecond), "nope"))
	n, err := b.Promote(ctx, "q", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = b.Reserve(ctx, "q", time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Attempts)
	require.NoError(t, b.Fail(ctx, *got, "still nope"))

	c, err := b.Counts(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, Counts{Failed: 1}, c)

	live := Task{ID: "t2", Queue: "q", MaxAttempts: 2, RunAt: time.Now()}
	_, err = b.Add(ctx, live)
	require.NoError(t, err)
	_, err = b.Reserve(ctx, "q", time.Now())
	require.NoError(t, err)
	n, err = b.Recover(ctx, "q", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = b.Recover(ctx, "q", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
