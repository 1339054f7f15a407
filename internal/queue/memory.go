package queue

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryBroker keeps every queue in process memory. It is used in tests and
// when no Redis URL is configured; nothing survives a restart.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	closed bool
}

type memQueue struct {
	tasks     map[string]*Task
	waiting   []string
	active    []string
	delayed   map[string]time.Time
	completed []Task
	failed    []Task
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*memQueue)}
}

func (b *MemoryBroker) queue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{tasks: make(map[string]*Task), delayed: make(map[string]time.Time)}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) Add(_ context.Context, t Task) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, ErrClosed
	}
	q := b.queue(t.Queue)
	if _, exists := q.tasks[t.ID]; exists {
		return false, nil
	}
	cp := t
	q.tasks[t.ID] = &cp
	if t.delayed() {
		q.delayed[t.ID] = t.RunAt
	} else {
		q.waiting = append(q.waiting, t.ID)
	}
	return true, nil
}

func (b *MemoryBroker) Reserve(_ context.Context, queue string, now time.Time) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	q := b.queue(queue)
	if len(q.waiting) == 0 {
		return nil, nil
	}
	id := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.active = append(q.active, id)
	t := q.tasks[id]
	t.Attempts++
	t.ReservedAt = now
	out := *t
	return &out, nil
}

func (b *MemoryBroker) Complete(_ context.Context, t Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(t.Queue)
	q.active = without(q.active, t.ID)
	delete(q.tasks, t.ID)

	t.FinishedAt = t.finishedAt()
	q.completed = append(q.completed, t)
	if keep := t.RemoveOnComplete; keep > 0 && len(q.completed) > keep {
		q.completed = slices.Clone(q.completed[len(q.completed)-keep:])
	}
	return nil
}

func (b *MemoryBroker) Retry(_ context.Context, t Task, at time.Time, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(t.Queue)
	q.active = without(q.active, t.ID)
	stored, ok := q.tasks[t.ID]
	if !ok {
		return ErrNotPending
	}
	stored.FailedReason = reason
	stored.RunAt = at
	q.delayed[t.ID] = at
	return nil
}

func (b *MemoryBroker) Fail(_ context.Context, t Task, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(t.Queue)
	q.active = without(q.active, t.ID)
	delete(q.tasks, t.ID)

	t.FailedReason = reason
	t.FinishedAt = t.finishedAt()
	q.failed = append(q.failed, t)
	return nil
}

func (b *MemoryBroker) Promote(_ context.Context, queue string, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)

	var due []string
	for id, at := range q.delayed {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	slices.SortFunc(due, func(a, c string) int { return q.delayed[a].Compare(q.delayed[c]) })
	for _, id := range due {
		delete(q.delayed, id)
		q.waiting = append(q.waiting, id)
	}
	return len(due), nil
}

func (b *MemoryBroker) Remove(_ context.Context, queue, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	if _, ok := q.delayed[id]; ok {
		delete(q.delayed, id)
	} else if slices.Contains(q.waiting, id) {
		q.waiting = without(q.waiting, id)
	} else {
		return ErrNotPending
	}
	delete(q.tasks, id)
	return nil
}

func (b *MemoryBroker) Counts(_ context.Context, queue string) (Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Counts{}, ErrClosed
	}
	q := b.queue(queue)
	return Counts{
		Waiting:   int64(len(q.waiting)),
		Active:    int64(len(q.active)),
		Delayed:   int64(len(q.delayed)),
		Completed: int64(len(q.completed)),
		Failed:    int64(len(q.failed)),
	}, nil
}

// Failed returns a copy of the failed set, oldest first.
func (b *MemoryBroker) Failed(queue string) []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.queue(queue).failed)
}

func (b *MemoryBroker) Recover(_ context.Context, queue string, staleBefore time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	var stale []string
	for _, id := range q.active {
		if t, ok := q.tasks[id]; ok && t.ReservedAt.Before(staleBefore) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		q.active = without(q.active, id)
	}
	q.waiting = append(stale, q.waiting...)
	return len(stale), nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func without(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}
