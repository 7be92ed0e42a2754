// Package memory holds in-process storage backends. They are used by tests
// and by the server when STORAGE_BACKEND=memory.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/feed"
)

// Batch is the memory backend's batch. Writes are applied as they happen;
// the batch tracks its own lifetime and the keys it locked.
type Batch struct {
	released bool
	held     []string
}

func (*Batch) Backend() string { return "memory" }

// BatchStats counts batches handed out and released.
type BatchStats struct {
	Opened   int
	Released int
}

// Timeline keeps every feed as a slice sorted newest first.
type Timeline struct {
	mu    sync.RWMutex
	feeds map[string][]activity.Entry
	// locks are one-slot semaphores per key.
	locks map[string]chan struct{}
	stats BatchStats
}

var (
	_ feed.TimelineStorage = (*Timeline)(nil)
	_ feed.KeyLocker       = (*Timeline)(nil)
)

func NewTimeline() *Timeline {
	return &Timeline{
		feeds: map[string][]activity.Entry{},
		locks: map[string]chan struct{}{},
	}
}

// newestFirst orders by score, then entry id, both descending.
func newestFirst(a, b activity.Entry) int {
	if c := cmp.Compare(b.Score(), a.Score()); c != 0 {
		return c
	}
	return cmp.Compare(b.EntryID(), a.EntryID())
}

func (t *Timeline) AddMany(_ context.Context, key string, entries []activity.Entry, b feed.Batch) (int, error) {
	if err := checkBatch(b); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.feeds[key]
	added := 0
	for _, e := range entries {
		if slices.ContainsFunc(list, func(x activity.Entry) bool { return x.EntryID() == e.EntryID() }) {
			continue
		}
		list = append(list, e.Dehydrate())
		added++
	}
	slices.SortStableFunc(list, newestFirst)
	t.feeds[key] = list
	return added, nil
}

func (t *Timeline) RemoveMany(_ context.Context, key string, entries []activity.Entry, b feed.Batch) (int, error) {
	if err := checkBatch(b); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	drop := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		drop[e.EntryID()] = struct{}{}
	}
	list := t.feeds[key]
	before := len(list)
	list = slices.DeleteFunc(slices.Clone(list), func(x activity.Entry) bool {
		_, ok := drop[x.EntryID()]
		return ok
	})
	if len(list) == 0 {
		delete(t.feeds, key)
	} else {
		t.feeds[key] = list
	}
	return before - len(list), nil
}

func (t *Timeline) Trim(_ context.Context, key string, length int, b feed.Batch) error {
	if err := checkBatch(b); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if list := t.feeds[key]; len(list) > length {
		t.feeds[key] = slices.Clone(list[:length])
	}
	return nil
}

func (t *Timeline) Count(_ context.Context, key string) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.feeds[key]), nil
}

func (t *Timeline) Delete(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.feeds, key)
	return nil
}

func (t *Timeline) GetSlice(_ context.Context, key string, start, stop int, q feed.Query) ([]activity.Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var list []activity.Entry
	for _, e := range t.feeds[key] {
		if q.Filter.Match(e.Score()) {
			list = append(list, e)
		}
	}
	if q.Ascending {
		slices.Reverse(list)
	}
	if start >= len(list) {
		return []activity.Entry{}, nil
	}
	if stop < 0 || stop > len(list) {
		stop = len(list)
	}
	return slices.Clone(list[start:stop]), nil
}

func (t *Timeline) IndexOf(_ context.Context, key string, entryID string) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i := slices.IndexFunc(t.feeds[key], func(e activity.Entry) bool { return e.EntryID() == entryID })
	if i < 0 {
		return 0, feed.ErrEntryNotFound
	}
	return i, nil
}

func (t *Timeline) WithBatch(ctx context.Context, fn func(feed.Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := &Batch{}
	t.mu.Lock()
	t.stats.Opened++
	t.mu.Unlock()

	defer func() {
		b.released = true
		t.mu.Lock()
		t.stats.Released++
		for _, key := range b.held {
			<-t.locks[key]
		}
		t.mu.Unlock()
		b.held = nil
	}()
	return fn(b)
}

// LockKey blocks until no other batch holds key, or ctx is done.
func (t *Timeline) LockKey(ctx context.Context, key string, b feed.Batch) error {
	if b == nil {
		return fmt.Errorf("memory timeline: locking %s needs a batch", key)
	}
	if err := checkBatch(b); err != nil {
		return err
	}
	mb := b.(*Batch)
	if slices.Contains(mb.held, key) {
		return nil
	}

	t.mu.Lock()
	sem, ok := t.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		t.locks[key] = sem
	}
	t.mu.Unlock()

	select {
	case sem <- struct{}{}:
		mb.held = append(mb.held, key)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
}

// Stats returns batch counters.
func (t *Timeline) Stats() BatchStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

func (t *Timeline) Flush(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.feeds = map[string][]activity.Entry{}
	return nil
}

func checkBatch(b feed.Batch) error {
	if b == nil {
		return nil
	}
	mb, ok := b.(*Batch)
	if !ok {
		return fmt.Errorf("memory timeline cannot use a %s batch", b.Backend())
	}
	if mb.released {
		return fmt.Errorf("memory timeline: batch already released")
	}
	return nil
}
