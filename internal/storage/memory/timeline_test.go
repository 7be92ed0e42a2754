package memory

import (
	"context"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/feed"
	"github.com/anonto42/nano-midea/fanout/internal/verb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func entry(object int64, offset time.Duration) activity.Entry {
	return activity.MustNew(activity.IntID(1), verb.Love, activity.IntID(object), activity.WithTime(base.Add(offset))).Dehydrate()
}

func entryIDs(entries []activity.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.EntryID()
	}
	return out
}

func TestTimeline_AddManyOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	tl := NewTimeline()
	old, mid, recent := entry(1, 0), entry(2, time.Minute), entry(3, time.Hour)

	n, err := tl.AddMany(ctx, "feed_1", []activity.Entry{mid, old, recent}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := tl.GetSlice(ctx, "feed_1", 0, -1, feed.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{recent.EntryID(), mid.EntryID(), old.EntryID()}, entryIDs(got))

	got, err = tl.GetSlice(ctx, "feed_1", 0, 2, feed.Query{Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{old.EntryID(), mid.EntryID()}, entryIDs(got))
}

func TestTimeline_Idempotent(t *testing.T) {
	ctx := context.Background()
	tl := NewTimeline()
	e := entry(1, 0)

	_, err := tl.AddMany(ctx, "k", []activity.Entry{e}, nil)
	require.NoError(t, err)
	n, err := tl.AddMany(ctx, "k", []activity.Entry{e}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, _ := tl.Count(ctx, "k")
	assert.Equal(t, 1, count)

	n, err = tl.RemoveMany(ctx, "k", []activity.Entry{entry(99, 0)}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = tl.RemoveMany(ctx, "k", []activity.Entry{e}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTimeline_TrimKeepsNewest(t *testing.T) {
	ctx := context.Background()
	tl := NewTimeline()
	var entries []activity.Entry
	for i := range 10 {
		entries = append(entries, entry(int64(i), time.Duration(i)*time.Second))
	}
	_, err := tl.AddMany(ctx, "k", entries, nil)
	require.NoError(t, err)

	require.NoError(t, tl.Trim(ctx, "k", 3, nil))

	got, err := tl.GetSlice(ctx, "k", 0, -1, feed.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{entries[9].EntryID(), entries[8].EntryID(), entries[7].EntryID()}, entryIDs(got))
}

func TestTimeline_FilterAndIndexOf(t *testing.T) {
	ctx := context.Background()
	tl := NewTimeline()
	a, b, c := entry(1, 0), entry(2, time.Second), entry(3, 2*time.Second)
	_, err := tl.AddMany(ctx, "k", []activity.Entry{a, b, c}, nil)
	require.NoError(t, err)

	got, err := tl.GetSlice(ctx, "k", 0, -1, feed.Query{Filter: feed.Filter{Lt: c.Score()}})
	require.NoError(t, err)
	assert.Equal(t, []string{b.EntryID(), a.EntryID()}, entryIDs(got))

	got, err = tl.GetSlice(ctx, "k", 5, 10, feed.Query{})
	require.NoError(t, err)
	assert.Empty(t, got)

	i, err := tl.IndexOf(ctx, "k", a.EntryID())
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	_, err = tl.IndexOf(ctx, "k", "missing")
	assert.ErrorIs(t, err, feed.ErrEntryNotFound)
}

func TestTimeline_WithBatchReleasesOnError(t *testing.T) {
	ctx := context.Background()
	tl := NewTimeline()

	var kept feed.Batch
	err := tl.WithBatch(ctx, func(b feed.Batch) error {
		kept = b
		_, err := tl.AddMany(ctx, "k", []activity.Entry{entry(1, 0)}, b)
		require.NoError(t, err)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, BatchStats{Opened: 1, Released: 1}, tl.Stats())

	_, err = tl.AddMany(ctx, "k", []activity.Entry{entry(2, 0)}, kept)
	assert.Error(t, err, "released batches cannot be reused")
}

func TestTimeline_LockKey(t *testing.T) {
	ctx := context.Background()
	tl := NewTimeline()
	assert.Error(t, tl.LockKey(ctx, "k", nil), "locks live in a batch")

	locked, release, done := make(chan struct{}), make(chan struct{}), make(chan error, 1)
	go func() {
		done <- tl.WithBatch(ctx, func(b feed.Batch) error {
			if err := tl.LockKey(ctx, "k", b); err != nil {
				return err
			}
			if err := tl.LockKey(ctx, "k", b); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := tl.WithBatch(ctx, func(b feed.Batch) error { return tl.LockKey(short, "k", b) })
	assert.ErrorIs(t, err, context.DeadlineExceeded, "held by the other batch")

	err = tl.WithBatch(ctx, func(b feed.Batch) error { return tl.LockKey(ctx, "other", b) })
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
	err = tl.WithBatch(ctx, func(b feed.Batch) error { return tl.LockKey(ctx, "k", b) })
	assert.NoError(t, err, "released with its batch")
}

func TestTimeline_Flush(t *testing.T) {
	ctx := context.Background()
	tl := NewTimeline()
	_, err := tl.AddMany(ctx, "k", []activity.Entry{entry(1, 0)}, nil)
	require.NoError(t, err)

	require.NoError(t, tl.Flush(ctx))
	n, _ := tl.Count(ctx, "k")
	assert.Zero(t, n)
}

func TestActivities(t *testing.T) {
	ctx := context.Background()
	s := NewActivities()
	a := activity.MustNew(activity.IntID(1), verb.Add, activity.IntID(5), activity.WithTime(base))
	b := activity.MustNew(activity.IntID(1), verb.Add, activity.IntID(6), activity.WithTime(base))

	require.NoError(t, s.AddMany(ctx, []*activity.Activity{a, b}))
	require.NoError(t, s.Remove(ctx, b.SerializationID()))

	got, err := s.GetMany(ctx, []activity.ID{a.SerializationID(), b.SerializationID()})
	require.NoError(t, err)
	assert.Equal(t, []*activity.Activity{a}, got)
	assert.Equal(t, 1, s.Len())
}

func TestActivities_GetActivityByID(t *testing.T) {
	ctx := context.Background()
	s := NewActivities()
	a := activity.MustNew(activity.IntID(2), verb.Add, activity.IntID(7), activity.WithTime(base))
	require.NoError(t, s.AddMany(ctx, []*activity.Activity{a}))

	found, err := s.GetActivityByID(ctx, a.SerializationID())
	require.NoError(t, err)
	assert.Same(t, a, found)

	_, err = s.GetActivityByID(ctx, activity.MustParseID("1"))
	assert.ErrorIs(t, err, activity.ErrActivityNotFound)
}
