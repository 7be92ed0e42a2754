package feed_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/aggregator"
	"github.com/anonto42/nano-midea/fanout/internal/feed"
	"github.com/anonto42/nano-midea/fanout/internal/storage/memory"
	"github.com/anonto42/nano-midea/fanout/internal/verb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAggregatedType(t *testing.T) (*feed.AggregatedType, *memory.Timeline) {
	t.Helper()
	tl := memory.NewTimeline()
	typ, err := feed.NewAggregatedType(feed.Options{
		Timeline:   tl,
		Activities: memory.NewActivities(),
	}, aggregator.New(aggregator.RecentVerb{}), 0)
	require.NoError(t, err)
	return typ, tl
}

func groups(t *testing.T, f *feed.AggregatedFeed) map[string]*activity.Aggregated {
	t.Helper()
	aggs, err := f.Aggregations(context.Background(), 100)
	require.NoError(t, err)
	out := map[string]*activity.Aggregated{}
	for _, g := range aggs {
		out[g.Group] = g
	}
	return out
}

func TestAggregatedFeed_AddMerges(t *testing.T) {
	ctx := context.Background()
	typ, _ := newAggregatedType(t)
	assert.Equal(t, "aggregated_feed_1", typ.Key(1))

	loveA, loveB := act(1, 10, verb.Love, 0), act(2, 10, verb.Love, time.Hour)
	comment := act(3, 10, verb.Comment, 2*time.Hour)
	require.NoError(t, typ.InsertActivities(ctx, []*activity.Activity{loveA, loveB, comment}))

	f := typ.NewAggregatedFeed(1)
	n, err := f.Add(ctx, loveA)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.AddMany(ctx, []*activity.Activity{loveB, comment})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one changed and one new aggregation")

	count, err := f.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	byGroup := groups(t, f)
	love := byGroup["3-2024-06-01"]
	require.NotNil(t, love)
	assert.Equal(t, 2, love.ActivityCount())
	assert.Equal(t, loveB.Time(), love.UpdatedAt)
	assert.Equal(t, []int64{1, 2}, love.ActorIDs())

	n, err = f.Add(ctx, loveB)
	require.NoError(t, err)
	assert.Zero(t, n, "re-adding a member changes nothing")

	entries, err := f.Slice(ctx, 0, 1)
	require.NoError(t, err)
	newest, ok := entries[0].(*activity.Aggregated)
	require.True(t, ok)
	assert.Equal(t, "2-2024-06-01", newest.Group)
}

func TestAggregatedFeed_RemoveMany(t *testing.T) {
	ctx := context.Background()
	typ, _ := newAggregatedType(t)
	loveA, loveB := act(1, 10, verb.Love, 0), act(2, 10, verb.Love, time.Hour)
	comment := act(3, 10, verb.Comment, 2*time.Hour)
	all := []*activity.Activity{loveA, loveB, comment}
	require.NoError(t, typ.InsertActivities(ctx, all))
	f := typ.NewAggregatedFeed(1)
	_, err := f.AddMany(ctx, all)
	require.NoError(t, err)

	n, err := f.Remove(ctx, loveB)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	love := groups(t, f)["3-2024-06-01"]
	require.NotNil(t, love)
	assert.Equal(t, 1, love.ActivityCount())
	assert.Equal(t, loveA.Time(), love.UpdatedAt)

	n, err = f.RemoveMany(ctx, []*activity.Activity{loveA, comment})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := f.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "emptied aggregations are deleted")

	n, err = f.Remove(ctx, loveA)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAggregatedFeed_RemoveAllVisibleMembers(t *testing.T) {
	ctx := context.Background()
	typ, _ := newAggregatedType(t)
	f := typ.NewAggregatedFeed(1)

	n := activity.MaxAggregatedActivities + 2
	acts := make([]*activity.Activity, n)
	for i := range acts {
		acts[i] = act(int64(i+1), int64(i+1), verb.Love, time.Duration(i)*time.Minute)
	}
	require.NoError(t, typ.InsertActivities(ctx, acts))
	_, err := f.AddMany(ctx, acts)
	require.NoError(t, err)

	love := groups(t, f)["3-2024-06-01"]
	require.NotNil(t, love)
	assert.Equal(t, 2, love.MinimizedActivities)
	assert.Len(t, love.Activities(), activity.MaxAggregatedActivities)

	removed, err := f.RemoveMany(ctx, love.Activities())
	require.NoError(t, err)
	assert.Equal(t, activity.MaxAggregatedActivities, removed)

	count, err := f.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "a group with only minimized members left is dropped")
}

func TestAggregatedFeed_MergesGroupBelowMergeWindow(t *testing.T) {
	ctx := context.Background()
	typ, _ := newAggregatedType(t)
	f := typ.NewAggregatedFeed(1)

	days := feed.DefaultMergeMaxLength + 2
	var acts []*activity.Activity
	for day := range days {
		acts = append(acts, act(1, int64(day+1), verb.Love, time.Duration(day)*24*time.Hour))
	}
	require.NoError(t, typ.InsertActivities(ctx, acts))
	_, err := f.AddMany(ctx, acts)
	require.NoError(t, err)

	oldest, err := f.At(ctx, days-1)
	require.NoError(t, err)
	require.Equal(t, "3-2024-06-01", oldest.EntryID())

	late := act(2, 99, verb.Love, time.Hour)
	require.NoError(t, typ.InsertActivity(ctx, late))
	n, err := f.Add(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := f.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, days, count, "no second copy of the group")

	aggs, err := f.Aggregations(ctx, days)
	require.NoError(t, err)
	var first *activity.Aggregated
	for _, g := range aggs {
		if g.Group == "3-2024-06-01" {
			first = g
		}
	}
	require.NotNil(t, first)
	assert.True(t, first.Contains(late))
	assert.Equal(t, 2, first.ActivityCount())
}

func TestAggregatedFeed_ConcurrentAddsKeepEveryMember(t *testing.T) {
	ctx := context.Background()
	typ, tl := newAggregatedType(t)
	f := typ.NewAggregatedFeed(1)

	acts := make([]*activity.Activity, 12)
	for i := range acts {
		acts[i] = act(int64(i+1), int64(i+1), verb.Love, time.Duration(i)*time.Second)
	}
	require.NoError(t, typ.InsertActivities(ctx, acts))

	var wg sync.WaitGroup
	errs := make(chan error, len(acts))
	for _, a := range acts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := typ.NewAggregatedFeed(1).Add(ctx, a)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	love := groups(t, f)["3-2024-06-01"]
	require.NotNil(t, love)
	assert.Equal(t, len(acts), love.ActivityCount())
	for _, a := range acts {
		assert.True(t, love.Contains(a), a.SerializationID().String())
	}
	assert.Equal(t, tl.Stats().Opened, tl.Stats().Released)
}

func TestAggregatedFeed_MarkSeenAndRead(t *testing.T) {
	ctx := context.Background()
	typ, tl := newAggregatedType(t)
	love, comment := act(1, 10, verb.Love, 0), act(3, 10, verb.Comment, time.Hour)
	require.NoError(t, typ.InsertActivities(ctx, []*activity.Activity{love, comment}))
	f := typ.NewAggregatedFeed(9)
	_, err := f.AddMany(ctx, []*activity.Activity{love, comment})
	require.NoError(t, err)

	now := base.Add(24 * time.Hour)
	n, err := f.MarkSeen(ctx, now, "3-2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	byGroup := groups(t, f)
	assert.True(t, byGroup["3-2024-06-01"].IsSeen())
	assert.False(t, byGroup["2-2024-06-01"].IsSeen())

	n, err = f.MarkRead(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, g := range groups(t, f) {
		assert.True(t, g.IsRead(), g.Group)
	}

	count, _ := f.Count(ctx)
	assert.Equal(t, 2, count)
	assert.Equal(t, tl.Stats().Opened, tl.Stats().Released)
}

func TestAggregatedFeed_InBatch(t *testing.T) {
	ctx := context.Background()
	typ, tl := newAggregatedType(t)
	a := act(1, 10, verb.Love, 0)
	require.NoError(t, typ.InsertActivity(ctx, a))
	f := typ.Feed(2)

	err := typ.WithBatch(ctx, func(b feed.Batch) error {
		_, err := f.Add(ctx, a, feed.InBatch(b))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, memory.BatchStats{Opened: 1, Released: 1}, tl.Stats())

	entries, err := f.From(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	_, ok := entries[0].(*activity.Aggregated)
	assert.True(t, ok)
}

func TestAggregatedFeed_OrderBy(t *testing.T) {
	typ, _ := newAggregatedType(t)
	f := typ.NewAggregatedFeed(1)

	asc, err := f.OrderBy("activity_id")
	require.NoError(t, err)
	assert.Equal(t, f.Key(), asc.Key())

	_, err = f.OrderBy("group")
	assert.ErrorIs(t, err, activity.ErrValidation)
}
