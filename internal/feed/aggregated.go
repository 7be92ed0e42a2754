package feed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/aggregator"
)

// AggregatedFeed stores aggregations instead of single activities. Entries
// are keyed by group, so a changed aggregation replaces its previous version.
type AggregatedFeed struct {
	*Feed
	typ *AggregatedType
}

func (f *AggregatedFeed) Add(ctx context.Context, a *activity.Activity, opts ...WriteOption) (int, error) {
	return f.AddMany(ctx, []*activity.Activity{a}, opts...)
}

// AddMany merges acts into the aggregations they belong to and writes the
// result. It returns the number of aggregations created or changed.
func (f *AggregatedFeed) AddMany(ctx context.Context, acts []*activity.Activity, opts ...WriteOption) (int, error) {
	if err := validate(acts); err != nil {
		return 0, err
	}
	_, added, err := f.update(ctx, applyWriteOptions(opts), func() (removed, added []activity.Entry, err error) {
		current, err := f.aggregations(ctx, f.typ.mergeMaxLength)
		if err != nil {
			return nil, nil, err
		}
		result, err := f.merge(ctx, current, acts)
		if err != nil {
			return nil, nil, fmt.Errorf("merge into %s: %w", f.key, err)
		}
		for _, c := range result.Changed {
			removed = append(removed, c.Old.Dehydrate())
			added = append(added, c.New.Dehydrate())
		}
		for _, g := range result.New {
			added = append(added, g.Dehydrate())
		}
		return removed, added, nil
	})
	return len(added), err
}

// merge folds acts into current. Groups that are not among current but are
// stored further down the feed are read back and merged too, so a group key
// is never written twice.
func (f *AggregatedFeed) merge(ctx context.Context, current []*activity.Aggregated, acts []*activity.Activity) (aggregator.MergeResult, error) {
	result, err := f.typ.aggregator.Merge(current, acts)
	if err != nil || len(result.New) == 0 {
		return result, err
	}

	var older []*activity.Aggregated
	for _, g := range result.New {
		stored, err := f.aggregation(ctx, g.Group)
		if errors.Is(err, ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return aggregator.MergeResult{}, err
		}
		older = append(older, stored)
	}
	if len(older) == 0 {
		return result, nil
	}
	return f.typ.aggregator.Merge(append(slices.Clone(current), older...), acts)
}

func (f *AggregatedFeed) Remove(ctx context.Context, a *activity.Activity, opts ...WriteOption) (int, error) {
	return f.RemoveMany(ctx, []*activity.Activity{a}, opts...)
}

// RemoveMany takes acts out of every aggregation that holds them. An
// aggregation left without visible members is deleted. It returns the number
// of activities removed.
func (f *AggregatedFeed) RemoveMany(ctx context.Context, acts []*activity.Activity, opts ...WriteOption) (int, error) {
	if err := validate(acts); err != nil {
		return 0, err
	}
	count := 0
	_, _, err := f.update(ctx, applyWriteOptions(opts), func() (removed, added []activity.Entry, err error) {
		current, err := f.aggregations(ctx, f.typ.opts.MaxLength)
		if err != nil {
			return nil, nil, err
		}
		for _, g := range current {
			members := slices.DeleteFunc(slices.Clone(acts), func(a *activity.Activity) bool {
				return !g.Contains(a)
			})
			if len(members) == 0 {
				continue
			}
			count += len(members)
			removed = append(removed, g.Dehydrate())
			if len(members) == len(g.Activities()) {
				continue
			}
			reduced := g.Clone()
			if _, err := reduced.RemoveMany(members); err != nil {
				return nil, nil, fmt.Errorf("remove from group %q: %w", g.Group, err)
			}
			added = append(added, reduced.Dehydrate())
		}
		return removed, added, nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// MarkSeen marks the given groups, or every current aggregation when none
// is given, as seen at now. It returns how many aggregations it updated.
func (f *AggregatedFeed) MarkSeen(ctx context.Context, now time.Time, groups ...string) (int, error) {
	return f.mark(ctx, groups, func(g *activity.Aggregated) { g.UpdateSeenAt(now) })
}

// MarkRead is MarkSeen for the read marker.
func (f *AggregatedFeed) MarkRead(ctx context.Context, now time.Time, groups ...string) (int, error) {
	return f.mark(ctx, groups, func(g *activity.Aggregated) { g.UpdateReadAt(now) })
}

func (f *AggregatedFeed) mark(ctx context.Context, groups []string, set func(*activity.Aggregated)) (int, error) {
	_, added, err := f.update(ctx, writeOptions{}, func() (removed, added []activity.Entry, err error) {
		current, err := f.aggregations(ctx, f.typ.opts.MaxLength)
		if err != nil {
			return nil, nil, err
		}
		for _, g := range current {
			if len(groups) > 0 && !slices.Contains(groups, g.Group) {
				continue
			}
			marked := g.Clone()
			set(marked)
			removed = append(removed, g.Dehydrate())
			added = append(added, marked.Dehydrate())
		}
		return removed, added, nil
	})
	return len(added), err
}

// Aggregations returns the newest limit aggregations, hydrated.
func (f *AggregatedFeed) Aggregations(ctx context.Context, limit int) ([]*activity.Aggregated, error) {
	if limit < 0 {
		return nil, ErrNegativeIndex
	}
	return f.aggregations(ctx, limit)
}

// unfiltered is f without the read order or filter of this copy. Merges
// always work on the newest aggregations.
func (f *AggregatedFeed) unfiltered() *Feed {
	base := *f.Feed
	base.query = Query{}
	return &base
}

func (f *AggregatedFeed) aggregations(ctx context.Context, limit int) ([]*activity.Aggregated, error) {
	if limit == 0 {
		return nil, nil
	}
	entries, err := f.unfiltered().slice(ctx, 0, limit)
	if err != nil {
		return nil, err
	}
	return f.asAggregations(entries)
}

// aggregation reads the stored aggregation of group, wherever it sits.
func (f *AggregatedFeed) aggregation(ctx context.Context, group string) (*activity.Aggregated, error) {
	i, err := f.typ.opts.Timeline.IndexOf(ctx, f.key, group)
	if err != nil {
		return nil, err
	}
	entries, err := f.unfiltered().slice(ctx, i, i+1)
	if err != nil {
		return nil, err
	}
	out, err := f.asAggregations(entries)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 || out[0].Group != group {
		// Moved between the two reads.
		return nil, ErrEntryNotFound
	}
	return out[0], nil
}

func (f *AggregatedFeed) asAggregations(entries []activity.Entry) ([]*activity.Aggregated, error) {
	out := make([]*activity.Aggregated, 0, len(entries))
	for _, e := range entries {
		g, ok := e.(*activity.Aggregated)
		if !ok {
			return nil, fmt.Errorf("%w: %T stored in aggregated feed %s", activity.ErrValidation, e, f.key)
		}
		out = append(out, g)
	}
	return out, nil
}

// update runs one read-modify-write cycle: plan reads the feed and says what
// to replace. Everything happens in one batch, the caller's when given, and
// the feed key stays locked until that batch ends on storages that support
// it. Concurrent writers of the same feed therefore never merge into stale
// aggregations.
func (f *AggregatedFeed) update(ctx context.Context, o writeOptions, plan func() (removed, added []activity.Entry, err error)) (removed, added []activity.Entry, err error) {
	run := func(b Batch) error {
		if locker, ok := f.typ.opts.Timeline.(KeyLocker); ok {
			if err := locker.LockKey(ctx, f.key, b); err != nil {
				return err
			}
		}
		var err error
		removed, added, err = plan()
		if err != nil || len(removed)+len(added) == 0 {
			return err
		}
		if len(removed) > 0 {
			if _, err := f.typ.opts.Timeline.RemoveMany(ctx, f.key, removed, b); err != nil {
				return fmt.Errorf("remove from %s: %w", f.key, err)
			}
		}
		if len(added) > 0 {
			if _, err := f.typ.opts.Timeline.AddMany(ctx, f.key, added, b); err != nil {
				return fmt.Errorf("add to %s: %w", f.key, err)
			}
		}
		if o.trim {
			return f.maybeTrim(ctx, b)
		}
		return nil
	}

	if o.batch != nil {
		err = run(o.batch)
	} else {
		err = f.typ.WithBatch(ctx, run)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(removed)+len(added) > 0 {
		f.typ.onUpdate(ctx, f.key, added, removed)
	}
	return removed, added, nil
}

// Filter returns a copy whose reads are limited to filter. Scores of
// aggregated entries are 100ms buckets of their last update.
func (f *AggregatedFeed) Filter(filter Filter) *AggregatedFeed {
	return &AggregatedFeed{Feed: f.Feed.Filter(filter), typ: f.typ}
}

func (f *AggregatedFeed) OrderBy(fields ...string) (*AggregatedFeed, error) {
	c, err := f.Feed.OrderBy(fields...)
	if err != nil {
		return nil, err
	}
	return &AggregatedFeed{Feed: c, typ: f.typ}, nil
}
