package feed

import (
	"context"
	"fmt"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
)

type writeOptions struct {
	batch Batch
	trim  bool
}

// WriteOption tunes a single feed write.
type WriteOption func(*writeOptions)

// InBatch makes the write part of b.
func InBatch(b Batch) WriteOption {
	return func(o *writeOptions) { o.batch = b }
}

// WithTrim turns the probabilistic trim after the write on or off. It is on
// by default.
func WithTrim(trim bool) WriteOption {
	return func(o *writeOptions) { o.trim = trim }
}

func applyWriteOptions(opts []WriteOption) writeOptions {
	o := writeOptions{trim: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Feed is one user's feed of plain activities.
type Feed struct {
	typ    *Type
	userID int64
	key    string
	query  Query
}

func (f *Feed) Key() string { return f.key }

func (f *Feed) UserID() int64 { return f.userID }

func (f *Feed) Add(ctx context.Context, a *activity.Activity, opts ...WriteOption) (int, error) {
	return f.AddMany(ctx, []*activity.Activity{a}, opts...)
}

// AddMany writes the activities to the timeline and returns how many entries
// were new.
func (f *Feed) AddMany(ctx context.Context, acts []*activity.Activity, opts ...WriteOption) (int, error) {
	if err := validate(acts); err != nil {
		return 0, err
	}
	o := applyWriteOptions(opts)
	entries := dehydrateAll(acts)

	n, err := f.typ.opts.Timeline.AddMany(ctx, f.key, entries, o.batch)
	if err != nil {
		return 0, fmt.Errorf("add to %s: %w", f.key, err)
	}
	if o.trim {
		if err := f.maybeTrim(ctx, o.batch); err != nil {
			return n, err
		}
	}
	f.typ.onUpdate(ctx, f.key, entries, nil)
	return n, nil
}

func (f *Feed) Remove(ctx context.Context, a *activity.Activity, opts ...WriteOption) (int, error) {
	return f.RemoveMany(ctx, []*activity.Activity{a}, opts...)
}

// RemoveMany removes the activities from the timeline only. The global
// activity storage is left alone.
func (f *Feed) RemoveMany(ctx context.Context, acts []*activity.Activity, opts ...WriteOption) (int, error) {
	if err := validate(acts); err != nil {
		return 0, err
	}
	o := applyWriteOptions(opts)
	entries := dehydrateAll(acts)

	n, err := f.typ.opts.Timeline.RemoveMany(ctx, f.key, entries, o.batch)
	if err != nil {
		return 0, fmt.Errorf("remove from %s: %w", f.key, err)
	}
	if o.trim {
		if err := f.maybeTrim(ctx, o.batch); err != nil {
			return n, err
		}
	}
	f.typ.onUpdate(ctx, f.key, nil, entries)
	return n, nil
}

// Trim keeps the newest length entries. Zero means the type's MaxLength.
func (f *Feed) Trim(ctx context.Context, length int) error {
	return f.trim(ctx, length, nil)
}

func (f *Feed) trim(ctx context.Context, length int, b Batch) error {
	if length < 0 {
		return fmt.Errorf("%w: trim length %d", activity.ErrValidation, length)
	}
	if length == 0 {
		length = f.typ.opts.MaxLength
	}
	if err := f.typ.opts.Timeline.Trim(ctx, f.key, length, b); err != nil {
		return fmt.Errorf("trim %s: %w", f.key, err)
	}
	return nil
}

func (f *Feed) maybeTrim(ctx context.Context, b Batch) error {
	if !f.typ.shouldTrim() {
		return nil
	}
	f.typ.opts.Logger.Debug().Str("key", f.key).Int("max_length", f.typ.opts.MaxLength).Msg("trimming feed")
	return f.trim(ctx, 0, b)
}

func (f *Feed) Count(ctx context.Context) (int, error) {
	n, err := f.typ.opts.Timeline.Count(ctx, f.key)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", f.key, err)
	}
	return n, nil
}

// Delete drops the whole timeline.
func (f *Feed) Delete(ctx context.Context) error {
	if err := f.typ.opts.Timeline.Delete(ctx, f.key); err != nil {
		return fmt.Errorf("delete %s: %w", f.key, err)
	}
	return nil
}

// At returns the entry at position i.
func (f *Feed) At(ctx context.Context, i int) (activity.Entry, error) {
	if i < 0 {
		return nil, ErrNegativeIndex
	}
	entries, err := f.Slice(ctx, i, i+1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: index %d of %s", ErrEntryNotFound, i, f.key)
	}
	return entries[0], nil
}

// Slice returns hydrated entries [start, stop).
func (f *Feed) Slice(ctx context.Context, start, stop int) ([]activity.Entry, error) {
	if start < 0 || stop < 0 {
		return nil, ErrNegativeIndex
	}
	if stop < start {
		return nil, fmt.Errorf("%w: [%d:%d]", ErrInvalidRange, start, stop)
	}
	if start == stop {
		return []activity.Entry{}, nil
	}
	return f.slice(ctx, start, stop)
}

// From returns every entry from start on.
func (f *Feed) From(ctx context.Context, start int) ([]activity.Entry, error) {
	if start < 0 {
		return nil, ErrNegativeIndex
	}
	return f.slice(ctx, start, -1)
}

func (f *Feed) slice(ctx context.Context, start, stop int) ([]activity.Entry, error) {
	entries, err := f.typ.opts.Timeline.GetSlice(ctx, f.key, start, stop, f.query)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.key, err)
	}
	return f.typ.hydrate(ctx, entries)
}

// IndexOf returns the position of e in the feed, newest first.
func (f *Feed) IndexOf(ctx context.Context, e activity.Entry) (int, error) {
	if e == nil {
		return 0, fmt.Errorf("%w: nil entry", activity.ErrValidation)
	}
	i, err := f.typ.opts.Timeline.IndexOf(ctx, f.key, e.EntryID())
	if err != nil {
		return 0, fmt.Errorf("index of %s in %s: %w", e.EntryID(), f.key, err)
	}
	return i, nil
}

// Filter returns a copy of the feed whose reads are limited to filter.
func (f *Feed) Filter(filter Filter) *Feed {
	c := *f
	c.query.Filter = c.query.Filter.Merge(filter)
	return &c
}

// OrderBy returns a copy of the feed read in the given order. Only
// "activity_id" (oldest first) and "-activity_id" (newest first) are known.
func (f *Feed) OrderBy(fields ...string) (*Feed, error) {
	c := *f
	for _, field := range fields {
		switch field {
		case "activity_id":
			c.query.Ascending = true
		case "-activity_id":
			c.query.Ascending = false
		default:
			return nil, fmt.Errorf("%w: unknown ordering field %q", activity.ErrValidation, field)
		}
	}
	return &c, nil
}

// hydrate resolves every dehydrated entry with one bulk read.
func (t *Type) hydrate(ctx context.Context, entries []activity.Entry) ([]activity.Entry, error) {
	var ids []activity.ID
	for _, e := range entries {
		if e.IsDehydrated() {
			ids = append(ids, e.ActivityIDs()...)
		}
	}
	if len(ids) == 0 {
		return entries, nil
	}

	acts, err := t.GetActivities(ctx, ids)
	if err != nil {
		return nil, err
	}
	lookup := make(map[activity.ID]*activity.Activity, len(acts))
	for _, a := range acts {
		lookup[a.SerializationID()] = a
	}

	out := make([]activity.Entry, len(entries))
	for i, e := range entries {
		h, err := e.Hydrate(lookup)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func validate(acts []*activity.Activity) error {
	for i, a := range acts {
		if a == nil || a.SerializationID().IsZero() {
			return fmt.Errorf("%w: activity %d is empty", activity.ErrValidation, i)
		}
	}
	return nil
}

func dehydrateAll(acts []*activity.Activity) []activity.Entry {
	entries := make([]activity.Entry, len(acts))
	for i, a := range acts {
		entries[i] = a.Dehydrate()
	}
	return entries
}
