// Package feed implements per-user feeds on top of a timeline storage (the
// ordered list of entries per feed) and an activity storage (the global store
// used to hydrate dehydrated entries).
package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/aggregator"
	"github.com/rs/zerolog"
)

const (
	DefaultKeyFormat           = "feed_%d"
	DefaultUserKeyFormat       = "user_feed:%d"
	DefaultAggregatedKeyFormat = "aggregated_feed_%d"

	DefaultMaxLength      = 100
	DefaultUserMaxLength  = 1_000_000
	DefaultTrimChance     = 0.01
	DefaultMergeMaxLength = 20

	// NoTrim as Options.TrimChance turns probabilistic trimming off.
	NoTrim = -1.0
)

// UpdateHook runs after entries were written to or removed from a feed.
type UpdateHook func(ctx context.Context, key string, added, removed []activity.Entry)

// Options configures a feed type.
type Options struct {
	Name string
	// KeyFormat is formatted with the owning user id.
	KeyFormat string
	// MaxLength is the length trims cut the feed back to.
	MaxLength int
	// TrimChance is the probability that a write trims the feed. Zero means
	// DefaultTrimChance, NoTrim never trims.
	TrimChance float64
	Timeline   TimelineStorage
	Activities ActivityStorage
	OnUpdate   UpdateHook
	// Rand returns a number in [0, 1). Defaults to math/rand/v2.
	Rand   func() float64
	Logger zerolog.Logger
}

// Interface is what the fan-out works against.
type Interface interface {
	Key() string
	UserID() int64
	Add(ctx context.Context, a *activity.Activity, opts ...WriteOption) (int, error)
	AddMany(ctx context.Context, acts []*activity.Activity, opts ...WriteOption) (int, error)
	Remove(ctx context.Context, a *activity.Activity, opts ...WriteOption) (int, error)
	RemoveMany(ctx context.Context, acts []*activity.Activity, opts ...WriteOption) (int, error)
	Trim(ctx context.Context, length int) error
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context) error
	At(ctx context.Context, i int) (activity.Entry, error)
	Slice(ctx context.Context, start, stop int) ([]activity.Entry, error)
	From(ctx context.Context, start int) ([]activity.Entry, error)
	IndexOf(ctx context.Context, e activity.Entry) (int, error)
}

// Factory builds feeds of one type and hands out batches spanning them.
type Factory interface {
	Name() string
	Feed(userID int64) Interface
	WithBatch(ctx context.Context, fn func(Batch) error) error
}

// Type is the configuration shared by every feed of one kind.
type Type struct {
	opts Options
}

// NewType validates opts and fills in defaults.
func NewType(opts Options) (*Type, error) {
	if opts.Timeline == nil {
		return nil, errors.New("feed: timeline storage is required")
	}
	if opts.Activities == nil {
		return nil, errors.New("feed: activity storage is required")
	}
	if opts.KeyFormat == "" {
		opts.KeyFormat = DefaultKeyFormat
	}
	if opts.Name == "" {
		opts.Name = opts.KeyFormat
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	switch {
	case opts.TrimChance == 0:
		opts.TrimChance = DefaultTrimChance
	case opts.TrimChance == NoTrim:
		opts.TrimChance = 0
	case opts.TrimChance < 0 || opts.TrimChance > 1:
		return nil, fmt.Errorf("feed: trim chance %v out of range [0, 1]", opts.TrimChance)
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	opts.Logger = opts.Logger.With().Str("feed_type", opts.Name).Logger()
	return &Type{opts: opts}, nil
}

// NewUserType returns the type used for a user's own feed: it keeps a much
// longer history than follower feeds.
func NewUserType(opts Options) (*Type, error) {
	if opts.KeyFormat == "" {
		opts.KeyFormat = DefaultUserKeyFormat
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultUserMaxLength
	}
	if opts.Name == "" {
		opts.Name = "user"
	}
	return NewType(opts)
}

func (t *Type) Name() string { return t.opts.Name }

func (t *Type) MaxLength() int { return t.opts.MaxLength }

// TrimChance is the effective trim probability.
func (t *Type) TrimChance() float64 { return t.opts.TrimChance }

// Key returns the storage key of userID's feed.
func (t *Type) Key(userID int64) string {
	return fmt.Sprintf(t.opts.KeyFormat, userID)
}

// Feed returns userID's feed.
func (t *Type) Feed(userID int64) Interface {
	return t.NewFeed(userID)
}

// NewFeed is Feed with a concrete return type.
func (t *Type) NewFeed(userID int64) *Feed {
	return &Feed{typ: t, userID: userID, key: t.Key(userID)}
}

// WithBatch runs fn inside one timeline batch.
func (t *Type) WithBatch(ctx context.Context, fn func(Batch) error) error {
	return t.opts.Timeline.WithBatch(ctx, fn)
}

// InsertActivities writes acts to the global activity storage.
func (t *Type) InsertActivities(ctx context.Context, acts []*activity.Activity) error {
	if err := validate(acts); err != nil {
		return err
	}
	if err := t.opts.Activities.AddMany(ctx, acts); err != nil {
		return fmt.Errorf("insert activities: %w", err)
	}
	return nil
}

func (t *Type) InsertActivity(ctx context.Context, a *activity.Activity) error {
	return t.InsertActivities(ctx, []*activity.Activity{a})
}

// RemoveActivity deletes an activity from the global activity storage.
func (t *Type) RemoveActivity(ctx context.Context, id activity.ID) error {
	if err := t.opts.Activities.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove activity %s: %w", id, err)
	}
	return nil
}

// GetActivities reads activities from the global activity storage.
func (t *Type) GetActivities(ctx context.Context, ids []activity.ID) ([]*activity.Activity, error) {
	acts, err := t.opts.Activities.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get activities: %w", err)
	}
	return acts, nil
}

// Flush empties both storages. Meant for tests and maintenance.
func (t *Type) Flush(ctx context.Context) error {
	if err := t.opts.Activities.Flush(ctx); err != nil {
		return fmt.Errorf("flush activity storage: %w", err)
	}
	if err := t.opts.Timeline.Flush(ctx); err != nil {
		return fmt.Errorf("flush timeline storage: %w", err)
	}
	return nil
}

func (t *Type) shouldTrim() bool {
	return t.opts.Rand() < t.opts.TrimChance
}

func (t *Type) onUpdate(ctx context.Context, key string, added, removed []activity.Entry) {
	if t.opts.OnUpdate != nil {
		t.opts.OnUpdate(ctx, key, added, removed)
	}
}

// AggregatedType is a feed type whose entries are aggregated activities.
type AggregatedType struct {
	*Type
	aggregator     *aggregator.Aggregator
	mergeMaxLength int
}

// NewAggregatedType builds an aggregating feed type. New activities are merged
// into the newest mergeMaxLength aggregations (DefaultMergeMaxLength when 0).
func NewAggregatedType(opts Options, ag *aggregator.Aggregator, mergeMaxLength int) (*AggregatedType, error) {
	if ag == nil {
		return nil, errors.New("feed: aggregator is required")
	}
	if opts.KeyFormat == "" {
		opts.KeyFormat = DefaultAggregatedKeyFormat
	}
	if mergeMaxLength <= 0 {
		mergeMaxLength = DefaultMergeMaxLength
	}
	t, err := NewType(opts)
	if err != nil {
		return nil, err
	}
	return &AggregatedType{Type: t, aggregator: ag, mergeMaxLength: mergeMaxLength}, nil
}

func (t *AggregatedType) Feed(userID int64) Interface {
	return t.NewAggregatedFeed(userID)
}

func (t *AggregatedType) NewAggregatedFeed(userID int64) *AggregatedFeed {
	return &AggregatedFeed{Feed: t.NewFeed(userID), typ: t}
}
