package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
)

var (
	ErrNegativeIndex = fmt.Errorf("%w: negative indexing is not supported", activity.ErrValidation)
	ErrInvalidRange  = fmt.Errorf("%w: invalid slice range", activity.ErrValidation)
	ErrEntryNotFound = errors.New("entry not found")
)

// Batch is a storage defined unit of work. One batch spans every feed touched
// by a fan-out task when the backend supports it.
type Batch interface {
	Backend() string
}

// Filter restricts a slice to a score range. Empty bounds are ignored. For
// plain activity timelines the score is activity.ID.Key().
type Filter struct {
	Gte string
	Gt  string
	Lte string
	Lt  string
}

// Merge returns f with every non-empty bound of other applied on top.
func (f Filter) Merge(other Filter) Filter {
	if other.Gte != "" {
		f.Gte = other.Gte
	}
	if other.Gt != "" {
		f.Gt = other.Gt
	}
	if other.Lte != "" {
		f.Lte = other.Lte
	}
	if other.Lt != "" {
		f.Lt = other.Lt
	}
	return f
}

// Match reports whether score is inside the filter.
func (f Filter) Match(score string) bool {
	switch {
	case f.Gte != "" && score < f.Gte:
		return false
	case f.Gt != "" && score <= f.Gt:
		return false
	case f.Lte != "" && score > f.Lte:
		return false
	case f.Lt != "" && score >= f.Lt:
		return false
	}
	return true
}

// Query refines a slice read. The zero value reads newest first.
type Query struct {
	Filter    Filter
	Ascending bool
}

// TimelineStorage keeps ordered per-feed lists of entries. Adding an entry
// that is already present and removing one that is absent are no-ops, which
// keeps retried fan-out tasks idempotent. A nil batch means "write directly".
type TimelineStorage interface {
	AddMany(ctx context.Context, key string, entries []activity.Entry, b Batch) (int, error)
	RemoveMany(ctx context.Context, key string, entries []activity.Entry, b Batch) (int, error)
	// Trim keeps the newest length entries.
	Trim(ctx context.Context, key string, length int, b Batch) error
	Count(ctx context.Context, key string) (int, error)
	Delete(ctx context.Context, key string) error
	// GetSlice returns entries [start, stop) in query order. stop < 0 reads to
	// the end.
	GetSlice(ctx context.Context, key string, start, stop int, q Query) ([]activity.Entry, error)
	// IndexOf returns the position of entryID in newest first order.
	IndexOf(ctx context.Context, key string, entryID string) (int, error)
	// WithBatch runs fn with a batch that is released when fn returns, whatever
	// the outcome.
	WithBatch(ctx context.Context, fn func(Batch) error) error
	Flush(ctx context.Context) error
}

// KeyLocker is implemented by timeline storages that can serialize
// read-modify-write cycles on one key. The lock is held until b is released
// and taking it again in the same batch is a no-op.
type KeyLocker interface {
	LockKey(ctx context.Context, key string, b Batch) error
}

// ActivityStorage is the global keyed store of full activities.
type ActivityStorage interface {
	AddMany(ctx context.Context, acts []*activity.Activity) error
	Remove(ctx context.Context, id activity.ID) error
	// GetMany returns the activities it found; missing ids are skipped.
	GetMany(ctx context.Context, ids []activity.ID) ([]*activity.Activity, error)
	Flush(ctx context.Context) error
}
