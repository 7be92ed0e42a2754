package aggregator

import (
	"fmt"
	"slices"
	"time"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
)

// Bucket maps an activity time to a coarse period label.
type Bucket func(t time.Time) string

// Daily buckets by UTC calendar day.
func Daily(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Hourly buckets by UTC hour.
func Hourly(t time.Time) string { return t.UTC().Format("2006-01-02T15") }

// RankRecent puts the most recently updated group first. Ties keep their
// relative order.
func RankRecent(groups []*activity.Aggregated) []*activity.Aggregated {
	out := slices.Clone(groups)
	slices.SortStableFunc(out, func(a, b *activity.Aggregated) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out
}

// RecentVerb groups activities with the same verb in the same period.
type RecentVerb struct {
	Bucket Bucket
}

func (s RecentVerb) Group(a *activity.Activity) string {
	return fmt.Sprintf("%d-%s", a.Verb().ID, bucket(s.Bucket, a.Time()))
}

func (RecentVerb) Rank(groups []*activity.Aggregated) []*activity.Aggregated {
	return RankRecent(groups)
}

// Notification groups activities with the same verb and object in the same
// period, e.g. "5 people loved your photo today".
type Notification struct {
	Bucket Bucket
}

func (s Notification) Group(a *activity.Activity) string {
	return fmt.Sprintf("%d-%d-%s", a.Verb().ID, a.ObjectID(), bucket(s.Bucket, a.Time()))
}

func (Notification) Rank(groups []*activity.Aggregated) []*activity.Aggregated {
	return RankRecent(groups)
}

func bucket(b Bucket, t time.Time) string {
	if b == nil {
		return Daily(t)
	}
	return b(t)
}
