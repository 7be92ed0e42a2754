// Package aggregator turns flat activities into aggregated activities and
// reconciles new activities with aggregations that were already stored.
//
// Aggregate takes a batch of activities and returns ranked aggregations.
// Merge takes the stored aggregations plus new activities and reports which
// aggregations are new and which changed, so callers only rewrite those.
package aggregator

import (
	"slices"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
)

// Strategy decides how activities are grouped and how groups are ranked.
type Strategy interface {
	Group(a *activity.Activity) string
	Rank(groups []*activity.Aggregated) []*activity.Aggregated
}

// Change pairs a stored aggregation with its merged replacement.
type Change struct {
	Old *activity.Aggregated
	New *activity.Aggregated
}

// MergeResult is what Merge produced.
type MergeResult struct {
	New     []*activity.Aggregated
	Changed []Change
}

// Aggregator applies a Strategy.
type Aggregator struct {
	strategy Strategy
}

func New(strategy Strategy) *Aggregator {
	return &Aggregator{strategy: strategy}
}

// Aggregate groups acts and ranks the groups. Within a group members are in
// serialization id order regardless of input order. Passing the same activity
// twice is an error.
func (ag *Aggregator) Aggregate(acts []*activity.Activity) ([]*activity.Aggregated, error) {
	groups, err := ag.group(acts)
	if err != nil {
		return nil, err
	}
	return ag.strategy.Rank(groups), nil
}

// Rank orders groups with the strategy's ranking.
func (ag *Aggregator) Rank(groups []*activity.Aggregated) []*activity.Aggregated {
	return ag.strategy.Rank(groups)
}

// Group returns the group key for a.
func (ag *Aggregator) Group(a *activity.Activity) string {
	return ag.strategy.Group(a)
}

// Merge aggregates acts and folds each resulting group into the matching
// existing group. Existing groups are never modified.
func (ag *Aggregator) Merge(existing []*activity.Aggregated, acts []*activity.Activity) (MergeResult, error) {
	current := make(map[string]*activity.Aggregated, len(existing))
	for _, g := range existing {
		current[g.Group] = g
	}

	fresh, err := ag.Aggregate(acts)
	if err != nil {
		return MergeResult{}, err
	}

	var result MergeResult
	for _, g := range fresh {
		old, ok := current[g.Group]
		if !ok {
			result.New = append(result.New, g)
			continue
		}

		merged := old.Clone()
		changed := false
		for _, a := range g.Activities() {
			if merged.Contains(a) {
				continue
			}
			if err := merged.Append(a); err != nil {
				return MergeResult{}, err
			}
			changed = true
		}
		if changed {
			result.Changed = append(result.Changed, Change{Old: old, New: merged})
		}
	}
	return result, nil
}

func (ag *Aggregator) group(acts []*activity.Activity) ([]*activity.Aggregated, error) {
	sorted := slices.Clone(acts)
	slices.SortStableFunc(sorted, func(a, b *activity.Activity) int {
		return a.SerializationID().Compare(b.SerializationID())
	})

	byGroup := map[string]*activity.Aggregated{}
	var order []*activity.Aggregated
	for _, a := range sorted {
		key := ag.strategy.Group(a)
		g, ok := byGroup[key]
		if !ok {
			g = activity.NewAggregated(key)
			byGroup[key] = g
			order = append(order, g)
		}
		if err := g.Append(a); err != nil {
			return nil, err
		}
	}
	return order, nil
}
