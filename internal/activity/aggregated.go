package activity

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/anonto42/nano-midea/fanout/internal/verb"
)

// MaxAggregatedActivities bounds how many member activities an aggregation
// keeps. Older members are dropped and only counted.
const MaxAggregatedActivities = 15

// Aggregated groups activities that share a group key.
type Aggregated struct {
	Group     string
	CreatedAt time.Time
	UpdatedAt time.Time
	SeenAt    *time.Time
	ReadAt    *time.Time
	// MinimizedActivities counts members evicted to keep the group bounded.
	MinimizedActivities int

	activities []*Activity
	ids        []ID
	dehydrated bool
}

// NewAggregated returns an empty aggregation for group.
func NewAggregated(group string) *Aggregated {
	return &Aggregated{Group: group}
}

// NewDehydratedAggregated rebuilds a stored aggregation that only carries
// member ids.
func NewDehydratedAggregated(group string, ids []ID) *Aggregated {
	return &Aggregated{Group: group, ids: slices.Clone(ids), dehydrated: true}
}

// Activities returns the members, oldest first.
func (g *Aggregated) Activities() []*Activity {
	return slices.Clone(g.activities)
}

// SerializationID is the 100ms bucket of UpdatedAt. Two groups updated within
// the same bucket share an id.
func (g *Aggregated) SerializationID() int64 {
	return g.UpdatedAt.UnixMilli() / 100
}

func (g *Aggregated) EntryID() string { return g.Group }

func (g *Aggregated) Score() string { return fmt.Sprintf("%020d", g.SerializationID()) }

func (g *Aggregated) IsDehydrated() bool { return g.dehydrated }

// ActivityIDs works for both hydrated and dehydrated aggregations.
func (g *Aggregated) ActivityIDs() []ID {
	if g.dehydrated {
		return slices.Clone(g.ids)
	}
	ids := make([]ID, len(g.activities))
	for i, a := range g.activities {
		ids[i] = a.id
	}
	return ids
}

// Contains reports whether a is a member.
func (g *Aggregated) Contains(a *Activity) bool {
	return a != nil && g.ContainsID(a.id)
}

func (g *Aggregated) ContainsID(id ID) bool {
	return slices.Contains(g.ActivityIDs(), id)
}

// Append adds a member. When the group grows past MaxAggregatedActivities the
// oldest member is evicted and counted in MinimizedActivities.
func (g *Aggregated) Append(a *Activity) error {
	if a == nil {
		return fmt.Errorf("%w: nil activity", ErrValidation)
	}
	if g.dehydrated {
		return ErrDehydrated
	}
	if g.Contains(a) {
		return fmt.Errorf("%w: %s in group %q", ErrDuplicateActivity, a.id, g.Group)
	}

	g.activities = append(g.activities, a)

	if g.CreatedAt.IsZero() {
		g.CreatedAt = a.time
	}
	if g.UpdatedAt.IsZero() || a.time.After(g.UpdatedAt) {
		g.UpdatedAt = a.time
	}

	if len(g.activities) > MaxAggregatedActivities {
		g.activities = slices.Clone(g.activities[1:])
		g.MinimizedActivities++
	}
	return nil
}

// Remove drops a member. Removing a non-member is a no-op; removing the last
// member is refused, delete the whole aggregation instead.
func (g *Aggregated) Remove(a *Activity) error {
	if a == nil {
		return fmt.Errorf("%w: nil activity", ErrValidation)
	}
	if g.dehydrated {
		return ErrDehydrated
	}
	if !g.Contains(a) {
		return nil
	}
	if len(g.activities) == 1 {
		return ErrEmptyAggregation
	}

	g.activities = slices.DeleteFunc(slices.Clone(g.activities), func(m *Activity) bool {
		return m.id == a.id
	})
	g.UpdatedAt = g.LastActivity().time
	if g.MinimizedActivities > 0 {
		g.MinimizedActivities--
	}
	return nil
}

// RemoveMany removes every member found in acts and returns those it removed.
func (g *Aggregated) RemoveMany(acts []*Activity) ([]*Activity, error) {
	var removed []*Activity
	for _, a := range acts {
		if !g.Contains(a) {
			continue
		}
		if err := g.Remove(a); err != nil {
			return removed, err
		}
		removed = append(removed, a)
	}
	return removed, nil
}

// LastActivity returns the most recently appended member.
func (g *Aggregated) LastActivity() *Activity {
	if len(g.activities) == 0 {
		return nil
	}
	return g.activities[len(g.activities)-1]
}

// LastActivities returns the members newest first.
func (g *Aggregated) LastActivities() []*Activity {
	out := slices.Clone(g.activities)
	slices.Reverse(out)
	return out
}

// Verb returns the verb of the first member.
func (g *Aggregated) Verb() verb.Verb {
	if len(g.activities) == 0 {
		return verb.Verb{}
	}
	return g.activities[0].verb
}

// Verbs returns the distinct member verbs in order of first appearance.
func (g *Aggregated) Verbs() []verb.Verb {
	seen := map[int]bool{}
	var out []verb.Verb
	for _, a := range g.activities {
		if seen[a.verb.ID] {
			continue
		}
		seen[a.verb.ID] = true
		out = append(out, a.verb)
	}
	return out
}

func (g *Aggregated) ActorIDs() []int64 {
	return distinct(g.activities, func(a *Activity) int64 { return a.actorID })
}

func (g *Aggregated) ObjectIDs() []int64 {
	return distinct(g.activities, func(a *Activity) int64 { return a.objectID })
}

func distinct(acts []*Activity, key func(*Activity) int64) []int64 {
	seen := map[int64]bool{}
	var out []int64
	for _, a := range acts {
		k := key(a)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// ActorCount approximates the number of distinct actors. Evicted members are
// assumed to come from different actors.
func (g *Aggregated) ActorCount() int {
	return g.MinimizedActivities + len(g.ActorIDs())
}

func (g *Aggregated) OtherActorCount() int {
	return g.ActorCount() - 1
}

func (g *Aggregated) ActivityCount() int {
	return g.MinimizedActivities + len(g.ActivityIDs())
}

// IsSeen reports whether the group was seen after its last update.
func (g *Aggregated) IsSeen() bool {
	return g.SeenAt != nil && !g.SeenAt.Before(g.UpdatedAt)
}

func (g *Aggregated) UpdateSeenAt(now time.Time) {
	g.SeenAt = &now
}

// IsRead reports whether the group was read after its last update.
func (g *Aggregated) IsRead() bool {
	return g.ReadAt != nil && !g.ReadAt.Before(g.UpdatedAt)
}

func (g *Aggregated) UpdateReadAt(now time.Time) {
	g.ReadAt = &now
}

// Clone returns a copy that shares no mutable state with g.
func (g *Aggregated) Clone() *Aggregated {
	c := *g
	c.activities = slices.Clone(g.activities)
	c.ids = slices.Clone(g.ids)
	if g.SeenAt != nil {
		seen := *g.SeenAt
		c.SeenAt = &seen
	}
	if g.ReadAt != nil {
		read := *g.ReadAt
		c.ReadAt = &read
	}
	return &c
}

// Dehydrate returns a copy that keeps only member ids.
func (g *Aggregated) Dehydrate() Entry {
	c := g.Clone()
	if g.dehydrated {
		return c
	}
	c.ids = g.ActivityIDs()
	c.activities = nil
	c.dehydrated = true
	return c
}

// Hydrate returns a copy with members resolved from lookup.
func (g *Aggregated) Hydrate(lookup map[ID]*Activity) (Entry, error) {
	return g.Hydrated(lookup)
}

// Hydrated is Hydrate with a concrete return type.
func (g *Aggregated) Hydrated(lookup map[ID]*Activity) (*Aggregated, error) {
	c := g.Clone()
	if !g.dehydrated {
		return c, nil
	}
	acts := make([]*Activity, 0, len(g.ids))
	for _, id := range g.ids {
		a, ok := lookup[id]
		if !ok || a == nil {
			return nil, fmt.Errorf("%w: %s in group %q", ErrActivityNotFound, id, g.Group)
		}
		acts = append(acts, a)
	}
	c.activities = acts
	c.ids = nil
	c.dehydrated = false
	return c, nil
}

type aggregatedJSON struct {
	Group               string      `json:"group"`
	Activities          []*Activity `json:"activities,omitempty"`
	ActivityIDs         []ID        `json:"activity_ids"`
	ActivityCount       int         `json:"activity_count"`
	ActorCount          int         `json:"actor_count"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
	SeenAt              *time.Time  `json:"seen_at,omitempty"`
	ReadAt              *time.Time  `json:"read_at,omitempty"`
	IsSeen              bool        `json:"is_seen"`
	IsRead              bool        `json:"is_read"`
	MinimizedActivities int         `json:"minimized_activities"`
}

func (g *Aggregated) MarshalJSON() ([]byte, error) {
	return json.Marshal(aggregatedJSON{
		Group:               g.Group,
		Activities:          g.LastActivities(),
		ActivityIDs:         g.ActivityIDs(),
		ActivityCount:       g.ActivityCount(),
		ActorCount:          g.ActorCount(),
		CreatedAt:           g.CreatedAt,
		UpdatedAt:           g.UpdatedAt,
		SeenAt:              g.SeenAt,
		ReadAt:              g.ReadAt,
		IsSeen:              g.IsSeen(),
		IsRead:              g.IsRead(),
		MinimizedActivities: g.MinimizedActivities,
	})
}
