// Package activity defines the feed data model: single activities, their
// dehydrated stand-ins and bounded aggregations of related activities.
package activity

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/anonto42/nano-midea/fanout/internal/verb"
)

// Object is anything an activity can reference: an actor, an object or a
// target.
type Object interface {
	ObjectID() int64
}

// IntID is a bare reference that has not been resolved to an application
// object.
type IntID int64

func (i IntID) ObjectID() int64 { return int64(i) }

// Entry is the contract for everything a timeline stores.
type Entry interface {
	// EntryID identifies the entry within one timeline.
	EntryID() string
	// Score is a fixed width string that sorts chronologically.
	Score() string
	IsDehydrated() bool
	ActivityIDs() []ID
	Dehydrate() Entry
	Hydrate(lookup map[ID]*Activity) (Entry, error)
}

// Activity records that an actor performed a verb on an object. It is
// immutable once built.
type Activity struct {
	actor  Object
	object Object
	target Object

	actorID   int64
	objectID  int64
	targetID  int64
	hasTarget bool

	verb  verb.Verb
	time  time.Time
	extra map[string]any

	id ID
}

// Option configures optional activity fields.
type Option func(*Activity)

// WithTarget sets the optional target.
func WithTarget(target Object) Option {
	return func(a *Activity) {
		if target == nil {
			return
		}
		a.target = resolved(target)
		a.targetID = target.ObjectID()
		a.hasTarget = true
	}
}

// WithTime sets the activity time. Without it the activity happens now.
func WithTime(t time.Time) Option {
	return func(a *Activity) { a.time = t }
}

// WithExtraContext attaches an opaque key/value bag. The map is copied.
func WithExtraContext(extra map[string]any) Option {
	return func(a *Activity) { a.extra = maps.Clone(extra) }
}

// New builds an activity and computes its serialization id.
func New(actor Object, v verb.Verb, object Object, opts ...Option) (*Activity, error) {
	if actor == nil || object == nil {
		return nil, fmt.Errorf("%w: actor and object are required", ErrValidation)
	}

	a := &Activity{
		actor:    resolved(actor),
		object:   resolved(object),
		actorID:  actor.ObjectID(),
		objectID: object.ObjectID(),
		verb:     v,
		time:     time.Now(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.extra == nil {
		a.extra = map[string]any{}
	}
	if !a.time.IsZero() {
		a.time = time.UnixMilli(a.time.UnixMilli()).UTC()
	}

	id, err := NewID(a.time, a.objectID, a.verb.ID)
	if err != nil {
		return nil, err
	}
	a.id = id
	return a, nil
}

// MustNew is New for tests and fixtures.
func MustNew(actor Object, v verb.Verb, object Object, opts ...Option) *Activity {
	a, err := New(actor, v, object, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

func resolved(o Object) Object {
	if _, ok := o.(IntID); ok {
		return nil
	}
	return o
}

// Actor returns the resolved actor, or nil when only the id is known.
func (a *Activity) Actor() Object { return a.actor }

func (a *Activity) ActorID() int64 { return a.actorID }

// Object returns the resolved object, or nil when only the id is known.
func (a *Activity) Object() Object { return a.object }

func (a *Activity) ObjectID() int64 { return a.objectID }

// Target returns the resolved target, or nil.
func (a *Activity) Target() Object { return a.target }

// TargetID returns the target id and whether the activity has a target.
func (a *Activity) TargetID() (int64, bool) { return a.targetID, a.hasTarget }

func (a *Activity) Verb() verb.Verb { return a.verb }

func (a *Activity) Time() time.Time { return a.time }

// ExtraContext returns a copy of the extra context.
func (a *Activity) ExtraContext() map[string]any { return maps.Clone(a.extra) }

func (a *Activity) SerializationID() ID { return a.id }

// Equal reports whether other is the same activity. Comparing against
// anything that is not an activity is an error.
func (a *Activity) Equal(other any) (bool, error) {
	o, ok := other.(*Activity)
	if !ok || o == nil {
		return false, fmt.Errorf("%w, got %T", ErrNotActivity, other)
	}
	return a.id == o.id, nil
}

// Less orders activities by serialization id.
func (a *Activity) Less(other *Activity) bool { return a.id.Less(other.id) }

func (a *Activity) String() string {
	return fmt.Sprintf("%d %s %d at %s", a.actorID, a.verb.PastTense, a.objectID, a.time.Format(time.RFC3339))
}

func (a *Activity) EntryID() string { return a.id.Key() }

func (a *Activity) Score() string { return a.id.Key() }

func (a *Activity) IsDehydrated() bool { return false }

func (a *Activity) ActivityIDs() []ID { return []ID{a.id} }

// Dehydrate returns a stand-in that only carries the serialization id.
func (a *Activity) Dehydrate() Entry { return Dehydrated{id: a.id} }

func (a *Activity) Hydrate(map[ID]*Activity) (Entry, error) { return a, nil }

type activityJSON struct {
	ID           ID             `json:"id"`
	ActorID      int64          `json:"actor_id"`
	Verb         verb.Verb      `json:"verb"`
	ObjectID     int64          `json:"object_id"`
	TargetID     *int64         `json:"target_id,omitempty"`
	Time         time.Time      `json:"time"`
	ExtraContext map[string]any `json:"extra_context,omitempty"`
}

func (a *Activity) MarshalJSON() ([]byte, error) {
	out := activityJSON{
		ID:           a.id,
		ActorID:      a.actorID,
		Verb:         a.verb,
		ObjectID:     a.objectID,
		Time:         a.time,
		ExtraContext: a.extra,
	}
	if a.hasTarget {
		target := a.targetID
		out.TargetID = &target
	}
	return json.Marshal(out)
}

// Dehydrated stands in for an activity inside timelines that should not carry
// full payloads.
type Dehydrated struct {
	id ID
}

// NewDehydrated wraps a serialization id.
func NewDehydrated(id ID) Dehydrated { return Dehydrated{id: id} }

func (d Dehydrated) SerializationID() ID { return d.id }

func (d Dehydrated) EntryID() string { return d.id.Key() }

func (d Dehydrated) Score() string { return d.id.Key() }

func (d Dehydrated) IsDehydrated() bool { return true }

func (d Dehydrated) ActivityIDs() []ID { return []ID{d.id} }

func (d Dehydrated) Dehydrate() Entry { return d }

// Hydrate resolves the full activity from lookup.
func (d Dehydrated) Hydrate(lookup map[ID]*Activity) (Entry, error) {
	a, ok := lookup[d.id]
	if !ok || a == nil {
		return nil, fmt.Errorf("%w: %s", ErrActivityNotFound, d.id)
	}
	return a, nil
}

func (d Dehydrated) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID         ID   `json:"id"`
		Dehydrated bool `json:"dehydrated"`
	}{ID: d.id, Dehydrated: true})
}
