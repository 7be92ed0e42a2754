// Package verb holds the vocabulary of actions an activity can describe.
//
// Naming loosely follows the Activity Streams vocabulary: every verb has a small
// numeric id that ends up inside an activity's serialization id, so ids must
// stay below 1000.
package verb

import (
	"errors"
	"fmt"
	"sort"
)

// MaxID is the exclusive upper bound for verb ids (three decimal digits).
const MaxID = 1000

// ErrUnknownVerb is returned when a registry has no verb for an id.
var ErrUnknownVerb = errors.New("unknown verb")

// Verb describes one kind of action.
type Verb struct {
	ID         int    `json:"id"`
	Infinitive string `json:"infinitive"`
	PastTense  string `json:"past_tense"`
}

func (v Verb) String() string {
	return v.Infinitive
}

var (
	Follow  = Verb{ID: 1, Infinitive: "follow", PastTense: "followed"}
	Comment = Verb{ID: 2, Infinitive: "comment", PastTense: "commented"}
	Love    = Verb{ID: 3, Infinitive: "love", PastTense: "loved"}
	Add     = Verb{ID: 4, Infinitive: "add", PastTense: "added"}
)

// Registry maps verb ids to verbs. It is read-only once built and safe for
// concurrent use.
type Registry struct {
	byID map[int]Verb
}

// NewRegistry builds a registry from the given verbs.
func NewRegistry(verbs ...Verb) (*Registry, error) {
	byID := make(map[int]Verb, len(verbs))
	for _, v := range verbs {
		if v.ID < 0 || v.ID >= MaxID {
			return nil, fmt.Errorf("verb %q: id %d out of range [0, %d)", v.Infinitive, v.ID, MaxID)
		}
		if existing, ok := byID[v.ID]; ok {
			return nil, fmt.Errorf("verb %q: id %d already used by %q", v.Infinitive, v.ID, existing.Infinitive)
		}
		byID[v.ID] = v
	}
	return &Registry{byID: byID}, nil
}

// Default returns a registry with the built-in verbs.
func Default() *Registry {
	r, err := NewRegistry(Follow, Comment, Love, Add)
	if err != nil {
		panic(err)
	}
	return r
}

// Get looks a verb up by id.
func (r *Registry) Get(id int) (Verb, error) {
	v, ok := r.byID[id]
	if !ok {
		return Verb{}, fmt.Errorf("%w: %d", ErrUnknownVerb, id)
	}
	return v, nil
}

// ByInfinitive finds a verb by its infinitive form.
func (r *Registry) ByInfinitive(name string) (Verb, error) {
	for _, v := range r.byID {
		if v.Infinitive == name {
			return v, nil
		}
	}
	return Verb{}, fmt.Errorf("%w: %q", ErrUnknownVerb, name)
}

// All returns the registered verbs ordered by id.
func (r *Registry) All() []Verb {
	out := make([]Verb, 0, len(r.byID))
	for _, v := range r.byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
