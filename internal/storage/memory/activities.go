package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/feed"
)

// Activities is the in-memory global activity store.
type Activities struct {
	mu   sync.RWMutex
	byID map[activity.ID]*activity.Activity
}

var _ feed.ActivityStorage = (*Activities)(nil)

func NewActivities() *Activities {
	return &Activities{byID: map[activity.ID]*activity.Activity{}}
}

func (s *Activities) AddMany(_ context.Context, acts []*activity.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range acts {
		s.byID[a.SerializationID()] = a
	}
	return nil
}

func (s *Activities) Remove(_ context.Context, id activity.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *Activities) GetMany(_ context.Context, ids []activity.ID) ([]*activity.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*activity.Activity, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Activities) GetActivityByID(_ context.Context, id activity.ID) (*activity.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", activity.ErrActivityNotFound, id)
	}
	return a, nil
}

// Len returns the number of stored activities.
func (s *Activities) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Activities) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = map[activity.ID]*activity.Activity{}
	return nil
}
