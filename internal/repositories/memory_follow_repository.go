package repositories

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/fanout/internal/manager"
	"github.com/anonto42/nano-midea/fanout/internal/models"
)

type edge struct{ follower, following int64 }

// MemoryFollowRepository implements FollowRepository in process, for
// STORAGE_BACKEND=memory and tests.
type MemoryFollowRepository struct {
	mu     sync.RWMutex
	nextID uint
	edges  map[edge]models.Follow
}

// NewMemoryFollowRepository creates a new MemoryFollowRepository
func NewMemoryFollowRepository() *MemoryFollowRepository {
	return &MemoryFollowRepository{edges: map[edge]models.Follow{}}
}

func (s *MemoryFollowRepository) CreateFollow(_ context.Context, follow *models.Follow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := edge{follow.FollowerID, follow.FollowingID}
	if _, ok := s.edges[key]; ok {
		return ErrAlreadyFollowing
	}
	if follow.Priority == "" {
		follow.Priority = string(manager.PriorityLow)
	}
	s.nextID++
	follow.ID = s.nextID
	follow.CreatedAt = time.Now()
	s.edges[key] = *follow
	return nil
}

func (s *MemoryFollowRepository) DeleteFollow(_ context.Context, followerID, followingID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := edge{followerID, followingID}
	if _, ok := s.edges[key]; !ok {
		return ErrFollowNotFound
	}
	delete(s.edges, key)
	return nil
}

func (s *MemoryFollowRepository) IsFollowing(_ context.Context, followerID, followingID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[edge{followerID, followingID}]
	return ok, nil
}

func (s *MemoryFollowRepository) GetFollowersCount(_ context.Context, userID int64) (int64, error) {
	return int64(len(s.matching(func(e edge) bool { return e.following == userID }))), nil
}

func (s *MemoryFollowRepository) GetFollowingCount(_ context.Context, userID int64) (int64, error) {
	return int64(len(s.matching(func(e edge) bool { return e.follower == userID }))), nil
}

func (s *MemoryFollowRepository) GetFollowingIDs(_ context.Context, userID int64) ([]int64, error) {
	var ids []int64
	for _, f := range s.matching(func(e edge) bool { return e.follower == userID }) {
		ids = append(ids, f.FollowingID)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryFollowRepository) GetUserFollowerIDs(_ context.Context, userID int64) (map[manager.Priority][]int64, error) {
	out := map[manager.Priority][]int64{}
	for _, f := range s.matching(func(e edge) bool { return e.following == userID }) {
		p := manager.Priority(f.Priority)
		out[p] = append(out[p], f.FollowerID)
	}
	for _, ids := range out {
		slices.Sort(ids)
	}
	return out, nil
}

func (s *MemoryFollowRepository) matching(keep func(edge) bool) []models.Follow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Follow
	for e, f := range s.edges {
		if keep(e) {
			out = append(out, f)
		}
	}
	return out
}
