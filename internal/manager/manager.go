// Package manager coordinates fan-out on write: it stores an activity once,
// adds it to the author's feed and dispatches chunked tasks that push it into
// every follower's feeds.
package manager

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/feed"
	"github.com/anonto42/nano-midea/fanout/internal/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownFeedType  = errors.New("unknown feed type")
	ErrUnknownOperation = fmt.Errorf("%w: unknown fan-out operation", activity.ErrValidation)
	ErrNoDispatcher     = errors.New("no dispatcher for priority")
)

const (
	DefaultFollowActivityLimit = 5000
	DefaultFanoutChunkSize     = 100
)

// FollowerSource resolves the followers of a user, grouped by priority.
type FollowerSource interface {
	GetUserFollowerIDs(ctx context.Context, userID int64) (map[Priority][]int64, error)
}

// Config wires a Manager.
type Config struct {
	// FeedTypes are the feeds every follower has, by name.
	FeedTypes map[string]feed.Factory
	// UserFeed holds the activities a user authored.
	UserFeed  *feed.Type
	Followers FollowerSource
	// Lanes maps priorities to dispatchers. Priorities without a lane use
	// DefaultLane.
	Lanes               map[Priority]worker.Dispatcher
	DefaultLane         worker.Dispatcher
	FollowActivityLimit int
	FanoutChunkSize     int
	Logger              zerolog.Logger
}

// Manager holds no fan-out state of its own; it is safe for concurrent use.
type Manager struct {
	cfg       Config
	feedNames []string
	logger    zerolog.Logger
}

func New(cfg Config) (*Manager, error) {
	if len(cfg.FeedTypes) == 0 {
		return nil, errors.New("manager: at least one feed type is required")
	}
	if cfg.UserFeed == nil {
		return nil, errors.New("manager: user feed type is required")
	}
	if cfg.Followers == nil {
		return nil, errors.New("manager: follower source is required")
	}
	if cfg.FollowActivityLimit <= 0 {
		cfg.FollowActivityLimit = DefaultFollowActivityLimit
	}
	if cfg.FanoutChunkSize <= 0 {
		cfg.FanoutChunkSize = DefaultFanoutChunkSize
	}
	return &Manager{
		cfg:       cfg,
		feedNames: slices.Sorted(maps.Keys(cfg.FeedTypes)),
		logger:    cfg.Logger.With().Str("component", "manager").Logger(),
	}, nil
}

// FeedTypeNames returns the configured feed type names, sorted.
func (m *Manager) FeedTypeNames() []string { return slices.Clone(m.feedNames) }

// FeedType returns the factory registered under name.
func (m *Manager) FeedType(name string) (feed.Factory, error) {
	f, ok := m.cfg.FeedTypes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeedType, name)
	}
	return f, nil
}

// GetUserFeed returns the feed of activities userID authored.
func (m *Manager) GetUserFeed(userID int64) feed.Interface {
	return m.cfg.UserFeed.Feed(userID)
}

// GetFeeds returns every follower-facing feed of userID by type name.
func (m *Manager) GetFeeds(userID int64) map[string]feed.Interface {
	feeds := make(map[string]feed.Interface, len(m.cfg.FeedTypes))
	for name, f := range m.cfg.FeedTypes {
		feeds[name] = f.Feed(userID)
	}
	return feeds
}

// AddUserActivity stores a, adds it to userID's feed and fans it out to the
// followers. Only the first two steps are synchronous.
func (m *Manager) AddUserActivity(ctx context.Context, userID int64, a *activity.Activity) error {
	if a == nil {
		return fmt.Errorf("%w: nil activity", activity.ErrValidation)
	}
	if err := m.cfg.UserFeed.InsertActivity(ctx, a); err != nil {
		return err
	}
	if _, err := m.GetUserFeed(userID).Add(ctx, a); err != nil {
		return fmt.Errorf("add to user feed: %w", err)
	}

	m.logger.Debug().Int64("user_id", userID).Str("activity_id", a.SerializationID().String()).Msg("activity added")
	_, err := m.fanoutToFollowers(ctx, userID, OpAdd, Args{Activities: []*activity.Activity{a}, Trim: true})
	return err
}

// AddUserActivities adds each activity on behalf of its actor.
func (m *Manager) AddUserActivities(ctx context.Context, acts []*activity.Activity) error {
	for _, a := range acts {
		if a == nil {
			return fmt.Errorf("%w: nil activity", activity.ErrValidation)
		}
		if err := m.AddUserActivity(ctx, a.ActorID(), a); err != nil {
			return err
		}
	}
	return nil
}

// RemoveUserActivity takes a out of userID's feed and the followers' feeds.
// The global activity store is left alone.
func (m *Manager) RemoveUserActivity(ctx context.Context, userID int64, a *activity.Activity) error {
	if a == nil {
		return fmt.Errorf("%w: nil activity", activity.ErrValidation)
	}
	if _, err := m.GetUserFeed(userID).Remove(ctx, a); err != nil {
		return fmt.Errorf("remove from user feed: %w", err)
	}

	m.logger.Debug().Int64("user_id", userID).Str("activity_id", a.SerializationID().String()).Msg("activity removed")
	_, err := m.fanoutToFollowers(ctx, userID, OpRemove, Args{Activities: []*activity.Activity{a}, Trim: false})
	return err
}

func (m *Manager) fanoutToFollowers(ctx context.Context, userID int64, op Op, args Args) ([]*Task, error) {
	followers, err := m.cfg.Followers.GetUserFollowerIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get followers of %d: %w", userID, err)
	}

	var tasks []*Task
	for _, p := range orderedPriorities(followers) {
		for _, name := range m.feedNames {
			created, err := m.CreateFanoutTasks(ctx, followers[p], name, op, args, p)
			tasks = append(tasks, created...)
			if err != nil {
				return tasks, err
			}
		}
	}
	return tasks, nil
}

// CreateFanoutTasks splits followerIDs into chunks and dispatches one task
// per chunk on the lane for priority. It returns the dispatched tasks.
func (m *Manager) CreateFanoutTasks(ctx context.Context, followerIDs []int64, feedType string, op Op, args Args, priority Priority) ([]*Task, error) {
	if _, err := m.FeedType(feedType); err != nil {
		return nil, err
	}
	if err := checkOp(op); err != nil {
		return nil, err
	}
	if len(followerIDs) == 0 {
		return nil, nil
	}
	lane, ok := m.cfg.Lanes[priority]
	if !ok || lane == nil {
		lane = m.cfg.DefaultLane
	}
	if lane == nil {
		return nil, fmt.Errorf("%w %q", ErrNoDispatcher, priority)
	}

	var tasks []*Task
	for chunk := range slices.Chunk(followerIDs, m.cfg.FanoutChunkSize) {
		t := &Task{
			TaskID:   uuid.NewString(),
			FeedType: feedType,
			UserIDs:  slices.Clone(chunk),
			Op:       op,
			Args:     args,
			Priority: priority,
			manager:  m,
		}
		if err := lane.Dispatch(ctx, t); err != nil {
			return tasks, fmt.Errorf("dispatch fan-out task: %w", err)
		}
		tasks = append(tasks, t)
	}

	m.logger.Debug().
		Str("feed_type", feedType).
		Str("op", string(op)).
		Str("priority", string(priority)).
		Int("followers", len(followerIDs)).
		Int("tasks", len(tasks)).
		Msg("fan-out tasks dispatched")
	return tasks, nil
}

// Fanout applies op to the feedType feed of every user, in a single batch.
// Any error fails the whole chunk.
func (m *Manager) Fanout(ctx context.Context, feedType string, userIDs []int64, op Op, args Args) error {
	factory, err := m.FeedType(feedType)
	if err != nil {
		return err
	}
	if err := checkOp(op); err != nil {
		return err
	}

	// Aggregated feeds lock their key for the rest of the batch. Visiting
	// users in one global order keeps concurrent chunks from deadlocking.
	ordered := slices.Compact(slices.Sorted(slices.Values(userIDs)))

	return factory.WithBatch(ctx, func(b feed.Batch) error {
		for _, userID := range ordered {
			f := factory.Feed(userID)
			var err error
			switch op {
			case OpAdd:
				_, err = f.AddMany(ctx, args.Activities, feed.InBatch(b), feed.WithTrim(args.Trim))
			case OpRemove:
				_, err = f.RemoveMany(ctx, args.Activities, feed.InBatch(b), feed.WithTrim(args.Trim))
			}
			if err != nil {
				return fmt.Errorf("%s %s for user %d: %w", op, feedType, userID, err)
			}
		}
		return nil
	})
}

func checkOp(op Op) error {
	switch op {
	case OpAdd, OpRemove:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownOperation, op)
}

func orderedPriorities(followers map[Priority][]int64) []Priority {
	out := make([]Priority, 0, len(followers))
	for _, p := range Priorities {
		if _, ok := followers[p]; ok {
			out = append(out, p)
		}
	}
	for _, p := range slices.Sorted(maps.Keys(followers)) {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
