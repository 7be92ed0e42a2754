package manager

import (
	"context"
	"fmt"
	"slices"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/feed"
)

// FollowUser copies the recent activities of targetID into userID's feeds.
// Recording the follow edge itself is up to the follower source.
func (m *Manager) FollowUser(ctx context.Context, userID, targetID int64) error {
	return m.FollowManyUsers(ctx, userID, []int64{targetID})
}

// FollowManyUsers copies up to FollowActivityLimit activities of each target
// into every feed of userID.
func (m *Manager) FollowManyUsers(ctx context.Context, userID int64, targetIDs []int64) error {
	var acts []*activity.Activity
	for _, targetID := range targetIDs {
		entries, err := m.GetUserFeed(targetID).Slice(ctx, 0, m.cfg.FollowActivityLimit)
		if err != nil {
			return fmt.Errorf("read user feed of %d: %w", targetID, err)
		}
		acts = append(acts, activitiesOf(entries)...)
	}
	acts = uniqueActivities(acts)
	if len(acts) == 0 {
		return nil
	}

	for _, name := range m.feedNames {
		factory := m.cfg.FeedTypes[name]
		err := factory.WithBatch(ctx, func(b feed.Batch) error {
			_, err := factory.Feed(userID).AddMany(ctx, acts, feed.InBatch(b))
			return err
		})
		if err != nil {
			return fmt.Errorf("follow: add to %s feed of %d: %w", name, userID, err)
		}
	}
	m.logger.Info().Int64("user_id", userID).Ints64("targets", targetIDs).Int("activities", len(acts)).Msg("followed")
	return nil
}

func (m *Manager) UnfollowUser(ctx context.Context, userID, targetID int64) error {
	return m.UnfollowManyUsers(ctx, userID, []int64{targetID})
}

// UnfollowManyUsers removes every activity authored by the targets from
// userID's feeds.
func (m *Manager) UnfollowManyUsers(ctx context.Context, userID int64, targetIDs []int64) error {
	for _, name := range m.feedNames {
		factory := m.cfg.FeedTypes[name]
		f := factory.Feed(userID)
		entries, err := f.From(ctx, 0)
		if err != nil {
			return fmt.Errorf("unfollow: read %s feed of %d: %w", name, userID, err)
		}
		acts := slices.DeleteFunc(activitiesOf(entries), func(a *activity.Activity) bool {
			return !slices.Contains(targetIDs, a.ActorID())
		})
		if len(acts) == 0 {
			continue
		}
		err = factory.WithBatch(ctx, func(b feed.Batch) error {
			_, err := f.RemoveMany(ctx, acts, feed.InBatch(b))
			return err
		})
		if err != nil {
			return fmt.Errorf("unfollow: remove from %s feed of %d: %w", name, userID, err)
		}
	}
	m.logger.Info().Int64("user_id", userID).Ints64("targets", targetIDs).Msg("unfollowed")
	return nil
}

// BatchImport loads historical activities of userID. They are stored and added
// to the user feed in chunks; with fanout set they are also pushed to the
// followers. chunkSize defaults to FanoutChunkSize.
func (m *Manager) BatchImport(ctx context.Context, userID int64, acts []*activity.Activity, fanout bool, chunkSize int) error {
	for i, a := range acts {
		if a == nil {
			return fmt.Errorf("%w: activity %d is nil", activity.ErrValidation, i)
		}
		if a.ActorID() != userID {
			return fmt.Errorf("%w: activity %s belongs to user %d, not %d", activity.ErrValidation, a.SerializationID(), a.ActorID(), userID)
		}
	}
	if chunkSize <= 0 {
		chunkSize = m.cfg.FanoutChunkSize
	}

	userFeed := m.GetUserFeed(userID)
	for chunk := range slices.Chunk(acts, chunkSize) {
		if err := m.cfg.UserFeed.InsertActivities(ctx, chunk); err != nil {
			return err
		}
		if _, err := userFeed.AddMany(ctx, chunk, feed.WithTrim(false)); err != nil {
			return fmt.Errorf("import into user feed: %w", err)
		}
		if !fanout {
			continue
		}
		if _, err := m.fanoutToFollowers(ctx, userID, OpAdd, Args{Activities: chunk, Trim: true}); err != nil {
			return err
		}
	}
	m.logger.Info().Int64("user_id", userID).Int("activities", len(acts)).Bool("fanout", fanout).Msg("batch import done")
	return nil
}

// activitiesOf flattens hydrated entries into their activities.
func activitiesOf(entries []activity.Entry) []*activity.Activity {
	var out []*activity.Activity
	for _, e := range entries {
		switch v := e.(type) {
		case *activity.Activity:
			out = append(out, v)
		case *activity.Aggregated:
			out = append(out, v.Activities()...)
		}
	}
	return out
}

func uniqueActivities(acts []*activity.Activity) []*activity.Activity {
	seen := make(map[activity.ID]struct{}, len(acts))
	return slices.DeleteFunc(acts, func(a *activity.Activity) bool {
		if _, ok := seen[a.SerializationID()]; ok {
			return true
		}
		seen[a.SerializationID()] = struct{}{}
		return false
	})
}
