package repositories

import (
	"context"
	"errors"

	"github.com/anonto42/nano-midea/fanout/internal/manager"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"gorm.io/gorm"
)

var (
	ErrFollowNotFound   = errors.New("follow relationship not found")
	ErrAlreadyFollowing = errors.New("already following")
)

// FollowRepository defines the interface for follow data operations. It is
// also the follower source of the fan-out.
type FollowRepository interface {
	manager.FollowerSource
	CreateFollow(ctx context.Context, follow *models.Follow) error
	DeleteFollow(ctx context.Context, followerID, followingID int64) error
	IsFollowing(ctx context.Context, followerID, followingID int64) (bool, error)
	GetFollowersCount(ctx context.Context, userID int64) (int64, error)
	GetFollowingCount(ctx context.Context, userID int64) (int64, error)
	GetFollowingIDs(ctx context.Context, userID int64) ([]int64, error)
}

// PostgresFollowRepository implements FollowRepository for PostgreSQL
type PostgresFollowRepository struct {
	db *gorm.DB
}

// NewPostgresFollowRepository creates a new PostgresFollowRepository
func NewPostgresFollowRepository(db *gorm.DB) *PostgresFollowRepository {
	return &PostgresFollowRepository{db: db}
}

func (r *PostgresFollowRepository) CreateFollow(ctx context.Context, follow *models.Follow) error {
	if follow.Priority == "" {
		follow.Priority = string(manager.PriorityLow)
	}
	return followError(r.db.WithContext(ctx).Create(follow).Error)
}

// followError maps the unique index violation on (follower_id, following_id)
// to ErrAlreadyFollowing. It relies on gorm's TranslateError.
func followError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyFollowing
	}
	return err
}

func (r *PostgresFollowRepository) DeleteFollow(ctx context.Context, followerID, followingID int64) error {
	res := r.db.WithContext(ctx).Where("follower_id = ? AND following_id = ?", followerID, followingID).Delete(&models.Follow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFollowNotFound
	}
	return nil
}

func (r *PostgresFollowRepository) IsFollowing(ctx context.Context, followerID, followingID int64) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Follow{}).Where("follower_id = ? AND following_id = ?", followerID, followingID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *PostgresFollowRepository) GetFollowersCount(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Follow{}).Where("following_id = ?", userID).Count(&count).Error
	return count, err
}

func (r *PostgresFollowRepository) GetFollowingCount(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Follow{}).Where("follower_id = ?", userID).Count(&count).Error
	return count, err
}

func (r *PostgresFollowRepository) GetFollowingIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.Follow{}).Where("follower_id = ?", userID).Pluck("following_id", &ids).Error
	return ids, err
}

// GetUserFollowerIDs groups the followers of userID by fan-out priority.
func (r *PostgresFollowRepository) GetUserFollowerIDs(ctx context.Context, userID int64) (map[manager.Priority][]int64, error) {
	var follows []models.Follow
	err := r.db.WithContext(ctx).
		Select("follower_id", "priority").
		Where("following_id = ?", userID).
		Order("follower_id").
		Find(&follows).Error
	if err != nil {
		return nil, err
	}
	return GroupFollowers(follows), nil
}

// GroupFollowers buckets follow edges by priority. Unknown priorities count
// as low.
func GroupFollowers(follows []models.Follow) map[manager.Priority][]int64 {
	out := map[manager.Priority][]int64{}
	for _, f := range follows {
		p := manager.Priority(f.Priority)
		if p != manager.PriorityHigh {
			p = manager.PriorityLow
		}
		out[p] = append(out[p], f.FollowerID)
	}
	return out
}
