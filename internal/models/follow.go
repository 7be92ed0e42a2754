package models

import "time"

// Follow is a follow edge. Priority picks the fan-out lane that delivers the
// followed user's activities to the follower.
type Follow struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	FollowerID  int64     `json:"follower_id" gorm:"index;uniqueIndex:idx_follower_following"`
	FollowingID int64     `json:"following_id" gorm:"index;uniqueIndex:idx_follower_following"`
	Priority    string    `json:"priority" gorm:"size:10;not null;default:low"`
	CreatedAt   time.Time `json:"created_at"`
}

// FollowRequest is the optional body of a follow request.
type FollowRequest struct {
	Priority string `json:"priority" validate:"omitempty,oneof=high low"`
}
