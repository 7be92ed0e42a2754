package models

import "time"

const (
	EntryKindActivity   = "activity"
	EntryKindAggregated = "aggregated"
)

// FeedEntry is one row of a timeline. Plain activities only need their id;
// aggregations keep their member ids and markers in a bson payload.
type FeedEntry struct {
	ID        uint      `gorm:"primaryKey"`
	FeedKey   string    `gorm:"size:64;not null;uniqueIndex:idx_feed_entry;index:idx_feed_score,priority:1"`
	EntryID   string    `gorm:"size:128;not null;uniqueIndex:idx_feed_entry"`
	Score     string    `gorm:"size:32;not null;index:idx_feed_score,priority:2"`
	Kind      string    `gorm:"size:16;not null"`
	Payload   []byte    `gorm:"type:bytea"`
	CreatedAt time.Time
}

// AggregatedPayload is the bson body of an aggregated FeedEntry.
type AggregatedPayload struct {
	Group               string     `bson:"group"`
	ActivityIDs         []string   `bson:"activity_ids"`
	CreatedAt           time.Time  `bson:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at"`
	SeenAt              *time.Time `bson:"seen_at,omitempty"`
	ReadAt              *time.Time `bson:"read_at,omitempty"`
	MinimizedActivities int        `bson:"minimized_activities"`
}
