package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/feed"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresTimelineRepository implements feed.TimelineStorage on the
// feed_entries table. Batches are transactions.
type PostgresTimelineRepository struct {
	db *gorm.DB
}

var (
	_ feed.TimelineStorage = (*PostgresTimelineRepository)(nil)
	_ feed.KeyLocker       = (*PostgresTimelineRepository)(nil)
)

// NewPostgresTimelineRepository creates a new PostgresTimelineRepository
func NewPostgresTimelineRepository(db *gorm.DB) *PostgresTimelineRepository {
	return &PostgresTimelineRepository{db: db}
}

// txBatch is a feed.Batch backed by an open transaction.
type txBatch struct {
	tx *gorm.DB
}

func (*txBatch) Backend() string { return "postgres" }

func (r *PostgresTimelineRepository) conn(ctx context.Context, b feed.Batch) (*gorm.DB, error) {
	if b == nil {
		return r.db.WithContext(ctx), nil
	}
	tb, ok := b.(*txBatch)
	if !ok {
		return nil, fmt.Errorf("postgres timeline cannot use a %s batch", b.Backend())
	}
	return tb.tx.WithContext(ctx), nil
}

func (r *PostgresTimelineRepository) AddMany(ctx context.Context, key string, entries []activity.Entry, b feed.Batch) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	db, err := r.conn(ctx, b)
	if err != nil {
		return 0, err
	}
	rows := make([]models.FeedEntry, 0, len(entries))
	for _, e := range entries {
		row, err := EncodeEntry(key, e)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "feed_key"}, {Name: "entry_id"}},
		DoNothing: true,
	}).Create(&rows)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *PostgresTimelineRepository) RemoveMany(ctx context.Context, key string, entries []activity.Entry, b feed.Batch) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	db, err := r.conn(ctx, b)
	if err != nil {
		return 0, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.EntryID()
	}
	res := db.Where("feed_key = ? AND entry_id IN ?", key, ids).Delete(&models.FeedEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// Trim deletes everything but the newest length rows of key.
func (r *PostgresTimelineRepository) Trim(ctx context.Context, key string, length int, b feed.Batch) error {
	db, err := r.conn(ctx, b)
	if err != nil {
		return err
	}
	keep := db.Model(&models.FeedEntry{}).
		Select("id").
		Where("feed_key = ?", key).
		Order("score DESC, entry_id DESC").
		Limit(length)
	return db.Where("feed_key = ? AND id NOT IN (?)", key, keep).Delete(&models.FeedEntry{}).Error
}

func (r *PostgresTimelineRepository) Count(ctx context.Context, key string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.FeedEntry{}).Where("feed_key = ?", key).Count(&count).Error
	return int(count), err
}

func (r *PostgresTimelineRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("feed_key = ?", key).Delete(&models.FeedEntry{}).Error
}

func (r *PostgresTimelineRepository) GetSlice(ctx context.Context, key string, start, stop int, q feed.Query) ([]activity.Entry, error) {
	db := r.db.WithContext(ctx).Where("feed_key = ?", key)
	if q.Filter.Gte != "" {
		db = db.Where("score >= ?", q.Filter.Gte)
	}
	if q.Filter.Gt != "" {
		db = db.Where("score > ?", q.Filter.Gt)
	}
	if q.Filter.Lte != "" {
		db = db.Where("score <= ?", q.Filter.Lte)
	}
	if q.Filter.Lt != "" {
		db = db.Where("score < ?", q.Filter.Lt)
	}
	if q.Ascending {
		db = db.Order("score ASC, entry_id ASC")
	} else {
		db = db.Order("score DESC, entry_id DESC")
	}
	db = db.Offset(start)
	if stop >= 0 {
		db = db.Limit(stop - start)
	}

	var rows []models.FeedEntry
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]activity.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := DecodeEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// IndexOf counts the rows that sort before entryID, newest first.
func (r *PostgresTimelineRepository) IndexOf(ctx context.Context, key string, entryID string) (int, error) {
	db := r.db.WithContext(ctx)
	var row models.FeedEntry
	err := db.Where("feed_key = ? AND entry_id = ?", key, entryID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, feed.ErrEntryNotFound
	}
	if err != nil {
		return 0, err
	}

	var before int64
	err = db.Model(&models.FeedEntry{}).
		Where("feed_key = ? AND (score > ? OR (score = ? AND entry_id > ?))", key, row.Score, row.Score, row.EntryID).
		Count(&before).Error
	return int(before), err
}

// LockKey takes a transaction scoped advisory lock on key. Postgres releases
// it on commit or rollback, and re-locking in the same transaction stacks.
func (r *PostgresTimelineRepository) LockKey(ctx context.Context, key string, b feed.Batch) error {
	if b == nil {
		return fmt.Errorf("postgres timeline: locking %s needs a batch", key)
	}
	db, err := r.conn(ctx, b)
	if err != nil {
		return err
	}
	if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	return nil
}

// WithBatch runs fn in a transaction. It commits when fn succeeds and rolls
// back otherwise.
func (r *PostgresTimelineRepository) WithBatch(ctx context.Context, fn func(feed.Batch) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txBatch{tx: tx})
	})
}

func (r *PostgresTimelineRepository) Flush(ctx context.Context) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.FeedEntry{}).Error
}
