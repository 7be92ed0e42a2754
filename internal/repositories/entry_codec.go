package repositories

import (
	"fmt"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// EncodeEntry turns a timeline entry into a row of feedKey. Entries are
// stored dehydrated.
func EncodeEntry(feedKey string, e activity.Entry) (models.FeedEntry, error) {
	row := models.FeedEntry{FeedKey: feedKey, EntryID: e.EntryID(), Score: e.Score()}

	switch v := e.Dehydrate().(type) {
	case activity.Dehydrated:
		row.Kind = models.EntryKindActivity
	case *activity.Aggregated:
		payload := models.AggregatedPayload{
			Group:               v.Group,
			CreatedAt:           v.CreatedAt,
			UpdatedAt:           v.UpdatedAt,
			SeenAt:              v.SeenAt,
			ReadAt:              v.ReadAt,
			MinimizedActivities: v.MinimizedActivities,
		}
		for _, id := range v.ActivityIDs() {
			payload.ActivityIDs = append(payload.ActivityIDs, id.String())
		}
		b, err := bson.Marshal(payload)
		if err != nil {
			return models.FeedEntry{}, fmt.Errorf("encode aggregation %q: %w", v.Group, err)
		}
		row.Kind = models.EntryKindAggregated
		row.Payload = b
	default:
		return models.FeedEntry{}, fmt.Errorf("%w: cannot store %T", activity.ErrValidation, v)
	}
	return row, nil
}

// DecodeEntry rebuilds a dehydrated entry from a row.
func DecodeEntry(row models.FeedEntry) (activity.Entry, error) {
	switch row.Kind {
	case models.EntryKindActivity:
		id, err := activity.ParseID(row.EntryID)
		if err != nil {
			return nil, fmt.Errorf("decode entry %q: %w", row.EntryID, err)
		}
		return activity.NewDehydrated(id), nil

	case models.EntryKindAggregated:
		var payload models.AggregatedPayload
		if err := bson.Unmarshal(row.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode aggregation %q: %w", row.EntryID, err)
		}
		ids := make([]activity.ID, 0, len(payload.ActivityIDs))
		for _, s := range payload.ActivityIDs {
			id, err := activity.ParseID(s)
			if err != nil {
				return nil, fmt.Errorf("decode aggregation %q: %w", row.EntryID, err)
			}
			ids = append(ids, id)
		}
		g := activity.NewDehydratedAggregated(payload.Group, ids)
		g.CreatedAt = payload.CreatedAt
		g.UpdatedAt = payload.UpdatedAt
		g.SeenAt = payload.SeenAt
		g.ReadAt = payload.ReadAt
		g.MinimizedActivities = payload.MinimizedActivities
		return g, nil
	}
	return nil, fmt.Errorf("decode entry %q: unknown kind %q", row.EntryID, row.Kind)
}
