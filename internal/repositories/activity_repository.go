package repositories

import (
	"context"
	"fmt"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/feed"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/verb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ActivityRepository is the global activity store plus the reads the HTTP
// layer needs.
type ActivityRepository interface {
	feed.ActivityStorage
	GetActivityByID(ctx context.Context, id activity.ID) (*activity.Activity, error)
}

// MongoActivityRepository implements ActivityRepository for MongoDB
type MongoActivityRepository struct {
	collection *mongo.Collection
	verbs      *verb.Registry
}

// NewMongoActivityRepository creates a new MongoActivityRepository. verbs
// resolves stored verb ids.
func NewMongoActivityRepository(db *mongo.Database, verbs *verb.Registry) *MongoActivityRepository {
	return &MongoActivityRepository{collection: db.Collection("activities"), verbs: verbs}
}

// AddMany upserts the activities so that retries do not fail on duplicates.
func (r *MongoActivityRepository) AddMany(ctx context.Context, acts []*activity.Activity) error {
	if len(acts) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(acts))
	for _, a := range acts {
		doc := ToDocument(a)
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	_, err := r.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	return err
}

// Remove deletes an activity. Removing a missing activity is not an error.
func (r *MongoActivityRepository) Remove(ctx context.Context, id activity.ID) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id.String()})
	return err
}

// GetMany returns the activities found, in the order of ids.
func (r *MongoActivityRepository) GetMany(ctx context.Context, ids []activity.ID) ([]*activity.Activity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []models.ActivityDocument
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	byID := make(map[string]*activity.Activity, len(docs))
	for _, doc := range docs {
		a, err := FromDocument(doc, r.verbs)
		if err != nil {
			return nil, err
		}
		byID[doc.ID] = a
	}

	out := make([]*activity.Activity, 0, len(docs))
	for _, key := range keys {
		if a, ok := byID[key]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetActivityByID retrieves one activity
func (r *MongoActivityRepository) GetActivityByID(ctx context.Context, id activity.ID) (*activity.Activity, error) {
	var doc models.ActivityDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%w: %s", activity.ErrActivityNotFound, id)
		}
		return nil, err
	}
	return FromDocument(doc, r.verbs)
}

func (r *MongoActivityRepository) Flush(ctx context.Context) error {
	_, err := r.collection.DeleteMany(ctx, bson.D{})
	return err
}

// ToDocument converts an activity into its stored form.
func ToDocument(a *activity.Activity) models.ActivityDocument {
	doc := models.ActivityDocument{
		ID:           a.SerializationID().String(),
		ActorID:      a.ActorID(),
		VerbID:       a.Verb().ID,
		ObjectID:     a.ObjectID(),
		Time:         a.Time(),
		ExtraContext: a.ExtraContext(),
	}
	if targetID, ok := a.TargetID(); ok {
		doc.TargetID = &targetID
	}
	return doc
}

// FromDocument rebuilds an activity. Actor, object and target come back as
// bare ids.
func FromDocument(doc models.ActivityDocument, verbs *verb.Registry) (*activity.Activity, error) {
	v, err := verbs.Get(doc.VerbID)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", doc.ID, err)
	}
	opts := []activity.Option{activity.WithTime(doc.Time)}
	if doc.ExtraContext != nil {
		opts = append(opts, activity.WithExtraContext(doc.ExtraContext))
	}
	if doc.TargetID != nil {
		opts = append(opts, activity.WithTarget(activity.IntID(*doc.TargetID)))
	}
	a, err := activity.New(activity.IntID(doc.ActorID), v, activity.IntID(doc.ObjectID), opts...)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", doc.ID, err)
	}
	return a, nil
}
