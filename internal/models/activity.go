package models

import "time"

// ActivityDocument is an activity as stored in MongoDB. The id is the
// canonical serialization id.
type ActivityDocument struct {
	ID           string         `json:"id" bson:"_id"`
	ActorID      int64          `json:"actor_id" bson:"actor_id"`
	VerbID       int            `json:"verb_id" bson:"verb_id"`
	ObjectID     int64          `json:"object_id" bson:"object_id"`
	TargetID     *int64         `json:"target_id,omitempty" bson:"target_id,omitempty"`
	Time         time.Time      `json:"time" bson:"time"`
	ExtraContext map[string]any `json:"extra_context,omitempty" bson:"extra_context,omitempty"`
}

// CreateActivityRequest defines the request body for publishing an activity
// as the current user.
type CreateActivityRequest struct {
	Verb         string         `json:"verb" validate:"required"`
	ObjectID     int64          `json:"object_id" validate:"gte=0,lt=10000000000"`
	TargetID     *int64         `json:"target_id,omitempty" validate:"omitempty,gte=0"`
	Time         *time.Time     `json:"time,omitempty"`
	ExtraContext map[string]any `json:"extra_context,omitempty"`
}
