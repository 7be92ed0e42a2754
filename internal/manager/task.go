package manager

import (
	"context"
	"fmt"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/worker"
)

// Priority selects the worker lane a fan-out task runs on.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

// Priorities lists the known priorities, highest first.
var Priorities = []Priority{PriorityHigh, PriorityLow}

// Op names a fan-out operation. Tasks carry the name, not a function, so they
// stay serializable.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// Args are the operation arguments carried by a fan-out task.
type Args struct {
	Activities []*activity.Activity `json:"activities"`
	Trim       bool                 `json:"trim"`
}

// Task applies one operation to the feeds of a chunk of followers.
type Task struct {
	TaskID   string   `json:"id"`
	FeedType string   `json:"feed_type"`
	UserIDs  []int64  `json:"user_ids"`
	Op       Op       `json:"op"`
	Args     Args     `json:"args"`
	Priority Priority `json:"priority"`

	manager *Manager
}

var _ worker.Job = (*Task)(nil)

func (t *Task) ID() string { return t.TaskID }

func (t *Task) Name() string {
	return fmt.Sprintf("fanout:%s:%s:%s", t.Priority, t.FeedType, t.Op)
}

// Run executes the task. Retrying a failed task is safe because adds and
// removes are idempotent.
func (t *Task) Run(ctx context.Context) error {
	return t.manager.Fanout(ctx, t.FeedType, t.UserIDs, t.Op, t.Args)
}
