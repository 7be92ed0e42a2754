package activity

import (
	"errors"
	"fmt"
)

// ErrValidation marks programmer or input errors. They are never retried.
var ErrValidation = errors.New("validation error")

var (
	ErrNotActivity       = fmt.Errorf("%w: can only compare to an activity", ErrValidation)
	ErrDuplicateActivity = fmt.Errorf("%w: duplicate activity", ErrValidation)
	ErrEmptyAggregation  = fmt.Errorf("%w: removing this activity would leave an empty aggregation", ErrValidation)
	ErrDehydrated        = fmt.Errorf("%w: aggregation is dehydrated", ErrValidation)
)

// ErrActivityNotFound is returned when hydration cannot resolve an id. The
// activity store is authoritative for every id still referenced by a timeline,
// so this is a hard error.
var ErrActivityNotFound = errors.New("activity not found")
