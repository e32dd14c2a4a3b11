// Package store holds the proposal repositories: an in-memory one for tests
// and single-node runs, and a PostgreSQL one.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a proposal id does not exist.
	ErrNotFound = errors.New("proposal not found")

	// ErrStageConflict is returned by RecordDecision when the proposal is no
	// longer at the stage the decision was computed against.
	ErrStageConflict = errors.New("proposal stage changed concurrently")
)

// Option customizes identifier and clock sources of a store.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

func defaultOptions() options {
	return options{
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
