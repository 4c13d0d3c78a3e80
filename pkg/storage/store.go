package storage

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable reports that the backing store could not be reached or
// timed out. Callers surface it as a retryable server error.
var ErrUnavailable = errors.New("event store unavailable")

// EventRecord is one persisted repository event.
type EventRecord struct {
	RequestID  string
	Author     string
	Action     string
	FromBranch string
	ToBranch   string
	EventAt    time.Time
	Repository string
	Message    string
}

// EventStore defines persistence for repository events. UpsertEvent is
// keyed by (RequestID, Action): a redelivery of the same action replaces
// the existing row instead of duplicating it.
type EventStore interface {
	UpsertEvent(ctx context.Context, record EventRecord) error
	// ListRecent returns up to limit events, newest first. Ties on the
	// event timestamp break by insertion order, newest first.
	ListRecent(ctx context.Context, limit int) ([]EventRecord, error)
	// DeleteOlderThan removes events whose timestamp is before cutoff and
	// returns the number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
