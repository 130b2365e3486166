// Package source provides the event-source collaborator: an ordered,
// blocking iterator of raw run events for one active run tree, with
// resumption support for retry-induced pauses.
package source

import (
	"context"

	"github.com/nordby/teamline/domain"
)

// EventSource yields raw events for one active run tree in arrival order.
type EventSource interface {
	// Next blocks until the next event is available. It returns io.EOF
	// when the run tree has finished cleanly; any other error means the
	// source disconnected mid-run.
	Next(ctx context.Context) (*domain.RawEvent, error)

	// Resume re-issues the same run request after a retryable provider
	// failure. Session, user, and in-flight input context are unchanged.
	Resume(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
