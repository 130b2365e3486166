// Package store defines the persistence interface and its SQLite
// implementation. The per-run event log is append-only and single-writer:
// only the run's own live processor appends, and once Append returns the
// event is visible to LoadRuns (read-your-writes).
package store

import (
	"context"

	"github.com/nordby/teamline/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	GetOrCreateSession(ctx context.Context, sessionID, userID string) (*domain.Session, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error)

	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error
	CompleteRun(ctx context.Context, runID string, status domain.RunStatus, finalContent string, completedAt int64) error

	// Event log operations
	AppendEvent(ctx context.Context, event *domain.RawEvent) error
	GetEvents(ctx context.Context, runID string, afterTs int64, kinds []string, limit int) ([]domain.RawEvent, error)

	// LoadRuns returns every run of the session ordered by started_at,
	// each with its full event log in append order.
	LoadRuns(ctx context.Context, sessionID string) ([]domain.Run, error)

	// Lifecycle
	Close() error
}
