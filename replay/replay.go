// Package replay rebuilds a session transcript from persisted run event
// logs only, with no live event source involved. It shares the derivation
// rule with the live stream processor, so a reloaded transcript matches
// what the user saw live, minus transport-only retry and error notices.
package replay

import (
	"context"
	"fmt"

	"github.com/nordby/teamline/domain"
	"github.com/nordby/teamline/store"
	"github.com/nordby/teamline/transcript"
)

// Reconstruct derives the full transcript for a session from the store.
// It is pure: repeated calls against the same stored data return identical
// sequences. Runs are processed in started_at order so retry-induced
// duplicate top-level runs stay idempotent; every entry's timestamp is
// self-contained, so the final ordering comes from the global sort, not
// from processing order.
func Reconstruct(ctx context.Context, st store.Store, sessionID string) ([]domain.TranscriptEntry, error) {
	runs, err := st.LoadRuns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load runs for session %s: %w", sessionID, err)
	}

	deriver := transcript.NewDeriver()
	var entries []domain.TranscriptEntry
	for i := range runs {
		entries = append(entries, deriver.ApplyRun(&runs[i])...)
	}

	transcript.Sort(entries)
	return entries, nil
}
