package domain

import (
	"encoding/json"
	"time"
)

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "CREATED"
	RunStatusStreaming RunStatus = "STREAMING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the status is a terminal state. Once a run is
// terminal its event log is immutable and owned by the store.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Session represents a named conversation. It owns an ordered append log
// of runs and is read-only once no run is active.
type Session struct {
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Run is one execution of a team or agent. Runs form a tree keyed by
// ParentRunID; an empty ParentRunID marks a top-level run.
type Run struct {
	RunID        string    `json:"run_id"`
	SessionID    string    `json:"session_id"`
	ParentRunID  string    `json:"parent_run_id,omitempty"`
	AgentName    string    `json:"agent_name"`
	InputText    string    `json:"input_text,omitempty"`
	FinalContent string    `json:"final_content,omitempty"`
	Status       RunStatus `json:"status"`

	// StartedAt and CompletedAt are Unix seconds, matching RawEvent
	// timestamps so live and replayed transcripts agree.
	StartedAt   int64  `json:"started_at"`
	CompletedAt *int64 `json:"completed_at,omitempty"`

	// Events is the ordered per-run event log.
	Events []RawEvent `json:"events,omitempty"`
}

// IsTopLevel reports whether the run has no parent.
func (r *Run) IsTopLevel() bool {
	return r.ParentRunID == ""
}
