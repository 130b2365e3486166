// Package domain defines the core domain models for the run stream
// processor: raw run events, runs, sessions, and transcript entries.
package domain

import "fmt"

// EventKind identifies the type of a raw run event.
type EventKind string

const (
	EventKindRunStarted          EventKind = "run_started"
	EventKindDelegationStarted   EventKind = "delegation_started"
	EventKindDelegationCompleted EventKind = "delegation_completed"
	EventKindContentChunk        EventKind = "content_chunk"
	EventKindRunCompleted        EventKind = "run_completed"
	EventKindProviderError       EventKind = "provider_error"
)

// KnownEventKind reports whether k is one of the load-bearing event kinds.
func KnownEventKind(k EventKind) bool {
	switch k {
	case EventKindRunStarted, EventKindDelegationStarted, EventKindDelegationCompleted,
		EventKindContentChunk, EventKindRunCompleted, EventKindProviderError:
		return true
	}
	return false
}

// ToolArgs carries the arguments of a delegation tool call.
type ToolArgs struct {
	MemberID        string `json:"member_id,omitempty"`
	MemberName      string `json:"member_name,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
}

// RawEvent is an immutable record emitted by the orchestration backend
// during a run. Fields beyond the common header are populated per kind.
type RawEvent struct {
	EventID     string    `json:"event_id"`
	Kind        EventKind `json:"kind"`
	RunID       string    `json:"run_id"`
	ParentRunID string    `json:"parent_run_id,omitempty"`
	SessionID   string    `json:"session_id"`

	// OccurredAt is Unix seconds, never milliseconds. Global transcript
	// ordering is derived from this field, not from arrival order.
	OccurredAt int64 `json:"occurred_at"`

	AgentName string `json:"agent_name,omitempty"`

	// InputText is set on run_started events for top-level runs.
	InputText string `json:"input_text,omitempty"`

	// Delegation fields.
	ToolName   string    `json:"tool_name,omitempty"`
	ToolArgs   *ToolArgs `json:"tool_args,omitempty"`
	ToolResult string    `json:"tool_result,omitempty"`
	ChildRunID string    `json:"child_run_id,omitempty"`

	// Content carries partial or full generated text (content_chunk,
	// run_completed).
	Content string `json:"content,omitempty"`

	// ErrorText carries the provider failure message on provider_error
	// events, including any embedded retry delay hint.
	ErrorText string `json:"error_text,omitempty"`
}

// Validate checks the event at the source boundary. Events from the
// orchestration backend are duck-typed on the wire; everything downstream
// assumes a closed, validated union.
func (e *RawEvent) Validate() error {
	if !KnownEventKind(e.Kind) {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.RunID == "" {
		return fmt.Errorf("%s event missing run_id", e.Kind)
	}
	if e.SessionID == "" {
		return fmt.Errorf("%s event missing session_id", e.Kind)
	}
	if e.OccurredAt <= 0 {
		return fmt.Errorf("%s event has invalid occurred_at %d", e.Kind, e.OccurredAt)
	}
	switch e.Kind {
	case EventKindDelegationStarted:
		if e.ToolArgs == nil {
			return fmt.Errorf("delegation_started event missing tool_args")
		}
	case EventKindProviderError:
		if e.ErrorText == "" {
			return fmt.Errorf("provider_error event missing error_text")
		}
	}
	return nil
}

// IsTopLevel reports whether the event belongs to a top-level run.
func (e *RawEvent) IsTopLevel() bool {
	return e.ParentRunID == ""
}

// MemberName returns the display name of the delegated member, preferring
// member_name over member_id.
func (e *RawEvent) MemberName() string {
	if e.ToolArgs == nil {
		return ""
	}
	if e.ToolArgs.MemberName != "" {
		return e.ToolArgs.MemberName
	}
	return e.ToolArgs.MemberID
}
