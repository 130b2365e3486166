package domain

// EntryKind is the stable string tag identifying a transcript entry on the
// wire.
type EntryKind string

const (
	EntryKindUserMessage      EntryKind = "user_message"
	EntryKindDelegationBanner EntryKind = "delegation_banner"
	EntryKindAgentResponse    EntryKind = "agent_response"
	EntryKindRetryNotice      EntryKind = "retry_notice"
	EntryKindErrorNotice      EntryKind = "error_notice"
)

// EntryOrigin ranks an entry by the derivation rule that produced it.
// It breaks timestamp ties: user message before delegation banner before
// delegation result before final content.
type EntryOrigin int

const (
	OriginUserMessage EntryOrigin = iota
	OriginDelegation
	OriginDelegationResult
	OriginFinalContent
	OriginNotice
)

// Error kinds carried by error_notice entries.
const (
	ErrorKindRateLimit  = "rate_limit"
	ErrorKindProvider   = "provider"
	ErrorKindUnexpected = "unexpected"
)

// TranscriptEntry is the unit rendered to the user. Timestamp is an
// integer count of seconds since the Unix epoch — never milliseconds.
type TranscriptEntry struct {
	Kind      EntryKind `json:"kind"`
	Timestamp int64     `json:"timestamp"`
	SessionID string    `json:"session_id"`

	// user_message / agent_response
	Content     string `json:"content,omitempty"`
	SpeakerName string `json:"speaker_name,omitempty"`

	// delegation_banner
	DelegatedTo     string `json:"delegated_to,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`

	// retry_notice
	Attempt      int     `json:"attempt,omitempty"`
	MaxAttempts  int     `json:"max_attempts,omitempty"`
	DelaySeconds float64 `json:"delay_seconds,omitempty"`

	// retry_notice / error_notice
	Message   string `json:"message,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	// Origin is derivation metadata for tie-break ordering; it is not
	// part of the wire format.
	Origin EntryOrigin `json:"-"`
}

// TerminalStatus is the outcome of one live run.
type TerminalStatus string

const (
	TerminalCompleted TerminalStatus = "completed"
	TerminalFailed    TerminalStatus = "failed"
	TerminalCancelled TerminalStatus = "cancelled"
)

// RunRequest is a client request to start a run in a session.
type RunRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Input     string `json:"input"`
}
