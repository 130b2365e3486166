// Package transcript derives user-visible transcript entries from raw run
// events. The derivation rule here is the single source of truth for both
// the live stream processor and the reconstruction engine; the two paths
// must agree bit-for-bit, so neither may carry its own copy of this logic.
package transcript

import (
	"sort"

	"github.com/nordby/teamline/domain"
)

// internalTools are coordination tool names that never surface as their own
// transcript entries. Delegation calls among them still trigger banners via
// the member fields in tool_args.
var internalTools = map[string]bool{
	"think":          true,
	"analyze":        true,
	"reasoning_step": true,
}

// Deriver applies the derivation rule event by event. One Deriver covers one
// derivation pass: a single live run tree, or one full session replay. It is
// side-effect free apart from its own idempotency state.
type Deriver struct {
	// lastTopInput tracks the input of the most recent top-level run so
	// that a retry-induced duplicate run_started for the same turn does
	// not yield a second user_message.
	lastTopInput string
	sawTopInput  bool
}

// NewDeriver returns a Deriver with empty idempotency state.
func NewDeriver() *Deriver {
	return &Deriver{}
}

// Apply applies the derivation rule to one event and returns zero or one
// transcript entry. Events must be applied in per-run log order.
func (d *Deriver) Apply(ev *domain.RawEvent) *domain.TranscriptEntry {
	switch ev.Kind {
	case domain.EventKindRunStarted:
		return d.applyRunStarted(ev)
	case domain.EventKindDelegationStarted:
		return applyDelegationStarted(ev)
	case domain.EventKindDelegationCompleted:
		return applyDelegationCompleted(ev)
	case domain.EventKindRunCompleted:
		return d.applyRunCompleted(ev)
	}
	// content_chunk is a live-only rendering aid with no transcript
	// representation; provider_error surfaces through the retry
	// controller, never through derivation.
	return nil
}

// ApplyRun applies the derivation rule to every event of a run, in log
// order, and returns the derived entries.
func (d *Deriver) ApplyRun(run *domain.Run) []domain.TranscriptEntry {
	var entries []domain.TranscriptEntry
	for i := range run.Events {
		if e := d.Apply(&run.Events[i]); e != nil {
			entries = append(entries, *e)
		}
	}
	return entries
}

func (d *Deriver) applyRunStarted(ev *domain.RawEvent) *domain.TranscriptEntry {
	if !ev.IsTopLevel() || ev.InputText == "" {
		return nil
	}
	// Consecutive top-level runs with identical input belong to one turn;
	// only the first contributes a user message.
	if d.sawTopInput && d.lastTopInput == ev.InputText {
		return nil
	}
	d.lastTopInput = ev.InputText
	d.sawTopInput = true
	return &domain.TranscriptEntry{
		Kind:      domain.EntryKindUserMessage,
		Timestamp: ev.OccurredAt,
		SessionID: ev.SessionID,
		Content:   ev.InputText,
		Origin:    domain.OriginUserMessage,
	}
}

func applyDelegationStarted(ev *domain.RawEvent) *domain.TranscriptEntry {
	if internalTools[ev.ToolName] {
		return nil
	}
	member := ev.MemberName()
	if member == "" {
		return nil
	}
	var task string
	if ev.ToolArgs != nil {
		task = ev.ToolArgs.TaskDescription
	}
	return &domain.TranscriptEntry{
		Kind:            domain.EntryKindDelegationBanner,
		Timestamp:       ev.OccurredAt,
		SessionID:       ev.SessionID,
		DelegatedTo:     member,
		TaskDescription: task,
		Origin:          domain.OriginDelegation,
	}
}

func applyDelegationCompleted(ev *domain.RawEvent) *domain.TranscriptEntry {
	member := ev.MemberName()
	if member == "" || ev.ToolResult == "" {
		return nil
	}
	// Timestamped at the event, not at the parent run: this is when the
	// sub-work actually finished.
	return &domain.TranscriptEntry{
		Kind:        domain.EntryKindAgentResponse,
		Timestamp:   ev.OccurredAt,
		SessionID:   ev.SessionID,
		SpeakerName: member,
		Content:     ev.ToolResult,
		Origin:      domain.OriginDelegationResult,
	}
}

func (d *Deriver) applyRunCompleted(ev *domain.RawEvent) *domain.TranscriptEntry {
	// A completed top-level run closes the turn. Retry-induced duplicate
	// run_started events only follow runs that never completed, so an
	// identical input after this point is a genuinely new user turn.
	if ev.IsTopLevel() {
		d.sawTopInput = false
		d.lastTopInput = ""
	}
	if ev.Content == "" {
		return nil
	}
	return &domain.TranscriptEntry{
		Kind:        domain.EntryKindAgentResponse,
		Timestamp:   ev.OccurredAt,
		SessionID:   ev.SessionID,
		SpeakerName: ev.AgentName,
		Content:     ev.Content,
		Origin:      domain.OriginFinalContent,
	}
}

// Sort orders entries by timestamp ascending, breaking ties by derivation
// origin. The sort is stable so equal entries keep their derivation order.
func Sort(entries []domain.TranscriptEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp < entries[j].Timestamp
		}
		return entries[i].Origin < entries[j].Origin
	})
}
