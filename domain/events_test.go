package domain

import (
	"strings"
	"testing"
)

func validEvent(kind EventKind) RawEvent {
	ev := RawEvent{
		EventID:    "evt_1",
		Kind:       kind,
		RunID:      "r1",
		SessionID:  "s1",
		OccurredAt: 100,
	}
	switch kind {
	case EventKindDelegationStarted:
		ev.ToolArgs = &ToolArgs{MemberID: "X"}
	case EventKindProviderError:
		ev.ErrorText = "429"
	}
	return ev
}

func TestValidateAcceptsKnownKinds(t *testing.T) {
	kinds := []EventKind{
		EventKindRunStarted,
		EventKindDelegationStarted,
		EventKindDelegationCompleted,
		EventKindContentChunk,
		EventKindRunCompleted,
		EventKindProviderError,
	}
	for _, k := range kinds {
		ev := validEvent(k)
		if err := ev.Validate(); err != nil {
			t.Fatalf("expected %s to validate, got %v", k, err)
		}
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*RawEvent)
		wantErr string
	}{
		{"unknown kind", func(e *RawEvent) { e.Kind = "mystery_event" }, "unknown event kind"},
		{"missing run id", func(e *RawEvent) { e.RunID = "" }, "missing run_id"},
		{"missing session id", func(e *RawEvent) { e.SessionID = "" }, "missing session_id"},
		{"zero timestamp", func(e *RawEvent) { e.OccurredAt = 0 }, "invalid occurred_at"},
		{"negative timestamp", func(e *RawEvent) { e.OccurredAt = -5 }, "invalid occurred_at"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := validEvent(EventKindRunStarted)
			tc.mutate(&ev)
			err := ev.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}

	deleg := validEvent(EventKindDelegationStarted)
	deleg.ToolArgs = nil
	if err := deleg.Validate(); err == nil {
		t.Fatalf("expected delegation_started without tool_args to fail")
	}

	failure := validEvent(EventKindProviderError)
	failure.ErrorText = ""
	if err := failure.Validate(); err == nil {
		t.Fatalf("expected provider_error without error_text to fail")
	}
}

func TestMemberNamePrecedence(t *testing.T) {
	ev := RawEvent{ToolArgs: &ToolArgs{MemberID: "x-id", MemberName: "X"}}
	if got := ev.MemberName(); got != "X" {
		t.Fatalf("expected member_name to win, got %q", got)
	}
	ev.ToolArgs.MemberName = ""
	if got := ev.MemberName(); got != "x-id" {
		t.Fatalf("expected member_id fallback, got %q", got)
	}
	ev.ToolArgs = nil
	if got := ev.MemberName(); got != "" {
		t.Fatalf("expected empty member for nil tool_args, got %q", got)
	}
}

func TestIsTopLevel(t *testing.T) {
	ev := RawEvent{RunID: "r1"}
	if !ev.IsTopLevel() {
		t.Fatalf("run without parent must be top-level")
	}
	ev.ParentRunID = "r0"
	if ev.IsTopLevel() {
		t.Fatalf("run with parent must not be top-level")
	}
}
