package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nordby/teamline/domain"
)

func sseFrame(ev *domain.RawEvent) string {
	payload, _ := json.Marshal(ev)
	return fmt.Sprintf("data: %s\n\n", payload)
}

func runnerStub(t *testing.T, frames func(attempt int64) string) (*httptest.Server, *int64) {
	t.Helper()
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs" {
			http.NotFound(w, r)
			return
		}
		n := atomic.AddInt64(&attempts, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, frames(n))
	}))
	t.Cleanup(srv.Close)
	return srv, &attempts
}

func TestStreamParsesEvents(t *testing.T) {
	started := &domain.RawEvent{
		EventID:    "evt_1",
		Kind:       domain.EventKindRunStarted,
		RunID:      "r1",
		SessionID:  "s1",
		OccurredAt: 100,
		AgentName:  "team",
		InputText:  "hi",
	}
	completed := &domain.RawEvent{
		EventID:    "evt_2",
		Kind:       domain.EventKindRunCompleted,
		RunID:      "r1",
		SessionID:  "s1",
		OccurredAt: 101,
		Content:    "hello",
	}

	srv, _ := runnerStub(t, func(int64) string {
		return ": keepalive\n\n" + sseFrame(started) + sseFrame(completed)
	})

	client := NewClient(srv.URL, 5*time.Second)
	stream, err := client.Open(context.Background(), &domain.RunRequest{SessionID: "s1", UserID: "u1", Input: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	first, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Kind != domain.EventKindRunStarted || first.InputText != "hi" {
		t.Fatalf("unexpected first event: %+v", first)
	}

	second, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Kind != domain.EventKindRunCompleted || second.Content != "hello" {
		t.Fatalf("unexpected second event: %+v", second)
	}

	if _, err := stream.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF at stream end, got %v", err)
	}
}

func TestStreamSkipsInvalidEvents(t *testing.T) {
	valid := &domain.RawEvent{
		EventID:    "evt_1",
		Kind:       domain.EventKindRunCompleted,
		RunID:      "r1",
		SessionID:  "s1",
		OccurredAt: 100,
		Content:    "hello",
	}

	srv, _ := runnerStub(t, func(int64) string {
		return "data: not json\n\n" +
			`data: {"kind":"mystery_event","run_id":"r1","session_id":"s1","occurred_at":100}` + "\n\n" +
			sseFrame(valid)
	})

	client := NewClient(srv.URL, 5*time.Second)
	stream, err := client.Open(context.Background(), &domain.RunRequest{SessionID: "s1", Input: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	ev, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.EventID != "evt_1" {
		t.Fatalf("expected the valid event after skipping garbage, got %+v", ev)
	}
}

func TestStreamMultilineData(t *testing.T) {
	// A payload split across data: lines reassembles with newlines, as the
	// SSE wire format prescribes. JSON never contains raw newlines, so the
	// split must land between tokens.
	srv, _ := runnerStub(t, func(int64) string {
		return "data: {\"event_id\":\"evt_1\",\"kind\":\"run_completed\",\ndata: \"run_id\":\"r1\",\"session_id\":\"s1\",\"occurred_at\":100,\"content\":\"hello\"}\n\n"
	})

	client := NewClient(srv.URL, 5*time.Second)
	stream, err := client.Open(context.Background(), &domain.RunRequest{SessionID: "s1", Input: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	ev, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.EventID != "evt_1" || ev.Content != "hello" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestStreamResumeReissuesRequest(t *testing.T) {
	failure := &domain.RawEvent{
		EventID:    "evt_1",
		Kind:       domain.EventKindProviderError,
		RunID:      "r1",
		SessionID:  "s1",
		OccurredAt: 100,
		ErrorText:  "429 Too Many Requests",
	}
	completed := &domain.RawEvent{
		EventID:    "evt_2",
		Kind:       domain.EventKindRunCompleted,
		RunID:      "r2",
		SessionID:  "s1",
		OccurredAt: 140,
		Content:    "hello",
	}

	srv, attempts := runnerStub(t, func(attempt int64) string {
		if attempt == 1 {
			return sseFrame(failure)
		}
		return sseFrame(completed)
	})

	client := NewClient(srv.URL, 5*time.Second)
	stream, err := client.Open(context.Background(), &domain.RunRequest{SessionID: "s1", Input: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	ev, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != domain.EventKindProviderError {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	if err := stream.Resume(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev, err = stream.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != domain.EventKindRunCompleted || ev.Content != "hello" {
		t.Fatalf("unexpected event after resume: %+v", ev)
	}
	if got := atomic.LoadInt64(attempts); got != 2 {
		t.Fatalf("expected 2 runner requests, got %d", got)
	}
}

func TestOpenRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "runner overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, 5*time.Second)
	if _, err := client.Open(context.Background(), &domain.RunRequest{SessionID: "s1", Input: "hi"}); err == nil {
		t.Fatalf("expected error for non-200 runner response")
	}
}
