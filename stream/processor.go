// Package stream drives one active run: it pulls raw events from the event
// source, persists them to the durable per-run log, derives transcript
// entries through the shared derivation rule, and emits them to the client
// sink, applying retry/backoff on transient provider failures.
package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nordby/teamline/domain"
	"github.com/nordby/teamline/retry"
	"github.com/nordby/teamline/sink"
	"github.com/nordby/teamline/source"
	"github.com/nordby/teamline/store"
	"github.com/nordby/teamline/transcript"
)

// Processor processes live runs. One Processor is shared across sessions;
// all per-run state lives inside Process, so concurrent sessions never
// share retry counters or derivation state.
type Processor struct {
	store       store.Store
	maxAttempts int

	// now and sleep are injectable for tests.
	now   func() int64
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Processor persisting to st. maxAttempts <= 0 selects the
// retry default.
func New(st store.Store, maxAttempts int) *Processor {
	return &Processor{
		store:       st,
		maxAttempts: maxAttempts,
		now:         func() int64 { return time.Now().Unix() },
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Process consumes events from src until the run tree finishes, fails
// terminally, or is cancelled. Every event is appended to the durable log
// before any transcript emission, so a reload always replays at least what
// the client saw. If the client disconnects, the sink is detached and the
// remaining events are still drained and persisted.
func (p *Processor) Process(ctx context.Context, src source.EventSource, snk sink.Sink, sessionID string) (domain.TerminalStatus, error) {
	deriver := transcript.NewDeriver()
	ctrl := retry.NewController(p.maxAttempts)
	ctrl.Begin()

	attached := true
	topRunID := ""
	knownRuns := make(map[string]bool)

	for {
		if attached {
			select {
			case <-snk.Done():
				log.Printf("INFO: client detached from session %s, draining run in background", sessionID)
				attached = false
			default:
			}
		}

		ev, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				// Cancelled by the client. The log keeps everything
				// appended so far; the run ends in CANCELLED.
				p.finishRun(topRunID, domain.RunStatusCancelled, "", p.now())
				if attached {
					snk.Close()
				}
				return domain.TerminalCancelled, nil
			}
			log.Printf("ERROR: event source disconnected mid-run: %v", err)
			p.emitNotice(snk, &attached, domain.TranscriptEntry{
				Kind:      domain.EntryKindErrorNotice,
				Timestamp: p.now(),
				SessionID: sessionID,
				Message:   "The run ended unexpectedly. Please try again.",
				ErrorKind: domain.ErrorKindUnexpected,
			})
			p.finishRun(topRunID, domain.RunStatusFailed, "", p.now())
			if attached {
				snk.Close()
			}
			return domain.TerminalFailed, err
		}

		if ev.SessionID == "" {
			ev.SessionID = sessionID
		}
		if ev.EventID == "" {
			ev.EventID = "evt_" + uuid.New().String()[:8]
		}

		p.trackRun(ctx, ev, &topRunID, knownRuns)

		// Durable append happens-before transcript emission: losing a
		// raw event would permanently desynchronize live and replayed
		// transcripts.
		if err := p.store.AppendEvent(ctx, ev); err != nil {
			log.Printf("ERROR: failed to append event %s: %v", ev.EventID, err)
			p.emitNotice(snk, &attached, domain.TranscriptEntry{
				Kind:      domain.EntryKindErrorNotice,
				Timestamp: p.now(),
				SessionID: sessionID,
				Message:   "The run ended unexpectedly. Please try again.",
				ErrorKind: domain.ErrorKindUnexpected,
			})
			p.finishRun(topRunID, domain.RunStatusFailed, "", p.now())
			if attached {
				snk.Close()
			}
			return domain.TerminalFailed, err
		}

		switch ev.Kind {
		case domain.EventKindProviderError:
			notice, delay, retryable := ctrl.OnError(ev.ErrorText, sessionID, p.now())
			// The notice is streamed before the delay elapses; the
			// client never sees a silent stall.
			p.emitNotice(snk, &attached, notice)
			if !retryable {
				log.Printf("ERROR: provider error terminal after %d retries: %s", ctrl.Attempt(), ev.ErrorText)
				p.finishRun(topRunID, domain.RunStatusFailed, "", p.now())
				if attached {
					snk.Close()
				}
				return domain.TerminalFailed, nil
			}
			log.Printf("WARN: rate limit hit (attempt %d/%d), retrying in %.1fs", ctrl.Attempt(), ctrl.MaxAttempts(), delay)
			if err := p.sleep(ctx, time.Duration(delay*float64(time.Second))); err != nil {
				p.finishRun(topRunID, domain.RunStatusCancelled, "", p.now())
				if attached {
					snk.Close()
				}
				return domain.TerminalCancelled, nil
			}
			// Resumption re-issues the same run request; session,
			// user, and input context are unchanged, and work already
			// completed by child runs is not redone.
			if err := src.Resume(ctx); err != nil {
				log.Printf("ERROR: failed to resume run after retry: %v", err)
				p.emitNotice(snk, &attached, domain.TranscriptEntry{
					Kind:      domain.EntryKindErrorNotice,
					Timestamp: p.now(),
					SessionID: sessionID,
					Message:   "The run ended unexpectedly. Please try again.",
					ErrorKind: domain.ErrorKindUnexpected,
				})
				p.finishRun(topRunID, domain.RunStatusFailed, "", p.now())
				if attached {
					snk.Close()
				}
				return domain.TerminalFailed, err
			}
			ctrl.Begin()
			continue

		case domain.EventKindRunCompleted:
			if err := p.store.CompleteRun(ctx, ev.RunID, domain.RunStatusCompleted, ev.Content, ev.OccurredAt); err != nil {
				log.Printf("ERROR: failed to complete run %s: %v", ev.RunID, err)
			}
			if ev.RunID == topRunID {
				ctrl.Succeed()
			}

		case domain.EventKindContentChunk:
			if attached && ev.Content != "" {
				chunk := sink.Chunk{
					RunID:     ev.RunID,
					SessionID: sessionID,
					Timestamp: ev.OccurredAt,
					Text:      ev.Content,
				}
				if err := snk.SendChunk(chunk); err != nil {
					log.Printf("WARN: sink gone, detaching: %v", err)
					attached = false
				}
			}
		}

		if entry := deriver.Apply(ev); entry != nil && attached {
			if err := snk.SendEntry(*entry); err != nil {
				log.Printf("WARN: sink gone, detaching: %v", err)
				attached = false
			}
		}
	}

	if attached {
		snk.Close()
	}
	return domain.TerminalCompleted, nil
}

// trackRun creates run rows as run_started events arrive so the store's
// view of the run tree is complete before any event of that run persists.
func (p *Processor) trackRun(ctx context.Context, ev *domain.RawEvent, topRunID *string, known map[string]bool) {
	if ev.Kind != domain.EventKindRunStarted || known[ev.RunID] {
		return
	}
	known[ev.RunID] = true
	if *topRunID == "" && ev.IsTopLevel() {
		*topRunID = ev.RunID
	}
	run := &domain.Run{
		RunID:       ev.RunID,
		SessionID:   ev.SessionID,
		ParentRunID: ev.ParentRunID,
		AgentName:   ev.AgentName,
		InputText:   ev.InputText,
		Status:      domain.RunStatusStreaming,
		StartedAt:   ev.OccurredAt,
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		log.Printf("ERROR: failed to create run %s: %v", ev.RunID, err)
	}
}

// emitNotice sends a live-only notice if the client is still attached.
// Notices are transport artifacts; they are never persisted as transcript
// entries and never replayed.
func (p *Processor) emitNotice(snk sink.Sink, attached *bool, entry domain.TranscriptEntry) {
	if !*attached {
		return
	}
	entry.Origin = domain.OriginNotice
	if err := snk.SendEntry(entry); err != nil {
		log.Printf("WARN: sink gone, detaching: %v", err)
		*attached = false
	}
}

// finishRun marks the top-level run terminal. It uses a fresh context so
// persistence survives request cancellation.
func (p *Processor) finishRun(runID string, status domain.RunStatus, finalContent string, completedAt int64) {
	if runID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.CompleteRun(ctx, runID, status, finalContent, completedAt); err != nil {
		log.Printf("ERROR: failed to mark run %s %s: %v", runID, status, err)
	}
}
