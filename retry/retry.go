// Package retry decides whether a provider failure is retryable, computes
// backoff delays, and produces the user-visible retry and error notices.
// Each active run owns its own Controller; attempt counts are never shared
// across runs or sessions.
package retry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nordby/teamline/domain"
)

// DefaultMaxAttempts bounds retries on rate-limited provider calls.
const DefaultMaxAttempts = 3

// State is the controller's position in its retry cycle.
type State string

const (
	StateIdle       State = "idle"
	StateAttempting State = "attempting"
	StateRetrying   State = "retrying"
	StateExhausted  State = "exhausted"
)

// Classification is the result of classifying a provider error.
type Classification struct {
	Retryable bool
	// SuggestedDelay is the provider-suggested delay in seconds, if the
	// error text embeds one. Nil means fall back to exponential backoff.
	SuggestedDelay *float64
}

// Rate-limit signatures: HTTP 429, Google-style RESOURCE_EXHAUSTED, or any
// mention of quota. Everything else is a terminal provider fault.
var delayPatterns = []*regexp.Regexp{
	// "retry in 4.8" / "Retry in 30 seconds"
	regexp.MustCompile(`(?i)retry in ([0-9]+(?:\.[0-9]+)?)`),
	// bare "4.8s" / "12 sec" / "5 seconds"
	regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*s(?:ec(?:onds?)?)?\b`),
}

// Classify inspects a provider error message and decides whether the run
// may be retried.
func Classify(errText string) Classification {
	lower := strings.ToLower(errText)
	retryable := strings.Contains(errText, "429") ||
		strings.Contains(errText, "RESOURCE_EXHAUSTED") ||
		strings.Contains(lower, "quota")
	if !retryable {
		return Classification{}
	}
	c := Classification{Retryable: true}
	for _, p := range delayPatterns {
		if m := p.FindStringSubmatch(errText); m != nil {
			if d, err := strconv.ParseFloat(m[1], 64); err == nil {
				c.SuggestedDelay = &d
				break
			}
		}
	}
	return c
}

// NextDelay returns the exponential backoff delay in seconds for a 1-based
// attempt number: 5, 10, 20, ... capped at 60.
func NextDelay(attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	d := 5.0
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 60 {
			return 60
		}
	}
	if d > 60 {
		return 60
	}
	return d
}

// Controller tracks retry state for one run.
type Controller struct {
	maxAttempts int
	attempt     int
	state       State
}

// NewController creates a controller for one run. maxAttempts <= 0 selects
// the default.
func NewController(maxAttempts int) *Controller {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Controller{maxAttempts: maxAttempts, state: StateIdle}
}

// State returns the controller's current state.
func (c *Controller) State() State { return c.state }

// Attempt returns the number of retries performed so far.
func (c *Controller) Attempt() int { return c.attempt }

// MaxAttempts returns the configured retry bound.
func (c *Controller) MaxAttempts() int { return c.maxAttempts }

// Begin marks the start of a provider attempt.
func (c *Controller) Begin() {
	c.state = StateAttempting
}

// Succeed resets the controller after a successful attempt.
func (c *Controller) Succeed() {
	c.state = StateIdle
	c.attempt = 0
}

// OnError consumes a provider error. If the error is retryable and the
// retry budget is not exhausted, it returns the retry_notice that must be
// streamed before the delay elapses, with the delay to wait. Otherwise it
// returns the terminal error_notice.
func (c *Controller) OnError(errText string, sessionID string, now int64) (notice domain.TranscriptEntry, delaySeconds float64, retryable bool) {
	cls := Classify(errText)
	if cls.Retryable && c.attempt < c.maxAttempts {
		c.attempt++
		c.state = StateRetrying
		delay := NextDelay(c.attempt)
		if cls.SuggestedDelay != nil {
			delay = *cls.SuggestedDelay
		}
		msg := fmt.Sprintf("Rate limit reached. Retrying in %d seconds... (Attempt %d/%d)",
			int(delay), c.attempt, c.maxAttempts)
		return domain.TranscriptEntry{
			Kind:         domain.EntryKindRetryNotice,
			Timestamp:    now,
			SessionID:    sessionID,
			Attempt:      c.attempt,
			MaxAttempts:  c.maxAttempts,
			DelaySeconds: delay,
			Message:      msg,
			Origin:       domain.OriginNotice,
		}, delay, true
	}

	c.state = StateExhausted
	kind := domain.ErrorKindProvider
	msg := fmt.Sprintf("An error occurred: %s", errText)
	if cls.Retryable {
		kind = domain.ErrorKindRateLimit
		msg = fmt.Sprintf("Maximum retries exceeded (%d attempts). The service is experiencing high load. Please try again in a few moments.", c.maxAttempts)
	}
	return domain.TranscriptEntry{
		Kind:      domain.EntryKindErrorNotice,
		Timestamp: now,
		SessionID: sessionID,
		Message:   msg,
		ErrorKind: kind,
		Origin:    domain.OriginNotice,
	}, 0, false
}
