package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/nordby/teamline/domain"
)

// Client opens SSE event streams against an agent-runner endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
}

// NewClient creates a client for the given runner endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute // Long timeout for streaming
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   strings.TrimSuffix(endpoint, "/"),
	}
}

// Open issues the run request and returns a stream of its raw events.
func (c *Client) Open(ctx context.Context, req *domain.RunRequest) (*Stream, error) {
	s := &Stream{client: c, req: req}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Stream is an EventSource backed by one SSE response. Resume tears down
// the current response and re-issues the identical run request.
type Stream struct {
	client  *Client
	req     *domain.RunRequest
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *Stream) connect(ctx context.Context) error {
	body, err := json.Marshal(s.req)
	if err != nil {
		return fmt.Errorf("failed to marshal run request: %w", err)
	}

	url := s.client.endpoint + "/runs"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Session-ID", s.req.SessionID)

	resp, err := s.client.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to invoke runner: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return fmt.Errorf("runner returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	s.body = resp.Body
	s.scanner = bufio.NewScanner(resp.Body)
	s.scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return nil
}

// Next reads the stream until a complete, valid event is parsed. Invalid
// events from the runner are logged and skipped: everything downstream
// assumes the closed, validated union.
func (s *Stream) Next(ctx context.Context) (*domain.RawEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := s.nextData()
		if err != nil {
			return nil, err
		}
		var event domain.RawEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			log.Printf("WARN: failed to parse run event: %v", err)
			continue
		}
		if err := event.Validate(); err != nil {
			log.Printf("WARN: dropping invalid run event: %v", err)
			continue
		}
		return &event, nil
	}
}

// nextData scans SSE lines until one event's data payload is complete.
func (s *Stream) nextData() (string, error) {
	var data string
	for s.scanner.Scan() {
		line := s.scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if data != "" {
				return data, nil
			}
			continue
		}

		if strings.HasPrefix(line, "data:") {
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data != "" {
				data += "\n" + chunk
			} else {
				data = chunk
			}
		}
		// Ignore comments (lines starting with :) and other fields
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	if data != "" {
		return data, nil
	}
	return "", io.EOF
}

// Resume closes the current response and re-issues the same run request.
func (s *Stream) Resume(ctx context.Context) error {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
	return s.connect(ctx)
}

// Close releases the underlying response body.
func (s *Stream) Close() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}
