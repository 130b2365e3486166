package sink

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nordby/teamline/domain"
)

// SSESink streams frames to one HTTP client as server-sent events.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	done    <-chan struct{}
	closed  bool
}

// NewSSESink prepares an SSE response on w. done should be the request
// context's Done channel so client disconnects detach the sink.
func NewSSESink(w http.ResponseWriter, done <-chan struct{}) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSESink{w: w, flusher: flusher, done: done}, nil
}

// SendEntry writes one transcript entry frame, tagged with its kind.
func (s *SSESink) SendEntry(entry domain.TranscriptEntry) error {
	return s.write(string(entry.Kind), entry)
}

// SendChunk writes a live content_chunk frame.
func (s *SSESink) SendChunk(chunk Chunk) error {
	return s.write("content_chunk", chunk)
}

// Done is closed when the client disconnects.
func (s *SSESink) Done() <-chan struct{} {
	return s.done
}

// Close writes the terminal done frame.
func (s *SSESink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.write("done", map[string]string{"status": "done"})
}

func (s *SSESink) write(event string, v interface{}) error {
	select {
	case <-s.done:
		return fmt.Errorf("client disconnected")
	default:
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}
