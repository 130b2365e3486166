// Package sink provides the transport collaborator: an ordered push channel
// carrying serialized transcript entries and live-only chunk frames to the
// client, with a disconnect signal.
package sink

import (
	"github.com/nordby/teamline/domain"
)

// Chunk is a live-only partial content frame. Chunks are rendering aids;
// they never appear in reconstructed transcripts.
type Chunk struct {
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

// Sink is an ordered push channel to one client.
type Sink interface {
	// SendEntry pushes one transcript entry. An error means the client
	// is gone; the caller must stop sending but may keep draining its
	// source.
	SendEntry(entry domain.TranscriptEntry) error

	// SendChunk pushes a live partial-content frame.
	SendChunk(chunk Chunk) error

	// Done is closed when the client disconnects.
	Done() <-chan struct{}

	// Close sends the terminal frame and releases the channel. Delivery
	// after disconnect is not guaranteed.
	Close() error
}
