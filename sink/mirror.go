package sink

import (
	"github.com/nordby/teamline/domain"
)

// Mirror wraps a primary sink and duplicates every frame onto a broadcast
// function, typically the session websocket hub. Broadcast is best-effort:
// hub failures never detach the primary client.
type Mirror struct {
	primary   Sink
	broadcast func(v interface{})
}

// NewMirror wraps primary so every frame is also passed to broadcast.
func NewMirror(primary Sink, broadcast func(v interface{})) *Mirror {
	return &Mirror{primary: primary, broadcast: broadcast}
}

func (m *Mirror) SendEntry(entry domain.TranscriptEntry) error {
	m.broadcast(entry)
	return m.primary.SendEntry(entry)
}

func (m *Mirror) SendChunk(chunk Chunk) error {
	m.broadcast(chunk)
	return m.primary.SendChunk(chunk)
}

func (m *Mirror) Done() <-chan struct{} {
	return m.primary.Done()
}

func (m *Mirror) Close() error {
	return m.primary.Close()
}
