package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func attachServer(t *testing.T, h *Hub, sessionID string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		h.Attach(ws, sessionID)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitForListeners(t *testing.T, h *Hub, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !h.HasListeners(sessionID) {
		if time.Now().After(deadline) {
			t.Fatalf("no listener registered for session %s", sessionID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesAttachedClient(t *testing.T) {
	h := New()
	go h.Run()

	srv := attachServer(t, h, "s1")
	ws := dial(t, srv)
	waitForListeners(t, h, "s1")

	h.Broadcast("s1", []byte(`{"kind":"user_message"}`))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	if string(msg) != `{"kind":"user_message"}` {
		t.Fatalf("unexpected frame: %s", msg)
	}
}

func TestBroadcastScopedToSession(t *testing.T) {
	h := New()
	go h.Run()

	srv := attachServer(t, h, "s2")
	ws := dial(t, srv)
	waitForListeners(t, h, "s2")

	h.Broadcast("other", []byte("not for you"))
	h.Broadcast("s2", []byte("for you"))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	if string(msg) != "for you" {
		t.Fatalf("frame leaked across sessions: %s", msg)
	}
}

func TestBroadcastJSON(t *testing.T) {
	h := New()
	go h.Run()

	srv := attachServer(t, h, "s3")
	ws := dial(t, srv)
	waitForListeners(t, h, "s3")

	if err := h.BroadcastJSON("s3", map[string]string{"content": "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	if !strings.Contains(string(msg), `"content":"hi"`) {
		t.Fatalf("unexpected frame: %s", msg)
	}
}

func TestHasListenersAfterDisconnect(t *testing.T) {
	h := New()
	go h.Run()

	srv := attachServer(t, h, "s4")
	ws := dial(t, srv)
	waitForListeners(t, h, "s4")

	ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for h.HasListeners("s4") {
		if time.Now().After(deadline) {
			t.Fatalf("listener still registered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
