// Package hub manages websocket clients attached to sessions and fans live
// transcript frames out to them. A second tab attached to the same session
// sees the same frames the SSE client sees; on reconnect the client fetches
// the reconstructed transcript instead of re-attaching to a finished run.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

// Connection represents a single attached websocket client.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	mu        sync.Mutex
}

// Hub manages all attached connections, indexed by session.
type Hub struct {
	connections map[string]*Connection
	sessions    map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *sessionFrame

	mu sync.RWMutex
}

type sessionFrame struct {
	sessionID string
	data      []byte
}

// New creates a Hub. Run must be started before use.
func New() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *sessionFrame, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.SessionID != "" {
				if h.sessions[conn.SessionID] == nil {
					h.sessions[conn.SessionID] = make(map[string]bool)
				}
				h.sessions[conn.SessionID][conn.ID] = true
			}
			h.mu.Unlock()
			log.Printf("INFO: hub connection registered: %s (session: %s)", conn.ID, conn.SessionID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if conn.SessionID != "" && h.sessions[conn.SessionID] != nil {
					delete(h.sessions[conn.SessionID], conn.ID)
					if len(h.sessions[conn.SessionID]) == 0 {
						delete(h.sessions, conn.SessionID)
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("INFO: hub connection unregistered: %s", conn.ID)

		case frame := <-h.broadcast:
			h.mu.RLock()
			if connIDs, ok := h.sessions[frame.sessionID]; ok {
				for connID := range connIDs {
					if conn, exists := h.connections[connID]; exists {
						select {
						case conn.Send <- frame.data:
						default:
							// Buffer full, drop the connection
							log.Printf("WARN: hub connection %s buffer full, closing", connID)
							go h.Unregister(conn)
						}
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Attach registers a new connection bound to sessionID and starts its read
// and write pumps. It returns once the pumps are running.
func (h *Hub) Attach(ws *websocket.Conn, sessionID string) *Connection {
	conn := &Connection{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, 256),
	}
	h.register <- conn
	go h.writePump(conn)
	go h.readPump(conn)
	return conn
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Broadcast sends raw data to every connection attached to the session.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	h.broadcast <- &sessionFrame{sessionID: sessionID, data: data}
}

// BroadcastJSON marshals v and broadcasts it to the session.
func (h *Hub) BroadcastJSON(sessionID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, data)
	return nil
}

// HasListeners reports whether any client is attached to the session.
func (h *Hub) HasListeners(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	connIDs, ok := h.sessions[sessionID]
	return ok && len(connIDs) > 0
}

// readPump drains incoming messages. Attached clients are read-only; the
// pump exists to detect disconnects and answer pings.
func (h *Hub) readPump(conn *Connection) {
	defer func() {
		h.Unregister(conn)
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(4096)
	conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARN: hub read error: %v", err)
			}
			return
		}
	}
}

// writePump forwards frames from the send buffer to the socket.
func (h *Hub) writePump(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-conn.Send:
			conn.write(websocket.TextMessage, data, !ok)
			if !ok {
				return
			}
		case <-ticker.C:
			if err := conn.write(websocket.PingMessage, nil, false); err != nil {
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, data []byte, closing bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if closing {
		return c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
	}
	return c.Conn.WriteMessage(messageType, data)
}
