package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin filtering happens in the reverse proxy.
		return true
	},
}

// eventMessage is one message pushed to subscribers.
type eventMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// eventHub fans submission updates out to WebSocket subscribers. Slow
// subscribers are dropped rather than allowed to stall the pipeline.
type eventHub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func newEventHub(log *slog.Logger) *eventHub {
	return &eventHub{logger: log, clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *eventHub) add(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	websocketConnections.Inc()
	return ch
}

func (h *eventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
		websocketConnections.Dec()
	}
	h.mu.Unlock()
}

// broadcast queues a message for every subscriber, skipping full queues.
func (h *eventHub) broadcast(msg eventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encoding event failed", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- data:
		default:
			h.logger.Warn("dropping event for slow subscriber", "remote_addr", conn.RemoteAddr())
		}
	}
}

// eventsHandler upgrades the connection and streams submission updates
// until the client disconnects.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.hub.add(conn)
	defer s.hub.remove(conn)
	s.logger.Info("websocket subscriber connected", "remote_addr", r.RemoteAddr)

	// Reader goroutine: drains control frames and detects disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			websocketMessagesTotal.WithLabelValues("received").Inc()
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case data, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			websocketMessagesTotal.WithLabelValues("sent").Inc()
		}
	}
}
