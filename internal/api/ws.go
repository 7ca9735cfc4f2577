package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/aimms/backend/internal/domain"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Hub fans newly created alerts out to WebSocket subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	log     *zap.SugaredLogger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		log:     log,
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAlert sends a to every subscriber. Slow clients miss the message
// rather than block the analysis cycle.
func (h *Hub) BroadcastAlert(a domain.Alert) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	data, err := json.Marshal(map[string]any{
		"type":  "alert",
		"alert": a,
	})
	if err != nil {
		h.log.Warnw("encode alert for stream", "error", err)
		return
	}

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// client too slow, skip
		}
	}
}

// HandleWS upgrades the request and streams alerts until the peer leaves.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboard is served from another origin
	})
	if err != nil {
		h.log.Warnw("websocket accept failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 16),
	}
	h.add(client)
	defer h.remove(client)

	// Subscribers never send; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	go client.pingLoop(ctx)
	client.writePump(ctx)
}

func (c *wsClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) writePump(ctx context.Context) {
	defer c.conn.Close(websocket.StatusNormalClosure, "bye")
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
