package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rl1809/pos-engine/internal/core/domain"
)

const writeWait = 5 * time.Second

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub keeps the live websocket connections of signed-in users and pushes
// notifications to all connections of the recipient. Users without a
// connection miss the live push.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[int64]map[*client]struct{}
}

func NewHub(checkOrigin func(r *http.Request) bool, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger.Named("ws"),
		clients:  make(map[int64]map[*client]struct{}),
	}
}

// Serve upgrades the request and blocks until the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}
	c := &client{conn: conn}
	h.register(userID, c)
	defer h.unregister(userID, c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

func (h *Hub) register(userID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.logger.Debug("client connected", zap.Int64("user_id", userID))
}

func (h *Hub) unregister(userID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[userID][c]; !ok {
		return
	}
	delete(h.clients[userID], c)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
	c.conn.Close()
	h.logger.Debug("client disconnected", zap.Int64("user_id", userID))
}

// Connections returns the number of live connections of a user.
func (h *Hub) Connections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) Notify(ctx context.Context, n domain.Notification) error {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[n.UserID]))
	for c := range h.clients[n.UserID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	var errs []error
	for _, c := range targets {
		if err := c.write(ctx, payload); err != nil {
			errs = append(errs, err)
			h.unregister(n.UserID, c)
		}
	}
	return errors.Join(errs...)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			c.conn.Close()
		}
		delete(h.clients, userID)
	}
}
