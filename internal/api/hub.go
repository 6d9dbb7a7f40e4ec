package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	subscriberSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	party domain.Identity // empty receives every event
	send  chan *domain.SwapEvent
}

func (s *subscriber) wants(e *domain.SwapEvent) bool {
	return s.party == "" || e.Involves(s.party)
}

// Hub fans swap events out to websocket subscribers. It is a notify.Publisher;
// a subscriber that cannot keep up is disconnected rather than blocking delivery.
type Hub struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Name implements notify.Publisher.
func (h *Hub) Name() string { return "websocket" }

// Publish implements notify.Publisher.
func (h *Hub) Publish(_ context.Context, events []*domain.SwapEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		for _, e := range events {
			if !sub.wants(e) {
				continue
			}
			select {
			case sub.send <- e:
			default:
				h.logger.Warn("stream subscriber too slow, dropping", zap.String("party", string(sub.party)))
				h.removeLocked(sub)
			}
			if _, ok := h.subs[sub]; !ok {
				break
			}
		}
	}
	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		h.removeLocked(sub)
	}
}

func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[sub] = struct{}{}
	observability.UpdateStreamSubscribers(len(h.subs))
	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *subscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.send)
	observability.UpdateStreamSubscribers(len(h.subs))
}

// Serve upgrades GET /v1/events/stream?party= to a websocket.
func (h *Hub) Serve(c *gin.Context) {
	var party domain.Identity
	if raw := c.Query("party"); raw != "" {
		id, err := domain.ParseIdentity(raw)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		party = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{party: party, send: make(chan *domain.SwapEvent, subscriberSize)}
	if !h.add(sub) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go h.readPump(conn, sub)
	h.writePump(conn, sub)
}

// readPump discards client messages and keeps the read deadline fresh.
func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	defer h.remove(sub)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case e, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				h.remove(sub)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(sub)
				return
			}
		}
	}
}
