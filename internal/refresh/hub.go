package refresh

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"surfacesync/internal/logger"
	"surfacesync/pkg/models"
)

const (
	clientBuffer = 8
	writeTimeout = 5 * time.Second
)

// Hub pushes redraw events to surfaces connected over a websocket.
type Hub struct {
	logger logger.Logger

	mu      sync.Mutex
	clients map[*client]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

type client struct {
	events chan models.RedrawEvent
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		logger:  log,
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
}

// Close disconnects every client with a going-away status. Hijacked
// connections are not closed by http.Server.Shutdown.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) Name() string { return "websocket" }

// Notify queues the event for every client. A client whose buffer is full
// misses the event; the next one carries a newer generation anyway.
func (h *Hub) Notify(ctx context.Context, event models.RedrawEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.events <- event:
		default:
			h.logger.DebugwCtx(ctx, "Websocket client lagging, dropping redraw", "generation", event.Generation)
		}
	}
	return nil
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams redraw events until the
// client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.WarnwCtx(r.Context(), "Websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	c := &client{events: make(chan models.RedrawEvent, clientBuffer)}
	h.add(c)
	defer h.remove(c)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case event := <-c.events:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.DebugwCtx(ctx, "Websocket write failed", "error", err)
				}
				return
			}
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}
