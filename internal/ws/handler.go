// Package ws streams pipeline and Q&A events to WebSocket clients.
package ws

import (
	"context"
	"net/http"

	"github.com/HerbHall/litdigest/internal/event"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Handler provides the WebSocket event stream endpoint.
type Handler struct {
	hub         *Hub
	logger      *zap.Logger
	unsubscribe func()
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a handler that forwards every event published on bus
// to connected clients.
func NewHandler(bus *event.Bus, logger *zap.Logger) *Handler {
	h := &Handler{hub: NewHub(logger), logger: logger}
	if bus != nil {
		h.unsubscribe = bus.SubscribeAll(func(_ context.Context, ev event.Event) {
			h.hub.Broadcast(FromEvent(ev))
		})
	}
	return h
}

// Hub exposes the client registry.
func (h *Handler) Hub() *Hub { return h.hub }

// Close stops forwarding events.
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", h.handleEvents)
}

// handleEvents upgrades the connection and streams events. The optional
// source query parameter restricts the stream to one run or session.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		addr:   r.RemoteAddr,
		source: r.URL.Query().Get("source"),
		send:   make(chan Message, sendBuffer),
		logger: h.logger,
	}
	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}
