package websocket

import (
	"net/http"
	"time"

	"SpectraIDS/internal/logging"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests and attaches each connection to a registry.
type Handler struct {
	registry Registry
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket endpoint. Any origin is accepted.
func NewHandler(registry Registry) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade error")
		return
	}
	NewClient(h.registry, conn).Start()
}
