package websocket

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/ptyregistry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway binds to loopback and the edge middleware already
	// checks the shared token, so origin filtering happens there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the PTY attach endpoint.
type Handler struct {
	ptys *ptyregistry.Registry
}

// NewHandler creates a PTY WebSocket handler over the given registry.
func NewHandler(ptys *ptyregistry.Registry) *Handler {
	return &Handler{ptys: ptys}
}

// HandlePTY upgrades the connection and attaches it to the PTY session
// named in the path, creating the session on first attach. The history
// prefix is replayed before live output.
func (h *Handler) HandlePTY(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(conn, sessionID, h.ptys)
	if err := h.ptys.Attach(sessionID, client); err != nil {
		log.Warn().Err(err).Str("pty_id", sessionID).Msg("pty attach failed")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		_ = conn.Close()
		return
	}

	log.Info().
		Str("pty_id", sessionID).
		Str("client_id", client.ID()).
		Str("remote_addr", conn.RemoteAddr().String()).
		Msg("pty client connected")

	client.Run(func() {
		h.ptys.Detach(sessionID, client.ID())
		log.Info().
			Str("pty_id", sessionID).
			Str("client_id", client.ID()).
			Msg("pty client disconnected")
	})
}
