package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/server/common"
)

// ptyStreamClient adapts one SSE response to the PTY registry's sink
// contract. Output chunks are binary, so each is base64-wrapped in an
// "output" frame; process exit is a terminal "exit" frame. A send
// buffer keeps the PTY read loop from blocking on a slow reader.
type ptyStreamClient struct {
	id  string
	buf *common.SendBuffer
}

func newPTYStreamClient() *ptyStreamClient {
	id := uuid.NewString()
	return &ptyStreamClient{
		id:  id,
		buf: common.NewSendBuffer(id, common.SendBufferSize),
	}
}

func (c *ptyStreamClient) ID() string { return c.id }

func (c *ptyStreamClient) Write(data []byte) error {
	payload, err := json.Marshal(map[string]string{
		"data": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return err
	}
	return c.buf.Send([]byte("event: output\ndata: " + string(payload) + "\n\n"))
}

func (c *ptyStreamClient) Exit() {
	_ = c.buf.Send([]byte("event: exit\ndata: {}\n\n"))
	c.buf.Close()
}

// handlePTYStream handles GET /api/pty/{id}/stream
//
//	@Summary		Observe a PTY session over SSE
//	@Description	Read-only terminal stream: the history prefix, then live output chunks base64-encoded in "output" frames.
//	@Tags			pty
//	@Produce		text/event-stream
//	@Param			id	path	string	true	"PTY session ID"
//	@Success		200
//	@Failure		404	{object}	ErrorResponse	"PTY session not found"
//	@Router			/api/pty/{id}/stream [get]
func (s *Server) handlePTYStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := newPTYStreamClient()
	if err := s.opts.PTYs.Attach(id, client); err != nil {
		writeError(w, err)
		return
	}
	defer s.opts.PTYs.Detach(id, client.ID())

	log.Debug().Str("pty_id", id).Str("client_id", client.ID()).Msg("pty stream observer attached")

	frames := client.buf.Channel()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				// Buffer closed and drained; the exit frame went out.
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
