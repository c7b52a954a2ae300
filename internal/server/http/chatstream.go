package http

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/domain"
)

// sseClient adapts one SSE response to the tailer's sink contract. The
// tailer serializes calls per sink, the mutex only guards against a
// write racing the handler's shutdown.
type sseClient struct {
	id      string
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

func newSSEClient(w http.ResponseWriter, flusher http.Flusher) *sseClient {
	return &sseClient{id: uuid.NewString(), w: w, flusher: flusher}
}

func (c *sseClient) ID() string { return c.id }

func (c *sseClient) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrSubscriberClosed
	}
	if _, err := c.w.Write(frame); err != nil {
		c.closed = true
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *sseClient) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// handleChatStream handles GET /api/chat-stream
//
//	@Summary		Stream session events
//	@Description	Replays journal records from the requested cursor, then streams live records and heartbeats as SSE frames.
//	@Description	A Last-Event-ID header (sent by reconnecting EventSource clients) overrides the since parameter.
//	@Tags			stream
//	@Produce		text/event-stream
//	@Param			session			query	string	true	"Session ID"
//	@Param			since			query	int		false	"Replay records with cursor greater than this (default 0)"
//	@Param			limit			query	int		false	"Max records to replay (default unlimited)"
//	@Param			Last-Event-ID	header	string	false	"Cursor of the last frame received"
//	@Success		200
//	@Failure		400	{object}	ErrorResponse	"Missing session parameter"
//	@Failure		404	{object}	ErrorResponse	"Session not found"
//	@Router			/api/chat-stream [get]
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeError(w, domain.ErrMissingSession)
		return
	}
	if !uuidPattern.MatchString(sessionID) {
		writeError(w, domain.ErrInvalidSessionID)
		return
	}

	since := parseInt64Param(r, "since", 0)
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		if v, err := strconv.ParseInt(lastEventID, 10, 64); err == nil {
			since = v
		}
	}
	limit := parseIntParam(r, "limit", 0)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := newSSEClient(w, flusher)
	if err := s.opts.Tailers.Attach(sessionID, client, since, limit); err != nil {
		writeError(w, err)
		return
	}

	log.Debug().
		Str("session_id", sessionID).
		Str("client_id", client.ID()).
		Int64("since", since).
		Msg("chat-stream client attached")

	<-r.Context().Done()

	client.close()
	s.opts.Tailers.Detach(sessionID, client.ID())
	log.Debug().
		Str("session_id", sessionID).
		Str("client_id", client.ID()).
		Msg("chat-stream client detached")
}

// parseInt64Param parses an int64 query parameter with a default value.
func parseInt64Param(r *http.Request, name string, defaultVal int64) int64 {
	valStr := r.URL.Query().Get(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseInt(valStr, 10, 64)
	if err != nil {
		return defaultVal
	}
	return val
}
