package http

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/relaybridge/codexgw/internal/domain"
	"github.com/relaybridge/codexgw/internal/execengine"
	"github.com/relaybridge/codexgw/internal/ptyregistry"
	"github.com/relaybridge/codexgw/internal/sessiondir"
	"github.com/relaybridge/codexgw/internal/tailer"
)

// uuidPattern validates session ids at the edge. Ids that fail it are
// reported as INVALID_SESSION_ID without touching the filesystem.
var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// WebSocketHandler handles PTY WebSocket upgrade requests.
type WebSocketHandler func(http.ResponseWriter, *http.Request)

// Options wires the server to the gateway's core components.
type Options struct {
	Host string
	Port int

	Engine    *execengine.Engine
	Directory *sessiondir.Directory
	Tailers   *tailer.Manager
	PTYs      *ptyregistry.Registry

	// UploadsDir receives images posted to /api/images. Empty disables
	// uploads.
	UploadsDir string

	// GatewayToken, when non-empty, is required on every request as an
	// X-Gateway-Token header or ?token= query parameter.
	GatewayToken string
}

// Server is the HTTP API server.
type Server struct {
	server    *http.Server
	router    *mux.Router
	addr      string
	opts      Options
	wsHandler WebSocketHandler
}

// New creates the HTTP server and registers its routes.
func New(opts Options) *Server {
	s := &Server{
		addr:   fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		opts:   opts,
		router: mux.NewRouter(),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/session/start", s.handleStartSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/messages", s.handleSubmitMessage).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/chat-stream", s.handleChatStream).Methods(http.MethodGet)
	api.HandleFunc("/chat-stream/stats", s.handleChatStreamStats).Methods(http.MethodGet)
	api.HandleFunc("/pty/sessions", s.handlePTYSessions).Methods(http.MethodGet)
	api.HandleFunc("/pty/{id}/stream", s.handlePTYStream).Methods(http.MethodGet)
	if opts.UploadsDir != "" {
		api.HandleFunc("/images", s.handleUploadImage).Methods(http.MethodPost)
	}

	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
		httpSwagger.DomID("swagger-ui"),
	))

	return s
}

// SetWebSocketHandler registers the PTY WebSocket handler. Must be
// called before Start.
func (s *Server) SetWebSocketHandler(handler WebSocketHandler) {
	s.wsHandler = handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	if s.wsHandler != nil {
		s.router.HandleFunc("/ws/pty/{id}", func(w http.ResponseWriter, r *http.Request) {
			log.Info().
				Str("remote_addr", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("WebSocket upgrade request received")
			s.wsHandler(w, r)
		})
	}

	var handler http.Handler = s.router
	handler = s.authMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = requestLoggingMiddleware(handler)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}

	log.Info().Str("addr", s.addr).Msg("HTTP server starting")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("HTTP server stopping")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requestLoggingMiddleware logs all incoming requests.
func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// authExempt paths skip the shared-secret check.
func authExempt(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/swagger/")
}

// authMiddleware enforces the shared gateway token when one is
// configured. The token may arrive as an X-Gateway-Token header or a
// ?token= query parameter (the latter for EventSource and WebSocket
// clients that cannot set headers).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.GatewayToken == "" || r.Method == http.MethodOptions || authExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Gateway-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.opts.GatewayToken {
			log.Warn().Str("remote_addr", r.RemoteAddr).Str("path", r.URL.Path).Msg("rejected request with bad gateway token")
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isLocalhostOrigin checks if an origin is from localhost.
func isLocalhostOrigin(origin string) bool {
	return strings.Contains(origin, "localhost") ||
		strings.Contains(origin, "127.0.0.1") ||
		strings.Contains(origin, "::1")
}

// corsMiddleware echoes localhost origins back rather than using a
// wildcard, and answers preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if !isLocalhostOrigin(origin) {
				log.Warn().Str("origin", origin).Str("remote", r.RemoteAddr).Msg("CORS request rejected")
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Gateway-Token, Last-Event-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth handles GET /health
//
//	@Summary		Health check
//	@Description	Returns the health status of the gateway
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListSessions handles GET /api/sessions
//
//	@Summary		List exec-provider sessions
//	@Description	Returns one page of sessions sorted newest first
//	@Tags			sessions
//	@Produce		json
//	@Param			limit	query		int	false	"Max sessions to return (default 50)"
//	@Param			offset	query		int	false	"Starting position (default 0)"
//	@Success		200		{object}	sessiondir.Page
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/sessions [get]
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 0)
	offset := parseIntParam(r, "offset", 0)

	page, err := s.opts.Directory.List(offset, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleStartSession handles POST /api/session/start
//
//	@Summary		Start a session
//	@Description	Creates a new exec-provider session with its sidecar on disk
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			request	body		StartSessionRequest	false	"Session parameters"
//	@Success		200		{object}	StartSessionResponse
//	@Failure		400		{object}	ErrorResponse	"cwd does not exist"
//	@Router			/api/session/start [post]
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	sc, err := s.opts.Engine.CreateSession(req.Cwd, req.Model)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StartSessionResponse{
		SessionID: sc.ID,
		Cwd:       sc.Cwd,
		Ready:     true,
	})
}

// handleSubmitMessage handles POST /api/sessions/{id}/messages
//
//	@Summary		Submit a user message
//	@Description	Appends the message to the session journal and queues a turn
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Session ID"
//	@Param			request	body		SubmitMessageRequest	true	"Message"
//	@Success		200		{object}	SubmitMessageResponse
//	@Failure		400		{object}	ErrorResponse	"Missing content"
//	@Failure		404		{object}	ErrorResponse	"Session not found"
//	@Router			/api/sessions/{id}/messages [post]
func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if !uuidPattern.MatchString(sessionID) {
		writeError(w, domain.ErrInvalidSessionID)
		return
	}

	var req SubmitMessageRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	messageID, err := s.opts.Engine.Submit(sessionID, req.Content, req.ImagePath)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SubmitMessageResponse{Accepted: true, MessageID: messageID})
}

// handleCancel handles POST /api/sessions/{id}/cancel
//
//	@Summary		Cancel the running turn
//	@Description	Signals the active child process and optionally clears queued turns
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session ID"
//	@Param			request	body		CancelRequest	false	"Cancel options"
//	@Success		200		{object}	execengine.CancelResult
//	@Failure		404		{object}	ErrorResponse	"Session not found"
//	@Router			/api/sessions/{id}/cancel [post]
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if !uuidPattern.MatchString(sessionID) {
		writeError(w, domain.ErrInvalidSessionID)
		return
	}

	var req CancelRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	result, err := s.opts.Engine.Cancel(sessionID, req.ClearQueue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleChatStreamStats handles GET /api/chat-stream/stats
//
//	@Summary		Tailer diagnostics
//	@Description	Reports client count, live position and last cursor per running tailer
//	@Tags			diagnostics
//	@Produce		json
//	@Success		200	{object}	map[string]interface{}
//	@Router			/api/chat-stream/stats [get]
func (s *Server) handleChatStreamStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tailers": s.opts.Tailers.Stats(),
	})
}

// handlePTYSessions handles GET /api/pty/sessions
//
//	@Summary		List live PTY sessions
//	@Tags			pty
//	@Produce		json
//	@Success		200	{object}	map[string]interface{}
//	@Router			/api/pty/sessions [get]
func (s *Server) handlePTYSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.opts.PTYs.Stats(),
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	valStr := r.URL.Query().Get(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}
