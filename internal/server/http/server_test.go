package http

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relaybridge/codexgw/internal/execengine"
	"github.com/relaybridge/codexgw/internal/ptyregistry"
	"github.com/relaybridge/codexgw/internal/sessiondir"
	"github.com/relaybridge/codexgw/internal/tailer"
)

func newTestServer(t *testing.T) (*Server, *execengine.Engine) {
	t.Helper()
	dir := t.TempDir()
	eventsDir := filepath.Join(dir, "events")
	sessionsDir := filepath.Join(dir, "sessions")
	workdir := filepath.Join(dir, "work")
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		t.Fatal(err)
	}

	engine := execengine.New(execengine.Options{
		EventsDir:      eventsDir,
		SessionsDir:    sessionsDir,
		Workdir:        workdir,
		ExecBin:        filepath.Join(dir, "no-such-binary"),
		ApprovalPolicy: "never",
		SandboxMode:    "workspace-write",
		DefaultModel:   "o3",
		ModelChoices:   []string{"o3", "o4-mini"},
	})
	t.Cleanup(func() { _ = engine.Stop() })

	tailers := tailer.NewManager(tailer.Options{
		EventsDir:   eventsDir,
		SessionsDir: sessionsDir,
		Activity:    engine,
	})
	tailers.Start()
	t.Cleanup(tailers.Stop)

	ptys := ptyregistry.New(ptyregistry.Options{
		Workdir:      workdir,
		HistoryLimit: 4096,
		Spawners:     []ptyregistry.Spawner{},
	})

	srv := New(Options{
		Host:       "127.0.0.1",
		Port:       0,
		Engine:     engine,
		Directory:  sessiondir.New(eventsDir, sessionsDir, engine, nil),
		Tailers:    tailers,
		PTYs:       ptys,
		UploadsDir: filepath.Join(dir, "uploads"),
	})
	return srv, engine
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
}

func startSession(t *testing.T, srv *Server) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/session/start", StartSessionRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("start session: status %d body %s", w.Code, w.Body.String())
	}
	var resp StartSessionResponse
	decodeBody(t, w, &resp)
	if resp.SessionID == "" || !resp.Ready {
		t.Fatalf("start session response = %+v", resp)
	}
	return resp.SessionID
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp HealthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "ok" || resp.Time == "" {
		t.Fatalf("health = %+v", resp)
	}
}

func TestStartSession_InvalidCwd(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/session/start", StartSessionRequest{Cwd: "/no/such/dir"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if resp.Code != "INVALID_CWD" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestSubmitMessage_Validation(t *testing.T) {
	srv, _ := newTestServer(t)
	id := startSession(t, srv)

	tests := []struct {
		name     string
		path     string
		body     SubmitMessageRequest
		wantCode int
		wantErr  string
	}{
		{"malformed id", "/api/sessions/not-a-uuid/messages", SubmitMessageRequest{Content: "hi"}, http.StatusNotFound, "INVALID_SESSION_ID"},
		{"unknown session", "/api/sessions/99999999-0000-0000-0000-000000000000/messages", SubmitMessageRequest{Content: "hi"}, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"missing content", "/api/sessions/" + id + "/messages", SubmitMessageRequest{}, http.StatusBadRequest, "MISSING_CONTENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d body %s", w.Code, w.Body.String())
			}
			var resp ErrorResponse
			decodeBody(t, w, &resp)
			if resp.Code != tt.wantErr {
				t.Fatalf("code = %q, want %q", resp.Code, tt.wantErr)
			}
		})
	}
}

func TestSubmitMessage_SlashCommand(t *testing.T) {
	srv, _ := newTestServer(t)
	id := startSession(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", SubmitMessageRequest{Content: "/models"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	var resp SubmitMessageResponse
	decodeBody(t, w, &resp)
	if !resp.Accepted || resp.MessageID == "" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCancel(t *testing.T) {
	srv, _ := newTestServer(t)
	id := startSession(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/cancel", CancelRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	var result execengine.CancelResult
	decodeBody(t, w, &result)
	if !result.OK || result.Running || result.Cancelled {
		t.Fatalf("result = %+v", result)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/sessions/99999999-0000-0000-0000-000000000000/cancel", CancelRequest{})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", w.Code)
	}
}

func TestListSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	startSession(t, srv)
	startSession(t, srv)

	w := doJSON(t, srv, http.MethodGet, "/api/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var page sessiondir.Page
	decodeBody(t, w, &page)
	if page.Total != 2 || len(page.Sessions) != 2 || page.HasMore {
		t.Fatalf("page = %+v", page)
	}
}

func TestChatStream_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantErr  string
	}{
		{"missing session", "/api/chat-stream", http.StatusBadRequest, "MISSING_SESSION"},
		{"malformed id", "/api/chat-stream?session=nope", http.StatusNotFound, "INVALID_SESSION_ID"},
		{"unknown session", "/api/chat-stream?session=99999999-0000-0000-0000-000000000000", http.StatusNotFound, "SESSION_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv, http.MethodGet, tt.path, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d body %s", w.Code, w.Body.String())
			}
			var resp ErrorResponse
			decodeBody(t, w, &resp)
			if resp.Code != tt.wantErr {
				t.Fatalf("code = %q, want %q", resp.Code, tt.wantErr)
			}
		})
	}
}

// readFrames reads SSE lines until a frame of the wanted kind has been
// fully consumed, returning everything read.
func readFrames(t *testing.T, body io.Reader, untilEvent string) []string {
	t.Helper()
	scanner := bufio.NewScanner(body)
	var lines []string
	sawWanted := false
	deadline := time.Now().Add(5 * time.Second)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		if strings.HasPrefix(line, "event: "+untilEvent) {
			sawWanted = true
		}
		if sawWanted && line == "" && strings.HasPrefix(lines[len(lines)-2], "data: ") {
			return lines
		}
		if time.Now().After(deadline) {
			break
		}
	}
	t.Fatalf("never saw %q frame; read %d lines: %v", untilEvent, len(lines), lines)
	return nil
}

func TestChatStream_ReplaysJournal(t *testing.T) {
	srv, _ := newTestServer(t)
	id := startSession(t, srv)
	// A slash command writes a user/assistant message pair without
	// spawning a child.
	doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", SubmitMessageRequest{Content: "/models"})

	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/chat-stream?session=" + id + "&since=0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := readFrames(t, resp.Body, "history_end")
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"event: session_meta", "event: history_start", `data: {"since":0}`, "event: message_start", "event: history_end"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("stream missing %q:\n%s", want, joined)
		}
	}
	if !strings.HasPrefix(lines[0], "id: ") {
		t.Fatalf("first line = %q, want id field", lines[0])
	}
}

func TestChatStream_LastEventIDOverridesSince(t *testing.T) {
	srv, _ := newTestServer(t)
	id := startSession(t, srv)
	doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", SubmitMessageRequest{Content: "/models"})

	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/chat-stream?session="+id+"&since=0", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Last-Event-ID", "3")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	lines := readFrames(t, resp.Body, "history_start")
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, `data: {"since":3}`) {
		t.Fatalf("history_start does not honor Last-Event-ID:\n%s", joined)
	}
}

func TestChatStreamStats(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/chat-stream/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Tailers []tailer.TailerStat `json:"tailers"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Tailers) != 0 {
		t.Fatalf("tailers = %+v", resp.Tailers)
	}
}

func TestPTYSessions_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/pty/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Sessions []ptyregistry.SessionStat `json:"sessions"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Sessions) != 0 {
		t.Fatalf("sessions = %+v", resp.Sessions)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.opts.GatewayToken = "sekrit"
	handler := srv.authMiddleware(srv.router)

	do := func(path, headerToken, queryToken string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if headerToken != "" {
			req.Header.Set("X-Gateway-Token", headerToken)
		}
		if queryToken != "" {
			q := req.URL.Query()
			q.Set("token", queryToken)
			req.URL.RawQuery = q.Encode()
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := do("/api/sessions", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", code)
	}
	if code := do("/api/sessions", "wrong", ""); code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", code)
	}
	if code := do("/api/sessions", "sekrit", ""); code != http.StatusOK {
		t.Fatalf("header token: status = %d", code)
	}
	if code := do("/api/sessions", "", "sekrit"); code != http.StatusOK {
		t.Fatalf("query token: status = %d", code)
	}
	if code := do("/health", "", ""); code != http.StatusOK {
		t.Fatalf("health exempt: status = %d", code)
	}
}

func TestUploadImage(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "shot.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("\x89PNG fake image bytes")); err != nil {
		t.Fatal(err)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	var resp UploadResponse
	decodeBody(t, w, &resp)
	if resp.Path == "" || filepath.Ext(resp.Path) != ".png" {
		t.Fatalf("path = %q", resp.Path)
	}
	data, err := os.ReadFile(resp.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("fake image bytes")) {
		t.Fatal("stored file does not match upload")
	}
}

func TestUploadImage_RejectsUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "payload.exe")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("nope"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
}
