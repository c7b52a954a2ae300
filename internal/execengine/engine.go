// Package execengine serializes user turns per session into exec-provider
// child invocations, transcodes the child's JSON stdout into journal
// events, and exposes cancellation.
package execengine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/domain"
	"github.com/relaybridge/codexgw/internal/domain/events"
	"github.com/relaybridge/codexgw/internal/domain/ports"
	"github.com/relaybridge/codexgw/internal/journal"
)

// killGrace is how long a cancelled child gets to exit after SIGTERM
// before SIGKILL.
const killGrace = 1500 * time.Millisecond

// previewLimit caps sidecar message previews.
const previewLimit = 120

// Options configures an Engine.
type Options struct {
	EventsDir      string
	SessionsDir    string
	Workdir        string
	ExecBin        string
	ApprovalPolicy string
	SandboxMode    string
	DefaultModel   string
	ModelChoices   []string

	// Hub receives sidecar_committed notifications. May be nil.
	Hub ports.EventBus
}

// Turn is one queued user turn.
type Turn struct {
	Prompt        string
	Content       string
	ImagePath     string
	UserMessageID string
}

// activeTurn is the running child and its transcoding state.
type activeTurn struct {
	turn      *Turn
	messageID string
	cmd       *exec.Cmd
	trans     *transcoder
	stderr    *stderrRing

	cancelled    atomic.Bool
	finalizeOnce sync.Once
}

// sessionState is the engine's per-session mutable state. The mutex
// guards the queue, the active flag, and writer access ordering.
type sessionState struct {
	id string

	mu      sync.Mutex
	writer  *journal.Writer
	queue   []*Turn
	active  bool
	current *activeTurn
}

// Engine owns every exec-provider session's turn lifecycle.
type Engine struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates an Engine.
func New(opts Options) *Engine {
	return &Engine{opts: opts, sessions: make(map[string]*sessionState)}
}

// CancelResult reports the outcome of a cancel request.
type CancelResult struct {
	OK           bool `json:"ok"`
	Cancelled    bool `json:"cancelled"`
	Running      bool `json:"running"`
	ClearedQueue bool `json:"clearedQueue"`
}

// CreateSession creates a fresh exec-provider session: a new sidecar on
// disk, no journal yet. cwd defaults to the configured workdir and must
// exist; model defaults to the configured default.
func (e *Engine) CreateSession(cwd, model string) (*journal.Sidecar, error) {
	if cwd == "" {
		cwd = e.opts.Workdir
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return nil, domain.ErrInvalidCwd
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, domain.ErrInvalidCwd
	}
	if model == "" {
		model = e.opts.DefaultModel
	}

	sc := &journal.Sidecar{
		ID:        uuid.NewString(),
		Cwd:       abs,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}
	if err := journal.CreateSidecar(e.opts.SessionsDir, sc); err != nil {
		return nil, domain.NewJournalError("create", sc.ID, err)
	}
	log.Info().Str("session_id", sc.ID).Str("cwd", abs).Str("model", model).Msg("session created")
	return sc, nil
}

// Submit records the user turn in the journal, handles slash commands
// inline, and otherwise queues a child invocation. It returns the user
// message id.
func (e *Engine) Submit(sessionID, content, imagePath string) (string, error) {
	if content == "" {
		return "", domain.ErrMissingContent
	}

	st := e.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	w, err := e.writerLocked(st)
	if err != nil {
		return "", err
	}

	prompt := content
	if imagePath != "" {
		prompt += "\n\n[Attached image: " + imagePath + "]"
	}

	now := time.Now().UTC()
	userMessageID := uuid.NewString()
	if err := e.appendMessage(w, sessionID, userMessageID, journal.RoleUser, prompt, journal.StopReasonEndTurn, now); err != nil {
		return "", err
	}
	if err := e.commitLocked(w, sessionID, journal.SidecarUpdate{
		LastMessageAt:      &now,
		LastMessagePreview: strPtr(truncatePreview(content)),
		MessageCount:       int64Ptr(w.Cursor()),
	}); err != nil {
		return "", err
	}

	sc := w.Sidecar()
	if res := parseSlashCommand(content, sc.Model, e.opts.ModelChoices); res.Handled {
		replyAt := time.Now().UTC()
		assistantID := uuid.NewString()
		if err := e.appendMessage(w, sessionID, assistantID, journal.RoleAssistant, res.Reply, journal.StopReasonEndTurn, replyAt); err != nil {
			return "", err
		}
		update := journal.SidecarUpdate{
			LastMessageAt:      &replyAt,
			LastMessagePreview: strPtr(truncatePreview(res.Reply)),
			MessageCount:       int64Ptr(w.Cursor()),
		}
		if res.SetModel != "" {
			update.Model = strPtr(res.SetModel)
		}
		if err := e.commitLocked(w, sessionID, update); err != nil {
			return "", err
		}
		e.emitSessionMetaLocked(st, w)
		return userMessageID, nil
	}

	st.queue = append(st.queue, &Turn{
		Prompt:        prompt,
		Content:       content,
		ImagePath:     imagePath,
		UserMessageID: userMessageID,
	})
	e.emitSessionMetaLocked(st, w)

	go e.startNextTurn(sessionID)
	return userMessageID, nil
}

// Cancel stops the running turn, optionally clearing queued turns.
func (e *Engine) Cancel(sessionID string, clearQueue bool) (CancelResult, error) {
	if _, err := os.Stat(journal.SidecarPath(e.opts.SessionsDir, sessionID)); err != nil {
		return CancelResult{}, domain.ErrSessionNotFound
	}

	st := e.lookup(sessionID)
	if st == nil {
		return CancelResult{OK: true}, nil
	}

	st.mu.Lock()
	cleared := false
	if clearQueue && len(st.queue) > 0 {
		st.queue = nil
		cleared = true
	}
	at := st.current
	running := st.active && at != nil
	st.mu.Unlock()

	if running {
		at.cancelled.Store(true)
		e.finalize(st, at, journal.StopReasonCancelled, 0)
		if at.cmd != nil {
			_ = terminateProcess(at.cmd)
			cmd := at.cmd
			time.AfterFunc(killGrace, func() { _ = killProcess(cmd) })
		}
		log.Info().Str("session_id", sessionID).Str("reason", domain.ReasonCancelRequest).Msg("turn cancelled")
	}

	st.mu.Lock()
	if st.writer != nil {
		e.emitSessionMetaLocked(st, st.writer)
	}
	st.mu.Unlock()

	return CancelResult{OK: true, Cancelled: running, Running: running, ClearedQueue: cleared}, nil
}

// IsActive reports whether the session has a running turn.
func (e *Engine) IsActive(sessionID string) bool {
	st := e.lookup(sessionID)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active
}

// QueueLength reports how many turns are waiting behind the active one.
func (e *Engine) QueueLength(sessionID string) int {
	st := e.lookup(sessionID)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.queue)
}

// Stop cancels every running turn and closes all journal writers. Called
// on gateway teardown.
func (e *Engine) Stop() error {
	e.mu.Lock()
	states := make([]*sessionState, 0, len(e.sessions))
	for _, st := range e.sessions {
		states = append(states, st)
	}
	e.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		at := st.current
		w := st.writer
		st.mu.Unlock()

		if at != nil {
			at.cancelled.Store(true)
			e.finalize(st, at, journal.StopReasonCancelled, 0)
			if at.cmd != nil {
				_ = killProcess(at.cmd)
			}
		}
		if w != nil {
			_ = w.Close()
		}
	}
	return nil
}

// startNextTurn pops one queued turn and runs it, unless a turn is
// already active. Turns execute strictly in FIFO submit order.
func (e *Engine) startNextTurn(sessionID string) {
	st := e.lookup(sessionID)
	if st == nil {
		return
	}

	st.mu.Lock()
	if st.active || len(st.queue) == 0 || st.writer == nil {
		st.mu.Unlock()
		return
	}
	turn := st.queue[0]
	st.queue = st.queue[1:]
	st.active = true
	w := st.writer

	messageID := uuid.NewString()
	_, err := w.Append(journal.KindMessageStart, journal.MessageStartData{
		ID:         messageID,
		LineNumber: w.Cursor() + 1,
		Role:       journal.RoleAssistant,
		Timestamp:  time.Now().UTC(),
		SessionID:  sessionID,
	})
	at := &activeTurn{
		turn:      turn,
		messageID: messageID,
		trans:     newTranscoder(w, messageID),
		stderr:    &stderrRing{},
	}
	st.current = at
	st.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to open assistant message")
		e.finalize(st, at, journal.StopReasonError, 0)
		return
	}

	sc := w.Sidecar()

	binPath, err := exec.LookPath(e.opts.ExecBin)
	if err != nil {
		log.Warn().Str("bin", e.opts.ExecBin).Str("reason", domain.ReasonBinNotFound).Msg("exec binary not found")
		at.trans.appendBlock(journal.TextBlock("Executable not found: " + e.opts.ExecBin))
		e.finalize(st, at, journal.StopReasonError, 0)
		return
	}

	args := []string{
		"-a", e.opts.ApprovalPolicy,
		"exec", "--json", "--skip-git-repo-check",
		"-C", sc.Cwd,
		"--sandbox", e.opts.SandboxMode,
	}
	if sc.Model != "" {
		args = append(args, "--model", sc.Model)
	}
	args = append(args, turn.Prompt)

	cmd := exec.Command(binPath, args...)
	cmd.Dir = sc.Cwd
	cmd.Stderr = at.stderr
	setupProcess(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.spawnFailed(st, at, err)
		return
	}
	if err := cmd.Start(); err != nil {
		e.spawnFailed(st, at, err)
		return
	}
	at.cmd = cmd

	log.Debug().
		Str("session_id", sessionID).
		Str("message_id", messageID).
		Str("model", sc.Model).
		Msg("turn started")

	go e.runChild(st, at, stdout)
}

// spawnFailed finalizes a turn whose child never started.
func (e *Engine) spawnFailed(st *sessionState, at *activeTurn, err error) {
	log.Error().Err(err).Str("session_id", st.id).Str("reason", domain.ReasonSpawnError).Msg("failed to spawn exec child")
	at.trans.appendBlock(journal.TextBlock(fmt.Sprintf("Failed to start %s: %v", e.opts.ExecBin, err)))
	e.finalize(st, at, journal.StopReasonError, 0)
}

// runChild drains the child's stdout into the transcoder and finalizes
// when it exits.
func (e *Engine) runChild(st *sessionState, at *activeTurn, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		at.trans.handleLine(scanner.Bytes())
	}

	err := at.cmd.Wait()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	stopReason := journal.StopReasonEndTurn
	switch {
	case at.cancelled.Load():
		stopReason = journal.StopReasonCancelled
	case err != nil || exitCode != 0:
		stopReason = journal.StopReasonError
		log.Warn().
			Err(domain.NewTurnError("wait", st.id, err, exitCode)).
			Msg("exec child failed")
	}
	e.finalize(st, at, stopReason, exitCode)
}

// finalize closes out a turn exactly once: synthetic blocks per the stop
// reason, the terminal message_end, the sidecar commit, and queue
// draining.
func (e *Engine) finalize(st *sessionState, at *activeTurn, stopReason journal.StopReason, exitCode int) {
	at.finalizeOnce.Do(func() {
		blocks := at.trans.blockCount()
		stderrPreview := at.stderr.Preview(2000)
		at.trans.close()

		st.mu.Lock()
		defer st.mu.Unlock()
		w := st.writer

		switch stopReason {
		case journal.StopReasonError:
			if blocks == 0 {
				text := fmt.Sprintf("Command failed with exit code %d.", exitCode)
				if stderrPreview != "" {
					text += "\n\n" + stderrPreview
				}
				e.appendFinalBlock(w, at, blocks, text)
			} else if stderrPreview != "" {
				e.appendFinalBlock(w, at, blocks, stderrPreview)
			}
		case journal.StopReasonCancelled:
			if blocks == 0 {
				e.appendFinalBlock(w, at, blocks, "Cancelled.")
			}
		}

		if _, err := w.Append(journal.KindMessageEnd, journal.MessageEndData{
			ID:         at.messageID,
			StopReason: stopReason,
		}); err != nil {
			log.Error().Err(err).Str("session_id", st.id).Msg("failed to append message_end")
		}

		threadID, usage := at.trans.threadAndUsage()
		now := time.Now().UTC()
		preview := at.trans.preview()
		if preview == "" {
			preview = at.turn.Content
		}
		update := journal.SidecarUpdate{
			LastMessageAt:      &now,
			LastMessagePreview: strPtr(truncatePreview(preview)),
			MessageCount:       int64Ptr(w.Cursor()),
		}
		if threadID != "" {
			update.LatestThreadID = strPtr(threadID)
		}
		if usage != nil {
			update.Usage = usage
			ci := buildContextInfo(w.Sidecar().Model, usage.TotalTokens)
			update.ContextInfo = &ci
		}
		if err := e.commitLocked(w, st.id, update); err != nil {
			log.Error().Err(err).Str("session_id", st.id).Msg("failed to commit sidecar")
		}

		st.active = false
		st.current = nil
		e.emitSessionMetaLocked(st, w)

		log.Debug().
			Str("session_id", st.id).
			Str("message_id", at.messageID).
			Str("stop_reason", string(stopReason)).
			Int("exit_code", exitCode).
			Msg("turn finalized")

		go e.startNextTurn(st.id)
	})
}

// appendFinalBlock writes a synthetic text block during finalize, after
// the transcoder has been closed.
func (e *Engine) appendFinalBlock(w *journal.Writer, at *activeTurn, index int, text string) {
	if _, err := w.Append(journal.KindContentBlock, journal.ContentBlockData{
		MessageID: at.messageID,
		Index:     index,
		Block:     journal.TextBlock(text),
	}); err != nil {
		log.Error().Err(err).Msg("failed to append synthetic block")
	}
}

// appendMessage writes a complete message triple: start, one text block,
// end.
func (e *Engine) appendMessage(w *journal.Writer, sessionID, messageID string, role journal.Role, text string, stop journal.StopReason, at time.Time) error {
	if _, err := w.Append(journal.KindMessageStart, journal.MessageStartData{
		ID:         messageID,
		LineNumber: w.Cursor() + 1,
		Role:       role,
		Timestamp:  at,
		SessionID:  sessionID,
	}); err != nil {
		return domain.NewJournalError("append", sessionID, err)
	}
	if _, err := w.Append(journal.KindContentBlock, journal.ContentBlockData{
		MessageID: messageID,
		Index:     0,
		Block:     journal.TextBlock(text),
	}); err != nil {
		return domain.NewJournalError("append", sessionID, err)
	}
	if _, err := w.Append(journal.KindMessageEnd, journal.MessageEndData{
		ID:         messageID,
		StopReason: stop,
	}); err != nil {
		return domain.NewJournalError("append", sessionID, err)
	}
	return nil
}

// emitSessionMetaLocked appends a session_meta record reflecting the
// current sidecar plus live activity state. Callers hold st.mu.
func (e *Engine) emitSessionMetaLocked(st *sessionState, w *journal.Writer) {
	sc := w.Sidecar()
	if _, err := w.Append(journal.KindSessionMeta, journal.SessionMetaData{
		Provider:       "exec",
		SessionID:      sc.ID,
		Cwd:            sc.Cwd,
		Model:          sc.Model,
		LatestThreadID: sc.LatestThreadID,
		Usage:          sc.Usage,
		ContextInfo:    sc.ContextInfo,
		IsActive:       st.active,
		QueueLength:    len(st.queue),
	}); err != nil {
		log.Error().Err(err).Str("session_id", st.id).Msg("failed to append session_meta")
	}
}

// commitLocked commits a sidecar update and publishes the commit to the
// hub.
func (e *Engine) commitLocked(w *journal.Writer, sessionID string, update journal.SidecarUpdate) error {
	if err := w.Commit(update); err != nil {
		return domain.NewJournalError("commit", sessionID, err)
	}
	if e.opts.Hub != nil {
		e.opts.Hub.Publish(events.NewSidecarCommittedEvent(sessionID, w.Cursor()))
	}
	return nil
}

// writerLocked lazily opens the session's journal writer. Callers hold
// st.mu.
func (e *Engine) writerLocked(st *sessionState) (*journal.Writer, error) {
	if st.writer != nil {
		return st.writer, nil
	}
	w, err := journal.OpenWriter(e.opts.EventsDir, e.opts.SessionsDir, st.id)
	if err != nil {
		if err == journal.ErrSessionNotFound {
			return nil, domain.ErrSessionNotFound
		}
		return nil, domain.NewJournalError("open", st.id, err)
	}
	st.writer = w
	return w, nil
}

func (e *Engine) state(sessionID string) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[sessionID]
	if !ok {
		st = &sessionState{id: sessionID}
		e.sessions[sessionID] = st
	}
	return st
}

func (e *Engine) lookup(sessionID string) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[sessionID]
}

// truncatePreview caps a preview string at previewLimit runes.
func truncatePreview(s string) string {
	r := []rune(s)
	if len(r) <= previewLimit {
		return s
	}
	return string(r[:previewLimit])
}

func strPtr(s string) *string  { return &s }
func int64Ptr(v int64) *int64  { return &v }
