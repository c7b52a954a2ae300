package tailer

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/domain/ports"
	"github.com/relaybridge/codexgw/internal/journal"
)

// errTailerStopped is returned by Attach when the tailer has already
// retired; the manager reacts by creating a fresh one.
var errTailerStopped = errors.New("tailer stopped")

// errReplayLimit stops a replay that reached the client's limit.
var errReplayLimit = errors.New("replay limit reached")

// Sink receives encoded SSE frames for one attached client.
type Sink interface {
	ID() string
	Write(frame []byte) error
}

// Tailer follows one session's journal file and fans new records out to
// its attached clients. The mutex serializes attach, live reads, and
// broadcasts so every client sees history followed by a contiguous,
// duplicate-free live suffix.
type Tailer struct {
	sessionID   string
	journalPath string
	sidecarPath string
	opts        Options
	notifier    ports.ChangeNotifier
	retire      chan<- string

	mu        sync.Mutex
	clients   map[string]Sink
	position  int64
	cursor    int64
	idleTimer *time.Timer
	stopped   bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newTailer(sessionID string, opts Options, retire chan<- string) (*Tailer, error) {
	t := &Tailer{
		sessionID:   sessionID,
		journalPath: journal.JournalPath(opts.EventsDir, sessionID),
		sidecarPath: journal.SidecarPath(opts.SessionsDir, sessionID),
		opts:        opts,
		retire:      retire,
		clients:     make(map[string]Sink),
		done:        make(chan struct{}),
	}
	t.notifier = opts.NewNotifier(t.journalPath)

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	if err := t.notifier.Start(ctx); err != nil {
		cancel()
		return nil, err
	}

	go t.run(ctx)
	log.Debug().Str("session_id", sessionID).Msg("tailer started")
	return t, nil
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.done)

	heartbeat := time.NewTicker(t.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-t.notifier.Changes():
			t.mu.Lock()
			t.readLiveLocked(nil, 0)
			t.mu.Unlock()

		case <-heartbeat.C:
			t.mu.Lock()
			t.broadcastLocked(EncodeFrame(strconv.FormatInt(t.cursor, 10), journal.KindHeartbeat, nil))
			t.mu.Unlock()
		}
	}
}

// Attach wires a new client: session_meta, history_start, replay of
// records with cursor > since (capped at limit when limit > 0),
// history_end, then membership in the broadcast set.
func (t *Tailer) Attach(sink Sink, since int64, limit int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return errTailerStopped
	}
	t.cancelIdleLocked()

	// Drain pending appends first so the replay snapshot starts exactly
	// at the live position.
	t.readLiveLocked(nil, 0)

	if err := t.sendSessionMetaLocked(sink); err != nil {
		return err
	}

	startData, _ := json.Marshal(historyStartPayload{Since: since})
	if err := sink.Write(EncodeFrame(strconv.FormatInt(since, 10), journal.KindHistoryStart, startData)); err != nil {
		return err
	}

	count := 0
	lastReplayed := since
	_, _, err := journal.ReadFrom(t.journalPath, since, func(rec journal.Record) error {
		if limit > 0 && count >= limit {
			return errReplayLimit
		}
		if werr := sink.Write(encodeRecordFrame(rec)); werr != nil {
			return werr
		}
		if c, perr := strconv.ParseInt(rec.Cursor, 10, 64); perr == nil && c > lastReplayed {
			lastReplayed = c
		}
		count++
		if t.opts.ReplayYieldEvery > 0 && count%t.opts.ReplayYieldEvery == 0 {
			runtime.Gosched()
		}
		return nil
	})
	if err != nil && err != errReplayLimit {
		return err
	}

	endData, _ := json.Marshal(historyEndPayload{Count: count})
	if err := sink.Write(EncodeFrame(strconv.FormatInt(lastReplayed, 10), journal.KindHistoryEnd, endData)); err != nil {
		return err
	}

	// Appends that raced the replay go to the existing set; the new sink
	// only gets the ones its replay did not already cover.
	t.readLiveLocked(sink, lastReplayed)

	t.clients[sink.ID()] = sink
	log.Debug().
		Str("session_id", t.sessionID).
		Str("client_id", sink.ID()).
		Int64("since", since).
		Int("replayed", count).
		Msg("client attached")
	return nil
}

// Detach removes a client from the broadcast set. The last detach arms
// the idle-shutdown timer.
func (t *Tailer) Detach(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[clientID]; !ok {
		return
	}
	delete(t.clients, clientID)
	log.Debug().Str("session_id", t.sessionID).Str("client_id", clientID).Msg("client detached")
	if len(t.clients) == 0 {
		t.armIdleLocked()
	}
}

// ClientCount returns the number of attached clients.
func (t *Tailer) ClientCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// sendSessionMetaLocked emits the attach-time session_meta frame from the
// sidecar, annotated with live activity state.
func (t *Tailer) sendSessionMetaLocked(sink Sink) error {
	sc, err := journal.ReadSidecar(t.sidecarPath)
	if err != nil {
		return err
	}
	meta := journal.SessionMetaData{
		Provider:       "exec",
		SessionID:      sc.ID,
		Cwd:            sc.Cwd,
		Model:          sc.Model,
		LatestThreadID: sc.LatestThreadID,
		Usage:          sc.Usage,
		ContextInfo:    sc.ContextInfo,
	}
	if t.opts.Activity != nil {
		meta.IsActive = t.opts.Activity.IsActive(t.sessionID)
		meta.QueueLength = t.opts.Activity.QueueLength(t.sessionID)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return sink.Write(EncodeFrame(strconv.FormatInt(sc.LastCursor, 10), journal.KindSessionMeta, data))
}

// readLiveLocked reads forward from the stored position and broadcasts
// each record. When extra is non-nil, records with cursor > extraAfter
// are also written to it (an attaching client whose replay ended at
// extraAfter). Malformed lines are skipped inside the reader.
func (t *Tailer) readLiveLocked(extra Sink, extraAfter int64) {
	_, pos, err := journal.ReadSince(t.journalPath, t.position, 0, func(rec journal.Record) error {
		frame := encodeRecordFrame(rec)
		t.broadcastLocked(frame)
		if c, perr := strconv.ParseInt(rec.Cursor, 10, 64); perr == nil {
			if c > t.cursor {
				t.cursor = c
			}
			if extra != nil && c > extraAfter {
				_ = extra.Write(frame)
			}
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", t.sessionID).Msg("live read failed")
		return
	}
	t.position = pos
}

// broadcastLocked writes one frame to every client; a write failure drops
// that client only.
func (t *Tailer) broadcastLocked(frame []byte) {
	var dead []string
	for id, sink := range t.clients {
		if err := sink.Write(frame); err != nil {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(t.clients, id)
		log.Debug().Str("session_id", t.sessionID).Str("client_id", id).Msg("dropping dead client")
	}
	if len(dead) > 0 && len(t.clients) == 0 {
		t.armIdleLocked()
	}
}

func (t *Tailer) armIdleLocked() {
	if t.idleTimer != nil || t.stopped {
		return
	}
	t.idleTimer = time.AfterFunc(t.opts.IdleTimeout, t.requestRetire)
}

func (t *Tailer) cancelIdleLocked() {
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
}

// requestRetire asks the manager to deregister this tailer. The tailer
// never holds a reference to the manager; retirement travels as a
// message upward.
func (t *Tailer) requestRetire() {
	t.mu.Lock()
	if t.stopped || len(t.clients) > 0 {
		t.mu.Unlock()
		return
	}
	t.idleTimer = nil
	t.mu.Unlock()

	select {
	case t.retire <- t.sessionID:
	case <-t.done:
	}
}

// stop closes the file watcher and ends the run loop. Attached clients
// are forgotten, not closed; their connections belong to the transport.
func (t *Tailer) stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.cancelIdleLocked()
	t.clients = make(map[string]Sink)
	t.mu.Unlock()

	if err := t.notifier.Stop(); err != nil {
		log.Warn().Err(err).Str("session_id", t.sessionID).Msg("failed to stop notifier")
	}
	t.cancel()
	log.Debug().Str("session_id", t.sessionID).Msg("tailer stopped")
}

func (t *Tailer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
