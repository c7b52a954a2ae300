package journal

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrSessionNotFound is returned by OpenWriter when no sidecar exists for
// the requested session id.
var ErrSessionNotFound = fmt.Errorf("journal: session not found")

// Writer holds the highest cursor seen for one session's journal and
// serializes append/commit against concurrent callers within this
// process. Callers (the exec-turn engine) own the wider rule that a
// session never has more than one Writer; Writer itself only guards its
// own state.
type Writer struct {
	sessionID   string
	eventsDir   string
	sessionsDir string

	mu      sync.Mutex
	file    *os.File
	cursor  int64
	sidecar *Sidecar
}

// OpenWriter opens (creating if necessary) the journal file for a session
// whose sidecar already exists, recovering the cursor from sidecar +
// tail-scan reconciliation.
func OpenWriter(eventsDir, sessionsDir, sessionID string) (*Writer, error) {
	sidecarPath := SidecarPath(sessionsDir, sessionID)
	sc, err := ReadSidecar(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		return nil, err
	}
	journalPath := JournalPath(eventsDir, sessionID)

	cursor := sc.LastCursor
	recovered, err := recoverLastCursor(journalPath)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("journal: failed to recover tail cursor, trusting sidecar")
	} else if recovered > cursor {
		log.Warn().
			Str("session_id", sessionID).
			Int64("sidecar_cursor", cursor).
			Int64("recovered_cursor", recovered).
			Msg("journal: sidecar lagged journal tail, recovering cursor")
		cursor = recovered
	}

	f, err := os.OpenFile(journalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &Writer{
		sessionID:   sessionID,
		eventsDir:   eventsDir,
		sessionsDir: sessionsDir,
		file:        f,
		cursor:      cursor,
		sidecar:     sc,
	}, nil
}

// Close releases the underlying file handle. It does not flush the
// sidecar; call Commit first if pending updates must be persisted.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Cursor returns the highest cursor appended so far.
func (w *Writer) Cursor() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// Append increments the cursor, appends one JSON line, and returns the new
// cursor. It performs a single append-write; durability is best-effort
// (no fsync).
func (w *Writer) Append(kind Kind, data interface{}) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	raw, err := marshalData(data)
	if err != nil {
		return 0, err
	}

	next := w.cursor + 1
	rec := Record{Cursor: strconv.FormatInt(next, 10), Event: kind, Data: raw}
	line, err := rec.Marshal()
	if err != nil {
		return 0, err
	}
	if _, err := w.file.Write(line); err != nil {
		return 0, err
	}
	w.cursor = next
	return next, nil
}

// SidecarUpdate is a partial update applied over the writer's cached
// sidecar by Commit. Nil fields are left unchanged.
type SidecarUpdate struct {
	LastMessageAt      *time.Time
	LastMessagePreview *string
	MessageCount       *int64
	Model              *string
	LatestThreadID     *string
	Usage              *Usage
	ContextInfo        *ContextInfo
}

// Commit rewrites the sidecar atomically, merging updates over the
// current sidecar and storing lastCursor. It is the single point where
// the session's summary fields and durable cursor advance together.
func (w *Writer) Commit(update SidecarUpdate) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.sidecar
	if update.LastMessageAt != nil {
		s.LastMessageAt = *update.LastMessageAt
	}
	if update.LastMessagePreview != nil {
		s.LastMessagePreview = *update.LastMessagePreview
	}
	if update.MessageCount != nil {
		s.MessageCount = *update.MessageCount
	}
	if update.Model != nil {
		s.Model = *update.Model
	}
	if update.LatestThreadID != nil {
		s.LatestThreadID = *update.LatestThreadID
	}
	if update.Usage != nil {
		s.Usage = *update.Usage
	}
	if update.ContextInfo != nil {
		s.ContextInfo = *update.ContextInfo
	}
	s.LastCursor = w.cursor

	return writeSidecarAtomic(SidecarPath(w.sessionsDir, w.sessionID), s)
}

// Sidecar returns a copy of the writer's current cached sidecar view.
func (w *Writer) Sidecar() Sidecar {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.sidecar
}
