package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Sidecar mirrors the persistent exec-provider session state. Once a
// writing turn commits, lastCursor covers every persisted event's cursor.
type Sidecar struct {
	ID                 string      `json:"id"`
	Cwd                string      `json:"cwd"`
	Model              string      `json:"model"`
	CreatedAt          time.Time   `json:"createdAt"`
	LastMessageAt      time.Time   `json:"lastMessageAt"`
	LastMessagePreview string      `json:"lastMessagePreview"`
	MessageCount       int64       `json:"messageCount"`
	LastCursor         int64       `json:"lastCursor"`
	LatestThreadID     string      `json:"latestThreadId,omitempty"`
	Usage              Usage       `json:"usage"`
	ContextInfo        ContextInfo `json:"contextInfo"`

	// UpdatedAt is internal-only: it mirrors the sidecar file's mtime and
	// backs both the session directory's ordering and the optional SQLite
	// index's ORDER BY.
	UpdatedAt time.Time `json:"-"`
}

// SidecarPath returns the sidecar file path for a session under sessionsDir.
func SidecarPath(sessionsDir, sessionID string) string {
	return filepath.Join(sessionsDir, sessionID+".json")
}

// JournalPath returns the .jsonl journal file path for a session under eventsDir.
func JournalPath(eventsDir, sessionID string) string {
	return filepath.Join(eventsDir, sessionID+".jsonl")
}

// ReadSidecar loads a sidecar file. It returns os.ErrNotExist (wrapped) if
// the file is absent, matching the SESSION_NOT_FOUND disposition callers
// are expected to apply.
func ReadSidecar(path string) (*Sidecar, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Sidecar
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	info, statErr := os.Stat(path)
	if statErr == nil {
		s.UpdatedAt = info.ModTime()
	}
	return &s, nil
}

// CreateSidecar writes a brand-new sidecar for a freshly created session.
func CreateSidecar(sessionsDir string, s *Sidecar) error {
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return err
	}
	return writeSidecarAtomic(SidecarPath(sessionsDir, s.ID), s)
}

// writeSidecarAtomic rewrites the sidecar using write-whole-file semantics:
// write to a temp file in the same directory, then rename over the target.
// This approximates atomicity on POSIX filesystems; no fsync.
func writeSidecarAtomic(path string, s *Sidecar) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".sidecar-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
