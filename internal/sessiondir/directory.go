// Package sessiondir lists exec-provider sessions from their sidecar
// files, newest first, with an optional SQLite index serving the same
// listing for large directories.
package sessiondir

import (
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/journal"
)

// defaultLimit is the page size when the caller does not provide one.
const defaultLimit = 50

// sidecarPattern matches UUID-named sidecar files.
var sidecarPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.json$`)

// Entry is one session in a directory listing.
type Entry struct {
	SessionID          string    `json:"sessionId"`
	Cwd                string    `json:"cwd"`
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"createdAt"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	MessageCount       int64     `json:"messageCount"`
	LastCursor         int64     `json:"lastCursor"`
	FileSize           int64     `json:"fileSize"`
	IsActive           bool      `json:"isActive"`
}

// Page is one page of the session listing.
type Page struct {
	Sessions []Entry `json:"sessions"`
	Total    int     `json:"total"`
	HasMore  bool    `json:"hasMore"`
}

// ActiveChecker reports whether a session has a running turn.
type ActiveChecker interface {
	IsActive(sessionID string) bool
}

// Directory serves session listings. The sidecar files on disk are the
// source of truth; when an Index is attached, listing queries it instead
// of scanning, falling back to the scan if the query fails.
type Directory struct {
	eventsDir   string
	sessionsDir string
	active      ActiveChecker
	index       *Index
}

// New creates a Directory. active and index may be nil.
func New(eventsDir, sessionsDir string, active ActiveChecker, index *Index) *Directory {
	return &Directory{
		eventsDir:   eventsDir,
		sessionsDir: sessionsDir,
		active:      active,
		index:       index,
	}
}

// List returns one page of sessions sorted newest first.
func (d *Directory) List(offset, limit int) (*Page, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	if d.index != nil {
		entries, total, err := d.index.List(offset, limit)
		if err == nil {
			d.annotate(entries)
			return &Page{Sessions: entries, Total: total, HasMore: offset+len(entries) < total}, nil
		}
		log.Warn().Err(err).Msg("session index query failed, falling back to directory scan")
	}

	return d.scan(offset, limit)
}

// scan lists sidecar files sorted descending by mtime and reads the
// requested page.
func (d *Directory) scan(offset, limit int) (*Page, error) {
	dirEntries, err := os.ReadDir(d.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Page{Sessions: []Entry{}}, nil
		}
		return nil, err
	}

	type candidate struct {
		id    string
		mtime time.Time
	}
	var candidates []candidate
	for _, de := range dirEntries {
		if de.IsDir() || !sidecarPattern.MatchString(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			id:    strings.TrimSuffix(de.Name(), ".json"),
			mtime: info.ModTime(),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mtime.After(candidates[j].mtime)
	})

	total := len(candidates)
	if offset >= total {
		return &Page{Sessions: []Entry{}, Total: total}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	entries := make([]Entry, 0, end-offset)
	for _, c := range candidates[offset:end] {
		entries = append(entries, d.readEntry(c.id))
	}
	d.annotate(entries)
	return &Page{Sessions: entries, Total: total, HasMore: end < total}, nil
}

// readEntry loads one sidecar, tolerating parse errors as an empty entry
// that still carries the session id.
func (d *Directory) readEntry(sessionID string) Entry {
	entry := Entry{SessionID: sessionID}
	sc, err := journal.ReadSidecar(journal.SidecarPath(d.sessionsDir, sessionID))
	if err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("unreadable sidecar in listing")
		return entry
	}
	entry.Cwd = sc.Cwd
	entry.Model = sc.Model
	entry.CreatedAt = sc.CreatedAt
	entry.LastMessageAt = sc.LastMessageAt
	entry.LastMessagePreview = sc.LastMessagePreview
	entry.MessageCount = sc.MessageCount
	entry.LastCursor = sc.LastCursor
	return entry
}

// annotate fills the live fields the sidecar cannot know: journal size
// and whether a turn is running.
func (d *Directory) annotate(entries []Entry) {
	for i := range entries {
		if info, err := os.Stat(journal.JournalPath(d.eventsDir, entries[i].SessionID)); err == nil {
			entries[i].FileSize = info.Size()
		}
		if d.active != nil {
			entries[i].IsActive = d.active.IsActive(entries[i].SessionID)
		}
	}
}
