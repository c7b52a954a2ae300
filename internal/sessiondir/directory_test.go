package sessiondir

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaybridge/codexgw/internal/journal"
)

type fixedActive map[string]bool

func (a fixedActive) IsActive(id string) bool { return a[id] }

func sessionID(n int) string {
	return fmt.Sprintf("%08d-0000-0000-0000-000000000000", n)
}

// writeSession creates a sidecar (and optionally a journal of size
// bytes) with a deterministic mtime so listings have a stable order.
func writeSession(t *testing.T, eventsDir, sessionsDir string, n int, mtime time.Time, journalBytes int) string {
	t.Helper()
	id := sessionID(n)
	sc := &journal.Sidecar{
		ID:                 id,
		Cwd:                "/work",
		Model:              "o3",
		CreatedAt:          mtime.Add(-time.Hour),
		LastMessageAt:      mtime,
		LastMessagePreview: fmt.Sprintf("preview %d", n),
		MessageCount:       int64(n),
		LastCursor:         int64(n),
	}
	if err := journal.CreateSidecar(sessionsDir, sc); err != nil {
		t.Fatalf("CreateSidecar: %v", err)
	}
	path := journal.SidecarPath(sessionsDir, id)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if journalBytes > 0 {
		if err := os.MkdirAll(eventsDir, 0o755); err != nil {
			t.Fatal(err)
		}
		data := make([]byte, journalBytes)
		if err := os.WriteFile(journal.JournalPath(eventsDir, id), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return id
}

func TestList_SortsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	eventsDir := filepath.Join(dir, "events")
	sessionsDir := filepath.Join(dir, "sessions")

	base := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	for n := 1; n <= 3; n++ {
		writeSession(t, eventsDir, sessionsDir, n, base.Add(time.Duration(n)*time.Hour), 0)
	}

	d := New(eventsDir, sessionsDir, nil, nil)
	page, err := d.List(0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 3 || page.HasMore {
		t.Fatalf("page = total %d hasMore %v, want 3 false", page.Total, page.HasMore)
	}
	want := []string{sessionID(3), sessionID(2), sessionID(1)}
	for i, e := range page.Sessions {
		if e.SessionID != want[i] {
			t.Fatalf("session %d = %s, want %s", i, e.SessionID, want[i])
		}
	}
	if page.Sessions[0].LastMessagePreview != "preview 3" || page.Sessions[0].MessageCount != 3 {
		t.Fatalf("entry = %+v", page.Sessions[0])
	}
}

func TestList_Paging(t *testing.T) {
	dir := t.TempDir()
	eventsDir := filepath.Join(dir, "events")
	sessionsDir := filepath.Join(dir, "sessions")

	base := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	for n := 1; n <= 5; n++ {
		writeSession(t, eventsDir, sessionsDir, n, base.Add(time.Duration(n)*time.Minute), 0)
	}
	d := New(eventsDir, sessionsDir, nil, nil)

	page, err := d.List(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Sessions) != 2 || page.Total != 5 || !page.HasMore {
		t.Fatalf("first page = %d sessions, total %d, hasMore %v", len(page.Sessions), page.Total, page.HasMore)
	}
	if page.Sessions[0].SessionID != sessionID(5) {
		t.Fatalf("first = %s", page.Sessions[0].SessionID)
	}

	page, err = d.List(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Sessions) != 1 || page.HasMore {
		t.Fatalf("last page = %d sessions, hasMore %v", len(page.Sessions), page.HasMore)
	}
	if page.Sessions[0].SessionID != sessionID(1) {
		t.Fatalf("last = %s", page.Sessions[0].SessionID)
	}

	page, err = d.List(10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Sessions) != 0 || page.Total != 5 {
		t.Fatalf("beyond-end page = %+v", page)
	}
}

func TestList_AnnotatesFileSizeAndActive(t *testing.T) {
	dir := t.TempDir()
	eventsDir := filepath.Join(dir, "events")
	sessionsDir := filepath.Join(dir, "sessions")

	now := time.Now().Truncate(time.Second)
	busy := writeSession(t, eventsDir, sessionsDir, 1, now, 321)
	idle := writeSession(t, eventsDir, sessionsDir, 2, now.Add(-time.Hour), 0)

	d := New(eventsDir, sessionsDir, fixedActive{busy: true}, nil)
	page, err := d.List(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Sessions) != 2 {
		t.Fatalf("got %d sessions", len(page.Sessions))
	}
	first := page.Sessions[0]
	if first.SessionID != busy || !first.IsActive || first.FileSize != 321 {
		t.Fatalf("busy entry = %+v", first)
	}
	second := page.Sessions[1]
	if second.SessionID != idle || second.IsActive || second.FileSize != 0 {
		t.Fatalf("idle entry = %+v", second)
	}
}

func TestList_ToleratesMalformedSidecar(t *testing.T) {
	dir := t.TempDir()
	eventsDir := filepath.Join(dir, "events")
	sessionsDir := filepath.Join(dir, "sessions")

	now := time.Now().Truncate(time.Second)
	writeSession(t, eventsDir, sessionsDir, 1, now.Add(-time.Hour), 0)

	broken := sessionID(9)
	if err := os.WriteFile(journal.SidecarPath(sessionsDir, broken), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New(eventsDir, sessionsDir, nil, nil)
	page, err := d.List(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}
	var found bool
	for _, e := range page.Sessions {
		if e.SessionID == broken {
			found = true
			if e.Model != "" || e.MessageCount != 0 {
				t.Fatalf("broken sidecar entry = %+v", e)
			}
		}
	}
	if !found {
		t.Fatal("malformed sidecar missing from listing")
	}
}

func TestList_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	sessionsDir := filepath.Join(dir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"notes.txt", "sidecar.json.bak", ".hidden.json"} {
		if err := os.WriteFile(filepath.Join(sessionsDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	d := New(filepath.Join(dir, "events"), sessionsDir, nil, nil)
	page, err := d.List(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 {
		t.Fatalf("total = %d, want 0", page.Total)
	}
}

func TestList_MissingDirIsEmpty(t *testing.T) {
	dir := t.TempDir()
	d := New(filepath.Join(dir, "events"), filepath.Join(dir, "sessions"), nil, nil)
	page, err := d.List(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 || len(page.Sessions) != 0 {
		t.Fatalf("page = %+v", page)
	}
}
