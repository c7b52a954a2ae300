package journal

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func writeJournalLines(t *testing.T, eventsDir, sessionID string, lines ...string) string {
	t.Helper()
	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := JournalPath(eventsDir, sessionID)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestReadFrom_DeliversInCursorOrderAboveSince(t *testing.T) {
	eventsDir, _ := newTestDirs(t)
	path := writeJournalLines(t, eventsDir, "s1",
		`{"cursor":"1","event":"message_start","data":{}}`,
		`{"cursor":"2","event":"content_block","data":{}}`,
		`{"cursor":"3","event":"message_end","data":{}}`,
	)

	var got []int64
	n, _, err := ReadFrom(path, 1, func(r Record) error {
		c, err := strconv.ParseInt(r.Cursor, 10, 64)
		if err != nil {
			return err
		}
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("got cursors = %v, want [2 3]", got)
	}
}

func TestReadFrom_SkipsMalformedLines(t *testing.T) {
	eventsDir, _ := newTestDirs(t)
	path := writeJournalLines(t, eventsDir, "s1",
		`{"cursor":"1","event":"message_start","data":{}}`,
		`not json at all`,
		`{"cursor":"2","event":"message_end","data":{}}`,
	)

	n, _, err := ReadFrom(path, 0, func(r Record) error { return nil })
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if n != 2 {
		t.Errorf("delivered = %d, want 2 (malformed line skipped)", n)
	}
}

func TestReadFrom_MissingFileReturnsEmpty(t *testing.T) {
	n, offset, err := ReadFrom(filepath.Join(t.TempDir(), "absent.jsonl"), 0, func(r Record) error { return nil })
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if n != 0 || offset != 0 {
		t.Errorf("n=%d offset=%d, want 0,0", n, offset)
	}
}

func TestReadSince_ResumesFromOffset(t *testing.T) {
	eventsDir, _ := newTestDirs(t)
	path := JournalPath(eventsDir, "s1")
	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	first := `{"cursor":"1","event":"message_start","data":{}}` + "\n"
	if err := os.WriteFile(path, []byte(first), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	n, offset, err := ReadSince(path, 0, 0, func(r Record) error { return nil })
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if n != 1 {
		t.Fatalf("first read n = %d, want 1", n)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(`{"cursor":"2","event":"message_end","data":{}}` + "\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	var secondCursor string
	n2, _, err := ReadSince(path, offset, 0, func(r Record) error {
		secondCursor = r.Cursor
		return nil
	})
	if err != nil {
		t.Fatalf("ReadSince (second): %v", err)
	}
	if n2 != 1 {
		t.Fatalf("second read n = %d, want 1", n2)
	}
	if secondCursor != "2" {
		t.Errorf("second read cursor = %q, want %q", secondCursor, "2")
	}
}

func TestReadSince_RespectsLimit(t *testing.T) {
	eventsDir, _ := newTestDirs(t)
	path := writeJournalLines(t, eventsDir, "s1",
		`{"cursor":"1","event":"message_start","data":{}}`,
		`{"cursor":"2","event":"content_block","data":{}}`,
		`{"cursor":"3","event":"content_block","data":{}}`,
		`{"cursor":"4","event":"message_end","data":{}}`,
	)

	n, _, err := ReadSince(path, 0, 2, func(r Record) error { return nil })
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2 (limit enforced)", n)
	}
}

