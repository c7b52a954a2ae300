package execengine

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaybridge/codexgw/internal/journal"
)

func newTestWriter(t *testing.T) (*journal.Writer, string) {
	t.Helper()
	dir := t.TempDir()
	eventsDir := filepath.Join(dir, "events")
	sessionsDir := filepath.Join(dir, "sessions")

	sc := &journal.Sidecar{
		ID:        "11111111-2222-3333-4444-555555555555",
		Cwd:       dir,
		Model:     "gpt-5.2-codex",
		CreatedAt: time.Now().UTC(),
	}
	if err := journal.CreateSidecar(sessionsDir, sc); err != nil {
		t.Fatalf("CreateSidecar: %v", err)
	}
	w, err := journal.OpenWriter(eventsDir, sessionsDir, sc.ID)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, journal.JournalPath(eventsDir, sc.ID)
}

func readRecords(t *testing.T, path string) []journal.Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var recs []journal.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var r journal.Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("unmarshal record: %v", err)
		}
		recs = append(recs, r)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan journal: %v", err)
	}
	return recs
}

func decodeBlock(t *testing.T, rec journal.Record) journal.ContentBlockData {
	t.Helper()
	if rec.Event != journal.KindContentBlock {
		t.Fatalf("record kind = %s, want content_block", rec.Event)
	}
	var d journal.ContentBlockData
	if err := rec.Decode(&d); err != nil {
		t.Fatalf("decode content_block: %v", err)
	}
	return d
}

func TestTranscoder_FullTurn(t *testing.T) {
	w, path := newTestWriter(t)
	tr := newTranscoder(w, "msg-1")

	lines := []string{
		`{"type":"thread.started","thread_id":"th-42"}`,
		`{"type":"item.started","item":{"id":"call-1","item_type":"command_execution","command":"ls -la"}}`,
		`{"type":"item.completed","item":{"id":"call-1","item_type":"command_execution","aggregated_output":"total 0\n","exit_code":0}}`,
		`{"type":"item.completed","item":{"id":"r-1","item_type":"reasoning","text":"inspecting the tree"}}`,
		`{"type":"item.completed","item":{"id":"m-1","item_type":"agent_message","text":"The directory is empty."}}`,
		`{"type":"turn.completed","usage":{"input_tokens":1000,"cached_input_tokens":400,"output_tokens":250}}`,
	}
	for _, l := range lines {
		tr.handleLine([]byte(l))
	}

	if got := tr.blockCount(); got != 4 {
		t.Fatalf("blockCount = %d, want 4", got)
	}
	if got := tr.preview(); got != "The directory is empty." {
		t.Fatalf("preview = %q", got)
	}
	threadID, usage := tr.threadAndUsage()
	if threadID != "th-42" {
		t.Fatalf("threadID = %q, want th-42", threadID)
	}
	if usage == nil {
		t.Fatal("usage is nil")
	}
	if usage.InputTokens != 1000 || usage.CachedTokens != 400 || usage.OutputTokens != 250 || usage.TotalTokens != 1250 {
		t.Fatalf("usage = %+v", usage)
	}

	recs := readRecords(t, path)
	if len(recs) != 4 {
		t.Fatalf("journal has %d records, want 4", len(recs))
	}

	use := decodeBlock(t, recs[0])
	if use.Block.Type != "tool_use" || use.Block.ToolName != "bash" || use.Block.ToolUseID != "call-1" {
		t.Fatalf("tool_use block = %+v", use.Block)
	}
	if use.Block.Input["command"] != "ls -la" {
		t.Fatalf("tool_use command = %v", use.Block.Input["command"])
	}

	result := decodeBlock(t, recs[1])
	if result.Block.Type != "tool_result" || result.Block.ToolUseID != "call-1" || result.Block.IsError {
		t.Fatalf("tool_result block = %+v", result.Block)
	}
	if result.Block.Content != "total 0\n" || result.Block.CharCount != len("total 0\n") {
		t.Fatalf("tool_result content = %+v", result.Block)
	}

	thinking := decodeBlock(t, recs[2])
	if thinking.Block.Type != "thinking" || thinking.Block.Text != "inspecting the tree" {
		t.Fatalf("thinking block = %+v", thinking.Block)
	}

	text := decodeBlock(t, recs[3])
	if text.Block.Type != "text" || text.Block.Text != "The directory is empty." {
		t.Fatalf("text block = %+v", text.Block)
	}

	for i, rec := range recs {
		var d journal.ContentBlockData
		if err := rec.Decode(&d); err != nil {
			t.Fatal(err)
		}
		if d.MessageID != "msg-1" {
			t.Fatalf("record %d messageId = %q", i, d.MessageID)
		}
		if d.Index != i {
			t.Fatalf("record %d index = %d", i, d.Index)
		}
	}
}

func TestTranscoder_FailedCommandMarksError(t *testing.T) {
	w, path := newTestWriter(t)
	tr := newTranscoder(w, "msg-1")

	tr.handleLine([]byte(`{"type":"item.completed","item":{"id":"call-9","item_type":"command_execution","aggregated_output":"no such file","exit_code":2}}`))

	recs := readRecords(t, path)
	if len(recs) != 1 {
		t.Fatalf("journal has %d records, want 1", len(recs))
	}
	d := decodeBlock(t, recs[0])
	if !d.Block.IsError {
		t.Fatal("tool_result should be marked as error for a nonzero exit code")
	}
}

func TestTranscoder_DropsMalformedAndUnknownLines(t *testing.T) {
	w, _ := newTestWriter(t)
	tr := newTranscoder(w, "msg-1")

	tr.handleLine(nil)
	tr.handleLine([]byte("not json at all"))
	tr.handleLine([]byte(`{"type":"something.else"}`))
	tr.handleLine([]byte(`{"type":"item.completed"}`))
	tr.handleLine([]byte(`{"type":"item.completed","item":{"id":"x","item_type":"unknown_kind","text":"hi"}}`))

	if got := tr.blockCount(); got != 0 {
		t.Fatalf("blockCount = %d, want 0", got)
	}
}

func TestTranscoder_CloseStopsHandling(t *testing.T) {
	w, _ := newTestWriter(t)
	tr := newTranscoder(w, "msg-1")

	tr.close()
	tr.handleLine([]byte(`{"type":"item.completed","item":{"id":"m","item_type":"agent_message","text":"late"}}`))

	if got := tr.blockCount(); got != 0 {
		t.Fatalf("blockCount after close = %d, want 0", got)
	}
	if got := tr.preview(); got != "" {
		t.Fatalf("preview after close = %q, want empty", got)
	}
}
