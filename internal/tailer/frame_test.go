package tailer

import (
	"testing"

	"github.com/relaybridge/codexgw/internal/journal"
)

func TestEncodeFrame(t *testing.T) {
	got := string(EncodeFrame("7", journal.KindContentBlock, []byte(`{"x":1}`)))
	want := "id: 7\nevent: content_block\ndata: {\"x\":1}\n\n\n"
	if got != want {
		t.Fatalf("frame = %q, want %q", got, want)
	}
}

func TestEncodeFrame_EmptyDataBecomesObject(t *testing.T) {
	got := string(EncodeFrame("3", journal.KindHeartbeat, nil))
	want := "id: 3\nevent: heartbeat\ndata: {}\n\n\n"
	if got != want {
		t.Fatalf("frame = %q, want %q", got, want)
	}
}
