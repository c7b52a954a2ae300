// Package tailer fans a session's journal out to attached SSE clients:
// history replay from a cursor, live follow driven by file-change
// notifications, heartbeats, and idle self-shutdown.
package tailer

import (
	"fmt"

	"github.com/relaybridge/codexgw/internal/journal"
)

// EncodeFrame renders one SSE frame. The double blank line terminator is
// part of the wire contract.
func EncodeFrame(id string, kind journal.Kind, data []byte) []byte {
	if len(data) == 0 {
		data = []byte("{}")
	}
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n\n", id, kind, data))
}

func encodeRecordFrame(rec journal.Record) []byte {
	return EncodeFrame(rec.Cursor, rec.Event, rec.Data)
}

// historyStartPayload and historyEndPayload bracket a replay. They are
// framing-only and never written to the journal.
type historyStartPayload struct {
	Since int64 `json:"since"`
}

type historyEndPayload struct {
	Count int `json:"count"`
}
