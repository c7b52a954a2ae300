package execengine

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/journal"
)

// execEvent is one JSON line of the exec child's stdout.
type execEvent struct {
	Type     string     `json:"type"`
	ThreadID string     `json:"thread_id,omitempty"`
	Usage    *execUsage `json:"usage,omitempty"`
	Item     *execItem  `json:"item,omitempty"`
}

type execUsage struct {
	InputTokens       int64 `json:"input_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
}

type execItem struct {
	ID               string `json:"id"`
	Type             string `json:"item_type"`
	Command          string `json:"command"`
	AggregatedOutput string `json:"aggregated_output"`
	ExitCode         *int   `json:"exit_code"`
	Text             string `json:"text"`
}

// transcoder converts a child's structured stdout lines into journal
// content blocks for one assistant message.
type transcoder struct {
	w         *journal.Writer
	messageID string

	mu               sync.Mutex
	closed           bool
	blockIndex       int
	threadID         string
	usage            *journal.Usage
	assistantPreview string
}

func newTranscoder(w *journal.Writer, messageID string) *transcoder {
	return &transcoder{w: w, messageID: messageID}
}

// handleLine parses one stdout line. Malformed or unknown lines are
// dropped silently.
func (t *transcoder) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	var ev execEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		log.Trace().Err(err).Msg("dropping malformed exec output line")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	switch ev.Type {
	case "thread.started":
		t.threadID = ev.ThreadID

	case "turn.completed":
		if ev.Usage != nil {
			t.usage = &journal.Usage{
				InputTokens:  ev.Usage.InputTokens,
				CachedTokens: ev.Usage.CachedInputTokens,
				OutputTokens: ev.Usage.OutputTokens,
				TotalTokens:  ev.Usage.InputTokens + ev.Usage.OutputTokens,
			}
		}

	case "item.started":
		if ev.Item != nil && ev.Item.Type == "command_execution" {
			t.appendBlockLocked(journal.ToolUseBlock(ev.Item.ID, "bash", map[string]interface{}{
				"command": ev.Item.Command,
			}))
		}

	case "item.completed":
		if ev.Item == nil {
			return
		}
		switch ev.Item.Type {
		case "command_execution":
			isError := ev.Item.ExitCode != nil && *ev.Item.ExitCode != 0
			t.appendBlockLocked(journal.ToolResultBlock(ev.Item.ID, ev.Item.AggregatedOutput, isError))
		case "agent_message":
			t.appendBlockLocked(journal.TextBlock(ev.Item.Text))
			t.assistantPreview = ev.Item.Text
		case "reasoning":
			t.appendBlockLocked(journal.ThinkingBlock(ev.Item.Text))
		}
	}
}

// appendBlock writes one content block outside the line-handling path
// (finalize's synthetic blocks).
func (t *transcoder) appendBlock(block journal.ContentBlock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendBlockLocked(block)
}

func (t *transcoder) appendBlockLocked(block journal.ContentBlock) {
	_, err := t.w.Append(journal.KindContentBlock, journal.ContentBlockData{
		MessageID: t.messageID,
		Index:     t.blockIndex,
		Block:     block,
	})
	if err != nil {
		log.Error().Err(err).Str("message_id", t.messageID).Msg("failed to append content block")
		return
	}
	t.blockIndex++
}

// close stops further line handling; lines read after cancel are dropped.
func (t *transcoder) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *transcoder) blockCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blockIndex
}

func (t *transcoder) preview() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assistantPreview
}

func (t *transcoder) threadAndUsage() (string, *journal.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threadID, t.usage
}
