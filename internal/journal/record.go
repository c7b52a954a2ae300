// Package journal implements the append-only, cursor-ordered per-session
// event log: a .jsonl file of records plus a small metadata sidecar, with
// single-writer discipline enforced by the caller and crash-tolerant
// recovery of the last cursor on reopen.
package journal

import (
	"encoding/json"
	"time"
)

// Kind names the event kinds a journal record can carry. The four tagged
// kinds below are persisted and form the closed core set; framing-only
// kinds (history_start, history_end, heartbeat) are emitted by the tailer
// but never written to the journal file.
type Kind string

const (
	KindMessageStart Kind = "message_start"
	KindContentBlock Kind = "content_block"
	KindMessageEnd   Kind = "message_end"
	KindSessionMeta  Kind = "session_meta"

	// Framing-only kinds used by the tailer. Never appended to a journal
	// file; only ever sent over SSE/WS.
	KindHistoryStart Kind = "history_start"
	KindHistoryEnd   Kind = "history_end"
	KindHeartbeat    Kind = "heartbeat"
)

// Role identifies the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StopReason identifies why a message_end was emitted.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonError     StopReason = "error"
	StopReasonCancelled StopReason = "cancelled"
)

// Record is one line of the journal file: canonical JSON with a strictly
// increasing, contiguous, 1-based cursor encoded as a string so it can
// travel in SSE id: fields and Last-Event-ID headers unchanged.
type Record struct {
	Cursor string          `json:"cursor"`
	Event  Kind            `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// MessageStartData is the payload of a message_start record.
type MessageStartData struct {
	ID         string    `json:"id"`
	LineNumber int64     `json:"lineNumber"`
	Role       Role      `json:"role"`
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"sessionId"`
}

// ContentBlockData is the payload of a content_block record.
type ContentBlockData struct {
	MessageID string       `json:"messageId"`
	Index     int          `json:"index"`
	Block     ContentBlock `json:"block"`
}

// ContentBlock is a tagged variant over text|thinking|tool_use|tool_result.
type ContentBlock struct {
	Type string `json:"type"`

	// text, thinking
	Text string `json:"text,omitempty"`

	// tool_use
	ToolUseID string                 `json:"toolUseId,omitempty"`
	ToolName  string                 `json:"toolName,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`

	// tool_result (toolUseId shared with tool_use)
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
	CharCount int    `json:"charCount,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock { return ContentBlock{Type: "text", Text: text} }

// ThinkingBlock builds a thinking content block.
func ThinkingBlock(text string) ContentBlock { return ContentBlock{Type: "thinking", Text: text} }

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(toolUseID, toolName string, input map[string]interface{}) ContentBlock {
	return ContentBlock{Type: "tool_use", ToolUseID: toolUseID, ToolName: toolName, Input: input}
}

// ToolResultBlock builds a tool_result content block. CharCount is the
// byte length of content.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{
		Type:      "tool_result",
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
		CharCount: len(content),
	}
}

// MessageEndData is the payload of a message_end record.
type MessageEndData struct {
	ID         string     `json:"id"`
	StopReason StopReason `json:"stopReason"`
}

// Usage mirrors the sidecar's input/cached/output/total token counters.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	CachedTokens int64 `json:"cachedTokens"`
	OutputTokens int64 `json:"outputTokens"`
	TotalTokens  int64 `json:"totalTokens"`
}

// ContextInfo reports the model's context window usage. MaxTokens and
// PercentLeft are nil when the model isn't in the lookup table.
type ContextInfo struct {
	MaxTokens   *int64   `json:"maxTokens"`
	UsedTokens  int64    `json:"usedTokens"`
	PercentLeft *float64 `json:"percentLeft"`
}

// SessionMetaData is the payload of a session_meta record. It carries no
// ordering contract beyond the cursor and may be emitted at any time.
type SessionMetaData struct {
	Provider       string      `json:"provider"`
	SessionID      string      `json:"sessionId"`
	Cwd            string      `json:"cwd"`
	Model          string      `json:"model"`
	LatestThreadID string      `json:"latestThreadId,omitempty"`
	Usage          Usage       `json:"usage"`
	ContextInfo    ContextInfo `json:"contextInfo"`
	IsActive       bool        `json:"isActive"`
	QueueLength    int         `json:"queueLength"`
}

// marshalData serializes v into a json.RawMessage for embedding in a Record.
func marshalData(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(v)
}

// Decode unmarshals a record's Data into v.
func (r Record) Decode(v interface{}) error {
	return json.Unmarshal(r.Data, v)
}

// Marshal serializes a record as a single JSONL line, terminated by \n.
func (r Record) Marshal() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
