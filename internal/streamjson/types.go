// Package streamjson implements spec §4.4's ProtocolTranslator: the
// stateless, per-line conversion between ACP content blocks and the
// assistant CLI's line-delimited stream-JSON dialect. Grounded on the
// teacher's claudecode.Client/streamjson adapter message shapes, pared
// down to exactly the dialect spec §4.4/§6.2 describes (no control-plane
// permission dance — this bridge enforces permissions itself, and the
// child is launched with permission checks bypassed).
package streamjson

import "encoding/json"

// CLI message type discriminants (spec §4.4's table, §6.2).
const (
	TypeSystem      = "system"
	TypeUser        = "user"
	TypeStreamEvent = "stream_event"
	TypeAssistant   = "assistant"
	TypeResult      = "result"
)

// envelope is the generic first-pass unmarshal of one CLI output line.
type envelope struct {
	Type string `json:"type"`

	Event *streamEvent `json:"event,omitempty"`

	Message *cliMessage `json:"message,omitempty"`

	// result-message fields
	StopReason string `json:"stop_reason,omitempty"`
	Result     string `json:"result,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// streamEvent is the inner payload of a stream_event line.
type streamEvent struct {
	Type  string     `json:"type"`
	Delta *textDelta `json:"delta,omitempty"`
}

type textDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// cliMessage is the "message" field of an assistant/user line.
type cliMessage struct {
	Role    string           `json:"role"`
	Content []contentItem    `json:"content"`
}

// contentItem is one element of an assistant/user message's content array.
type contentItem struct {
	Type string `json:"type"`

	// text variant
	Text string `json:"text,omitempty"`

	// tool_use variant
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result variant
	ToolUseID string `json:"tool_use_id,omitempty"`
}

// inputStreamUserMessage is the ACP->CLI stdin shape for a plain text prompt.
type inputStreamUserMessage struct {
	Type    string            `json:"type"`
	Message inputUserContent  `json:"message"`
}

type inputUserContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// inputStreamToolResult is the ACP->CLI stdin shape for a tool result.
type inputStreamToolResult struct {
	Type    string                  `json:"type"`
	Message inputToolResultContent `json:"message"`
}

type inputToolResultContent struct {
	Role    string            `json:"role"`
	Content []toolResultBlock `json:"content"`
}

type toolResultBlock struct {
	Type      string        `json:"type"`
	ToolUseID string        `json:"tool_use_id"`
	Content   []textContent `json:"content"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
