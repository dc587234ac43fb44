package streamjson

import (
	"encoding/json"

	"github.com/kandev/acpbridge/internal/content"
	"github.com/kandev/acpbridge/internal/core"
)

// Translator implements spec §4.4. It is stateless by design (spec §9
// "Duplicate-suppression state": the decision is purely per-line) — no
// field on Translator may be mutated by TranslateLine.
type Translator struct{}

// New builds a stateless Translator.
func New() *Translator { return &Translator{} }

// ToolUseEvent is surfaced alongside a translated notification when an
// assistant line's first content item is tool_use, so the orchestrator
// can route it into the tool-call engine without re-parsing the line.
type ToolUseEvent struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// TranslationResult is the outcome of translating one CLI output line.
type TranslationResult struct {
	// Chunk is set when the line yields an AgentMessageChunk's content.
	Chunk *core.ContentBlock

	// ToolUse is set when the line's content carries a tool_use block.
	ToolUse *ToolUseEvent

	// StopReason is set when the line is a `result` message.
	StopReason string
	IsResult   bool
}

// TranslateLine implements the CLI->ACP half of spec §4.4's table. A
// malformed line or one missing `type` is a hard error on the call; the
// caller (the stream reader loop) decides whether to keep reading.
func (t *Translator) TranslateLine(line []byte) (*TranslationResult, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, core.ValidationErrorf("malformed stream-json line: %v", err)
	}
	if env.Type == "" {
		return nil, core.ValidationErrorf("stream-json line is missing required field \"type\"")
	}

	switch env.Type {
	case TypeSystem:
		return &TranslationResult{}, nil // metadata only; no notification
	case TypeUser:
		return &TranslationResult{}, nil // synthetic keepalive; drop
	case TypeStreamEvent:
		return t.translateStreamEvent(env.Event), nil
	case TypeAssistant:
		return t.translateAssistant(env.Message)
	case TypeResult:
		return &TranslationResult{IsResult: true, StopReason: env.StopReason}, nil
	default:
		return &TranslationResult{}, nil // unknown type: dropped; no warning is logged for it
	}
}

func (t *Translator) translateStreamEvent(event *streamEvent) *TranslationResult {
	if event == nil || event.Type != "content_block_delta" || event.Delta == nil {
		return &TranslationResult{} // other stream_event sub-types: drop
	}
	return &TranslationResult{
		Chunk: &core.ContentBlock{Type: core.ContentTypeText, Text: event.Delta.Text},
	}
}

func (t *Translator) translateAssistant(msg *cliMessage) (*TranslationResult, error) {
	if msg == nil || len(msg.Content) == 0 {
		return &TranslationResult{}, nil
	}
	first := msg.Content[0]
	switch first.Type {
	case "text":
		// Duplicate-suppression: this text was already delivered via deltas.
		return &TranslationResult{}, nil
	case "tool_use":
		rendered, err := content.RenderToolUse(first.ID, first.Name, first.Input)
		if err != nil {
			return nil, err
		}
		return &TranslationResult{
			Chunk:   &core.ContentBlock{Type: core.ContentTypeText, Text: rendered},
			ToolUse: &ToolUseEvent{ID: first.ID, Name: first.Name, Input: first.Input},
		}, nil
	default:
		return &TranslationResult{}, nil
	}
}

// EncodeUserText implements the ACP->CLI half of spec §4.4 for a plain
// text prompt: exactly one text content block per message.
func (t *Translator) EncodeUserText(blocks []core.ContentBlock) ([]byte, error) {
	if len(blocks) != 1 || blocks[0].Type != core.ContentTypeText {
		return nil, core.ValidationErrorf("assistant CLI input accepts exactly one text content block per message").
			WithSuggestion("send a single text content block; the assistant CLI's input dialect has no multi-block or non-text variant")
	}
	line := inputStreamUserMessage{
		Type: "user",
		Message: inputUserContent{
			Role:    "user",
			Content: blocks[0].Text,
		},
	}
	return json.Marshal(line)
}

// EncodeToolResult implements the ACP->CLI tool-result shape of spec §4.4.
func (t *Translator) EncodeToolResult(toolUseID, resultText string) ([]byte, error) {
	line := inputStreamToolResult{
		Type: "user",
		Message: inputToolResultContent{
			Role: "user",
			Content: []toolResultBlock{{
				Type:      "tool_result",
				ToolUseID: toolUseID,
				Content:   []textContent{{Type: "text", Text: resultText}},
			}},
		},
	}
	return json.Marshal(line)
}
