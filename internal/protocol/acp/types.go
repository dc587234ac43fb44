// Package acp defines the ACP method param/result shapes spec §6.1
// describes, generalized from the teacher's pkg/acp/jsonrpc/types.go
// (which models the same family of JSON-RPC methods for a different
// domain) to this bridge's session/prompt/tool-call vocabulary.
package acp

import "github.com/kandev/acpbridge/internal/core"

// ClientCapabilities is what the client declares at initialize time.
type ClientCapabilities struct {
	Streaming           bool                    `json:"streaming"`
	PromptCapabilities  core.PromptCapabilities `json:"-"`
	LoadSession         bool                    `json:"loadSession"`
}

// clientCapabilitiesWire is the JSON wire shape (flattened prompt caps).
type clientCapabilitiesWire struct {
	Streaming   bool `json:"streaming,omitempty"`
	LoadSession bool `json:"loadSession,omitempty"`
	Prompt      struct {
		Image           bool `json:"image,omitempty"`
		Audio           bool `json:"audio,omitempty"`
		EmbeddedContext bool `json:"embeddedContext,omitempty"`
	} `json:"promptCapabilities,omitempty"`
}

// InitializeParams is the initialize request's params.
type InitializeParams struct {
	ProtocolVersion    string                 `json:"protocolVersion"`
	ClientCapabilities clientCapabilitiesWire `json:"clientCapabilities"`
}

// InitializeResult is the initialize response's result.
type InitializeResult struct {
	ProtocolVersion    string              `json:"protocolVersion"`
	AgentCapabilities  AgentCapabilities   `json:"agentCapabilities"`
	AuthMethods        []string            `json:"authMethods"`
}

// AgentCapabilities is what the server advertises back (spec §4.11).
type AgentCapabilities struct {
	Streaming             bool     `json:"streaming"`
	SupportedPromptKinds  []string `json:"supportedPromptContentKinds"`
	HTTPMcp               bool     `json:"httpMcp"`
	LoadSession           bool     `json:"loadSession"`
}

// McpServerWire is the wire shape of an MCP server descriptor passed on session/new.
type McpServerWire struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
	Type    string   `json:"type,omitempty"`
}

// SessionNewParams is session/new's params.
type SessionNewParams struct {
	Cwd        string          `json:"cwd"`
	McpServers []McpServerWire `json:"mcpServers,omitempty"`
	Meta       map[string]any  `json:"_meta,omitempty"`
}

// SessionNewResult is session/new's result.
type SessionNewResult struct {
	SessionID string `json:"sessionId"`
	CreatedAt string `json:"createdAt"`
}

// SessionLoadParams is session/load's params.
type SessionLoadParams struct {
	SessionID string `json:"sessionId"`
}

// SessionLoadResult is session/load's result.
type SessionLoadResult struct {
	SessionID string `json:"sessionId"`
	CreatedAt string `json:"createdAt"`
	MessageCount int `json:"messageCount"`
}

// SessionSetModeParams is session/set-mode's params.
type SessionSetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// ContentBlockWire is the wire shape of core.ContentBlock.
type ContentBlockWire struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
	Name     string `json:"name,omitempty"`
}

// SessionPromptParams is session/prompt's params.
type SessionPromptParams struct {
	SessionID string             `json:"sessionId"`
	Prompt    []ContentBlockWire `json:"prompt"`
}

// SessionPromptResult is session/prompt's result.
type SessionPromptResult struct {
	StopReason string `json:"stopReason"`
}

// SessionCancelParams is session/cancel's params.
type SessionCancelParams struct {
	SessionID string `json:"sessionId"`
}

// PermissionOption is one option offered in a permission prompt (spec §4.8).
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"` // allow_once | allow_always | reject_once | reject_always
}

// ToolCallUpdate carries the changed fields of a tool-call report (spec §4.8/§6.1).
type ToolCallUpdate struct {
	ID        string   `json:"id"`
	Title     string   `json:"title,omitempty"`
	Status    string   `json:"status,omitempty"`
	Content   []string `json:"content,omitempty"`
	Locations []string `json:"locations,omitempty"`
	RawOutput string   `json:"rawOutput,omitempty"`
}

// RequestPermissionParams is the request_permission method's params (client-bound).
type RequestPermissionParams struct {
	SessionID  string             `json:"sessionId"`
	ToolCallID string             `json:"toolCallId"`
	Title      string             `json:"title"`
	Options    []PermissionOption `json:"options"`
}

// PermissionOutcomeKind enumerates the client's reply shape.
type PermissionOutcomeKind string

const (
	OutcomeSelected  PermissionOutcomeKind = "selected"
	OutcomeCancelled PermissionOutcomeKind = "cancelled"
)

// PermissionOutcome is the client's reply to a permission prompt.
type PermissionOutcome struct {
	Outcome  PermissionOutcomeKind `json:"outcome"`
	OptionID string                `json:"optionId,omitempty"`
}

// RequestPermissionResult wraps PermissionOutcome as request_permission's result.
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// --- session/update notification payloads (spec §6.1) ---

// SessionUpdateKind tags the variant carried by a session/update notification.
type SessionUpdateKind string

const (
	UpdateAgentMessageChunk      SessionUpdateKind = "agent_message_chunk"
	UpdateUserMessageChunk       SessionUpdateKind = "user_message_chunk"
	UpdateToolCall               SessionUpdateKind = "tool_call"
	UpdateToolCallUpdate         SessionUpdateKind = "tool_call_update"
	UpdatePlan                   SessionUpdateKind = "plan"
)

// SessionUpdate is the envelope for a session/update notification.
type SessionUpdate struct {
	SessionID string            `json:"sessionId"`
	Kind      SessionUpdateKind `json:"update"`

	Content *ContentBlockWire `json:"content,omitempty"`

	ToolCall *ToolCallPayload `json:"toolCall,omitempty"`

	ToolCallUpdate *ToolCallUpdate `json:"toolCallUpdate,omitempty"`

	Plan *PlanPayload `json:"plan,omitempty"`

	// ReplayMeta carries position metadata for session/load replay.
	ReplayMeta *ReplayMeta `json:"replayMeta,omitempty"`
}

// ToolCallPayload is the initial ToolCall notification body (spec §6.1).
type ToolCallPayload struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// PlanEntryPayload is one plan entry on the wire (spec §3, §4.10).
type PlanEntryPayload struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// PlanPayload is the full-list Plan notification body (spec §4.10: always resent in full).
type PlanPayload struct {
	Entries []PlanEntryPayload `json:"entries"`
}

// ReplayMeta carries the position metadata spec §4.9's replay stream attaches.
type ReplayMeta struct {
	MessageIndex int    `json:"messageIndex"`
	TotalMessages int   `json:"totalMessages"`
	OriginalRole string `json:"originalRole"`
}

// ExtensionStubResult is the stub reply spec §4.11 describes for any
// unrecognized "extension" method.
type ExtensionStubResult struct {
	Method string `json:"method"`
	Result string `json:"result"`
}
