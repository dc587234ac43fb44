// Package orchestrator implements spec §4.11's Agent orchestrator: the
// ACP method set, owning the bounded notification broadcast and wiring
// together every other subsystem for the session/prompt pipeline.
// Grounded on the teacher's internal/agentctl/server.Server (the
// top-level struct that holds one instance of every subsystem manager
// and implements the JSON-RPC method set), generalized from kandev's
// task/step vocabulary to ACP's session/prompt/tool-call vocabulary.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/childproc"
	"github.com/kandev/acpbridge/internal/content"
	"github.com/kandev/acpbridge/internal/core"
	"github.com/kandev/acpbridge/internal/ids"
	"github.com/kandev/acpbridge/internal/logger"
	"github.com/kandev/acpbridge/internal/mcpmanager"
	"github.com/kandev/acpbridge/internal/permission"
	"github.com/kandev/acpbridge/internal/protocol/acp"
	"github.com/kandev/acpbridge/internal/security"
	"github.com/kandev/acpbridge/internal/session"
	"github.com/kandev/acpbridge/internal/streamjson"
	"github.com/kandev/acpbridge/internal/terminal"
	"github.com/kandev/acpbridge/internal/toolcall"
)

const (
	defaultMaxPromptLength = 100_000
	replayMaxRetries       = 5
	replayInitialBackoff   = 100 * time.Millisecond
)

// Transport is the dispatcher-provided side of the connection: outgoing
// notifications and, for client-bound requests like request_permission,
// a correlated request/response round trip.
type Transport interface {
	SendNotification(method string, params any)
	SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Agent implements the ACP method set (spec §4.11).
type Agent struct {
	log       *logger.Logger
	cfg       core.AgentConfig
	transport Transport

	sessions  *session.Manager
	plans     *session.PlanManager
	paths     *security.PathValidator
	secCaps   core.SecurityCaps
	processor *content.Processor
	translator *streamjson.Translator
	children  *childproc.Manager
	mcp       *mcpmanager.Manager
	permStore *permission.Store
	prompts   *permission.PromptHandler
	tools     *toolcall.Engine
	terminals *terminal.Manager

	mu                  sync.RWMutex
	promptCaps          core.PromptCapabilities
	loadSessionDeclared bool
	notifyCh            chan preparedNotification
}

type preparedNotification struct {
	method string
	params any
}

// New wires every subsystem into an Agent (spec §4.11).
func New(cfg core.AgentConfig, log *logger.Logger, transport Transport) *Agent {
	secCaps := core.ResolveSecurityCaps(cfg.Security.Profile)
	paths := security.NewPathValidator(cfg.Security.BoundaryRoots).
		WithForbiddenPaths(cfg.Security.ForbiddenPaths)
	terminals := terminal.New(log)
	children := childproc.New(cfg.AssistantCommand, cfg.AssistantArgs, log)
	mcp := mcpmanager.New(log)
	permStore := permission.NewStore()
	sessions := session.New(log, cfg.SessionMaxAge, cfg.MaxHistoryMessages)
	plans := session.NewPlanManager()

	a := &Agent{
		log:        log,
		cfg:        cfg,
		transport:  transport,
		sessions:   sessions,
		plans:      plans,
		paths:      paths,
		secCaps:    secCaps,
		translator: streamjson.New(),
		children:   children,
		mcp:        mcp,
		permStore:  permStore,
		terminals:  terminals,
		notifyCh:   make(chan preparedNotification, max(1, cfg.NotificationBuffer)),
	}

	a.prompts = permission.NewPromptHandler(a.requestPermission)
	a.tools = toolcall.New(log, paths, terminals, mcp, permStore, a.prompts, a, cfg.Security.RequirePermissionFor)
	a.processor = content.New(secCaps, core.PromptCapabilities{})

	return a
}

// Sessions exposes the session registry for the ops-server debug routes.
func (a *Agent) Sessions() *session.Manager { return a.sessions }

// Tools exposes the tool call engine for the ops-server debug routes.
func (a *Agent) Tools() *toolcall.Engine { return a.tools }

// Terminals exposes the terminal registry for the ops-server debug routes.
func (a *Agent) Terminals() *terminal.Manager { return a.terminals }

// RunNotificationForwarder drains the broadcast channel into the
// transport until ctx is cancelled (spec §5: orchestrator writes,
// dispatcher reads). Send failures are logged, never propagated.
func (a *Agent) RunNotificationForwarder(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-a.notifyCh:
			a.transport.SendNotification(n.method, n.params)
		}
	}
}

func (a *Agent) publish(method string, params any) {
	select {
	case a.notifyCh <- preparedNotification{method: method, params: params}:
	default:
		a.log.Warn("notification dropped: broadcast channel full", zap.String("method", method))
	}
}

// EmitToolCall implements toolcall.Notifier.
func (a *Agent) EmitToolCall(sessionID string, payload acp.ToolCallPayload) {
	a.publish(jsonrpcSessionUpdate, acp.SessionUpdate{
		SessionID: sessionID, Kind: acp.UpdateToolCall, ToolCall: &payload,
	})
}

// EmitToolCallUpdate implements toolcall.Notifier.
func (a *Agent) EmitToolCallUpdate(sessionID string, update acp.ToolCallUpdate) {
	a.publish(jsonrpcSessionUpdate, acp.SessionUpdate{
		SessionID: sessionID, Kind: acp.UpdateToolCallUpdate, ToolCallUpdate: &update,
	})
}

const jsonrpcSessionUpdate = "session/update"

// requestPermission implements permission.PromptFunc over the transport's
// client-bound request/response channel.
func (a *Agent) requestPermission(ctx context.Context, req acp.RequestPermissionParams) (acp.PermissionOutcome, error) {
	raw, err := a.transport.SendRequest(ctx, "request_permission", req)
	if err != nil {
		return acp.PermissionOutcome{}, err
	}
	var result acp.RequestPermissionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return acp.PermissionOutcome{}, core.UpstreamErrorf("malformed request_permission reply: %v", err)
	}
	return result.Outcome, nil
}

// Initialize implements the `initialize` method (spec §4.11).
func (a *Agent) Initialize(_ context.Context, params acp.InitializeParams) (acp.InitializeResult, error) {
	a.mu.Lock()
	a.promptCaps = core.PromptCapabilities{
		Image:           params.ClientCapabilities.Prompt.Image,
		Audio:           params.ClientCapabilities.Prompt.Audio,
		EmbeddedContext: params.ClientCapabilities.Prompt.EmbeddedContext,
	}
	a.loadSessionDeclared = params.ClientCapabilities.LoadSession
	a.mu.Unlock()
	a.processor = content.New(a.secCaps, a.promptCapsSnapshot())

	return acp.InitializeResult{
		ProtocolVersion: params.ProtocolVersion,
		AgentCapabilities: acp.AgentCapabilities{
			Streaming:            true,
			SupportedPromptKinds: []string{"text", "image", "audio", "resource_link", "resource"},
			HTTPMcp:              true,
			LoadSession:          true,
		},
		AuthMethods: []string{},
	}, nil
}

func (a *Agent) promptCapsSnapshot() core.PromptCapabilities {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.promptCaps
}

// Authenticate implements the `authenticate` method: always fails, by
// design (spec §4.11, §1 Non-goals).
func (a *Agent) Authenticate(_ context.Context, _ json.RawMessage) error {
	return core.PolicyErrorf("authenticate is not supported by this agent").
		WithSuggestion("this server declares no auth methods; authenticate calls always fail")
}

// SessionNew implements `session/new` (spec §4.11).
func (a *Agent) SessionNew(_ context.Context, params acp.SessionNewParams) (acp.SessionNewResult, error) {
	var descriptors []core.McpServerDescriptor
	for _, s := range params.McpServers {
		descriptors = append(descriptors, core.McpServerDescriptor{
			Name: s.Name, Command: s.Command, Args: s.Args,
		})
	}

	streaming, _ := params.Meta["streaming"].(bool)
	r := a.sessions.CreateSession(params.Cwd, descriptors, streaming, true)

	go a.mcp.Start(context.Background(), descriptors)

	return acp.SessionNewResult{SessionID: r.ID, CreatedAt: r.CreatedAt.Format(time.RFC3339)}, nil
}

// SessionLoad implements `session/load` (spec §4.9, §4.11).
func (a *Agent) SessionLoad(ctx context.Context, params acp.SessionLoadParams) (acp.SessionLoadResult, error) {
	a.mu.RLock()
	declared := a.loadSessionDeclared
	a.mu.RUnlock()
	if !declared {
		return acp.SessionLoadResult{}, core.PolicyErrorf("client did not declare the loadSession capability")
	}

	r, err := a.sessions.LoadSession(params.SessionID)
	if err != nil {
		return acp.SessionLoadResult{}, err
	}

	if err := a.replay(ctx, r); err != nil {
		return acp.SessionLoadResult{}, err
	}

	return acp.SessionLoadResult{
		SessionID:    r.ID,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
		MessageCount: len(r.Messages),
	}, nil
}

// replay sends one notification per historical message, tolerating up
// to replayMaxRetries transient send failures with exponential backoff
// before declaring the replay itself failed (spec §4.9).
func (a *Agent) replay(_ context.Context, r *session.Record) error {
	for _, entry := range session.BuildReplay(r) {
		kind := acp.UpdateUserMessageChunk
		if entry.Message.Role != session.RoleUser {
			kind = acp.UpdateAgentMessageChunk
		}
		update := acp.SessionUpdate{
			SessionID: r.ID,
			Kind:      kind,
			Content:   &acp.ContentBlockWire{Type: "text", Text: entry.Message.Text},
			ReplayMeta: &acp.ReplayMeta{
				MessageIndex:  entry.MessageIndex,
				TotalMessages: entry.TotalMessages,
				OriginalRole:  string(entry.Message.Role),
			},
		}

		if err := a.sendWithRetry(jsonrpcSessionUpdate, update); err != nil {
			return core.UpstreamErrorf("session replay failed at message %d: %v", entry.MessageIndex, err)
		}
	}
	return nil
}

func (a *Agent) sendWithRetry(method string, params any) error {
	backoff := replayInitialBackoff
	var lastErr error
	for attempt := 0; attempt <= replayMaxRetries; attempt++ {
		select {
		case a.notifyCh <- preparedNotification{method: method, params: params}:
			return nil
		default:
			lastErr = fmt.Errorf("broadcast channel full")
		}
		if attempt == replayMaxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return lastErr
}

// SessionSetMode implements `session/set-mode`: records the requested
// mode ID on the session record and fails for an unknown session
// (spec §4.11).
func (a *Agent) SessionSetMode(_ context.Context, params acp.SessionSetModeParams) error {
	return a.sessions.UpdateSession(params.SessionID, func(r *session.Record) {
		r.ModeID = params.ModeID
	})
}

// SessionCancel implements `session/cancel` (spec §4.11, §5).
func (a *Agent) SessionCancel(_ context.Context, params acp.SessionCancelParams) error {
	if err := a.sessions.SetCancelled(params.SessionID, true); err != nil {
		return err
	}
	a.tools.CancelSession(params.SessionID)
	return nil
}

// ExtensionStub implements spec §4.11's stub reply for unrecognized
// extension methods.
func (a *Agent) ExtensionStub(method string) acp.ExtensionStubResult {
	return acp.ExtensionStubResult{Method: method, Result: "Extension method not implemented"}
}

func contentBlocksFromWire(wire []acp.ContentBlockWire) []core.ContentBlock {
	blocks := make([]core.ContentBlock, len(wire))
	for i, w := range wire {
		blocks[i] = core.ContentBlock{
			Type: core.ContentBlockType(w.Type), Text: w.Text, Data: w.Data,
			MimeType: w.MimeType, URI: w.URI, Name: w.Name,
		}
	}
	return blocks
}

// SessionPrompt implements `session/prompt`'s full pipeline (spec §4.11).
func (a *Agent) SessionPrompt(ctx context.Context, params acp.SessionPromptParams) (acp.SessionPromptResult, error) {
	if err := ids.ParseULID(params.SessionID); err != nil {
		return acp.SessionPromptResult{}, core.ValidationErrorf("session id %q is not a valid ULID", params.SessionID)
	}
	if len(params.Prompt) == 0 {
		return acp.SessionPromptResult{}, core.ValidationErrorf("prompt must not be empty")
	}
	for _, b := range params.Prompt {
		if b.Type != "text" {
			return acp.SessionPromptResult{}, core.ValidationErrorf("session/prompt accepts only text content blocks, got %q", b.Type)
		}
	}
	totalLen := 0
	for _, b := range params.Prompt {
		totalLen += len(b.Text)
	}
	maxLen := a.cfg.MaxPromptLength
	if maxLen <= 0 {
		maxLen = defaultMaxPromptLength
	}
	if totalLen > maxLen {
		return acp.SessionPromptResult{}, core.ValidationErrorf("prompt length %d exceeds maximum of %d", totalLen, maxLen)
	}

	rec, err := a.sessions.GetSession(params.SessionID)
	if err != nil {
		return acp.SessionPromptResult{}, err
	}

	blocks := contentBlocksFromWire(params.Prompt)
	if _, err := a.processor.ProcessMany(blocks, content.BatchStrict); err != nil {
		return acp.SessionPromptResult{}, err
	}

	if plan, ok := a.plans.GetPlan(params.SessionID); !ok || plan == nil {
		a.plans.SetPlan(params.SessionID, session.GenerateFromPrompt(blocks[0].Text))
	}
	if plan, ok := a.plans.GetPlan(params.SessionID); ok {
		a.publish(jsonrpcSessionUpdate, acp.SessionUpdate{
			SessionID: params.SessionID, Kind: acp.UpdatePlan, Plan: planPayload(plan),
		})
	}

	_ = a.sessions.AppendMessage(params.SessionID, session.Message{
		Role: session.RoleUser, Text: blocks[0].Text, Timestamp: time.Now(),
	}, a.cfg.MaxHistoryMessages)

	handle, err := a.children.GetOrSpawn(ctx, rec.ID, rec.Cwd, nil)
	if err != nil {
		return acp.SessionPromptResult{}, err
	}

	line, err := a.translator.EncodeUserText(blocks)
	if err != nil {
		return acp.SessionPromptResult{}, err
	}

	handle.Lock()
	writeErr := handle.WriteLine(line)
	handle.Unlock()
	if writeErr != nil {
		return acp.SessionPromptResult{}, writeErr
	}

	stopReason, assistantText, err := a.streamLoop(ctx, rec.ID, handle, rec.Streaming)
	if err != nil {
		return acp.SessionPromptResult{}, err
	}

	_ = a.sessions.AppendMessage(rec.ID, session.Message{
		Role: session.RoleAssistant, Text: assistantText, Timestamp: time.Now(),
	}, a.cfg.MaxHistoryMessages)

	return acp.SessionPromptResult{StopReason: stopReason}, nil
}

func planPayload(p *session.Plan) *acp.PlanPayload {
	entries := make([]acp.PlanEntryPayload, len(p.Entries))
	for i, e := range p.Entries {
		entries[i] = acp.PlanEntryPayload{
			ID: e.ID, Content: e.Content, Priority: string(e.Priority), Status: string(e.Status),
		}
	}
	return &acp.PlanPayload{Entries: entries}
}

// streamLoop drains child output lines until a result message arrives or
// the session's cancellation flag is observed (spec §4.4/§4.11/§5).
// When the session was created without streaming, per-delta chunks are
// accumulated and delivered as one aggregate chunk at turn end instead.
func (a *Agent) streamLoop(ctx context.Context, sessionID string, handle *childproc.Handle, streaming bool) (string, string, error) {
	var assistantText string
	emitAggregate := func() {
		if streaming || assistantText == "" {
			return
		}
		a.publish(jsonrpcSessionUpdate, acp.SessionUpdate{
			SessionID: sessionID, Kind: acp.UpdateAgentMessageChunk,
			Content: &acp.ContentBlockWire{Type: "text", Text: assistantText},
		})
	}
	for {
		rec, err := a.sessions.GetSession(sessionID)
		if err == nil && rec.CancelFlag {
			_ = a.sessions.SetCancelled(sessionID, false)
			emitAggregate()
			return "cancelled", assistantText, nil
		}

		handle.Lock()
		line, readErr := handle.ReadLine()
		handle.Unlock()
		if readErr != nil {
			return "", assistantText, readErr
		}

		result, err := a.translator.TranslateLine(line)
		if err != nil {
			a.log.Warn("dropping malformed stream-json line", zap.Error(err))
			continue
		}

		if result.Chunk != nil {
			// Tool-use renderings are unique to their line and always
			// surfaced immediately; plain text only streams when the
			// client asked for streaming, otherwise it aggregates.
			if result.ToolUse == nil {
				assistantText += result.Chunk.Text
			}
			if streaming || result.ToolUse != nil {
				a.publish(jsonrpcSessionUpdate, acp.SessionUpdate{
					SessionID: sessionID, Kind: acp.UpdateAgentMessageChunk,
					Content: &acp.ContentBlockWire{Type: "text", Text: result.Chunk.Text},
				})
			}
		}

		if result.ToolUse != nil {
			a.handleToolUse(ctx, sessionID, handle, *result.ToolUse)
		}

		if result.IsResult {
			emitAggregate()
			return result.StopReason, assistantText, nil
		}
	}
}

func (a *Agent) handleToolUse(ctx context.Context, sessionID string, handle *childproc.Handle, event streamjson.ToolUseEvent) {
	var args map[string]any
	_ = json.Unmarshal(event.Input, &args)

	report := a.tools.Execute(ctx, toolcall.InternalToolRequest{
		ID: event.ID, SessionID: sessionID, Name: event.Name, Arguments: args,
	})

	status, _, rawOutput := report.Snapshot()
	resultText := rawOutput
	if status == toolcall.StatusFailed {
		resultText = fmt.Sprintf("error: %s", rawOutput)
	}

	line, err := a.translator.EncodeToolResult(event.ID, resultText)
	if err != nil {
		a.log.Error("failed to encode tool result", zap.Error(err))
		return
	}

	handle.Lock()
	defer handle.Unlock()
	if err := handle.WriteLine(line); err != nil {
		a.log.Error("failed to write tool result to child", zap.Error(err))
	}
}

// Shutdown implements the dispatcher's graceful-shutdown draining logic
// (spec §4.12): terminate every child, close MCP connections, release
// terminals. Session records are simply dropped (no durable persistence,
// spec §1 Non-goals).
func (a *Agent) Shutdown() {
	a.children.Shutdown()
	a.mcp.Shutdown()
	for _, s := range a.terminals.List() {
		_ = a.terminals.Release(s.ID)
	}
	for _, r := range a.sessions.ListSessions() {
		a.sessions.RemoveSession(r.ID)
	}
}
