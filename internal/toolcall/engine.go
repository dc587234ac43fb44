// Package toolcall implements spec §4.8's ToolCallEngine: permission
// evaluation, risk classification, built-in/external tool routing, and
// the report lifecycle with its notification stream. Grounded on the
// teacher's internal/agentctl/server/adapter/transport/streamjson
// permission-option builder (three-option allow/allow-always/reject
// shape) and internal/agentctl/server/process's pendingPermissions
// blocking-prompt pattern, extended to the spec's four-option
// allow/reject-once/-always matrix and its own risk taxonomy.
package toolcall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kandev/acpbridge/internal/core"
	"github.com/kandev/acpbridge/internal/ids"
	"github.com/kandev/acpbridge/internal/logger"
	"github.com/kandev/acpbridge/internal/mcpmanager"
	"github.com/kandev/acpbridge/internal/permission"
	"github.com/kandev/acpbridge/internal/protocol/acp"
	"github.com/kandev/acpbridge/internal/security"
	"github.com/kandev/acpbridge/internal/terminal"
)

// RiskLevel is spec §4.8's risk classification.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// Status is a tool-call report's lifecycle state (spec §4.8).
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// InternalToolRequest is the engine's input (spec §4.8).
type InternalToolRequest struct {
	ID        string
	SessionID string
	Name      string
	Arguments map[string]any
}

// Report is one tool call's mutable lifecycle record.
type Report struct {
	mu        sync.Mutex
	ID        string
	SessionID string
	Name      string
	Title     string
	Status    Status
	Content   []string
	Locations []string
	RawOutput string
}

// Snapshot returns a thread-safe copy of the report's current state,
// for tests and ops-server debug endpoints.
func (r *Report) Snapshot() (Status, []string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status, append([]string(nil), r.Content...), r.RawOutput
}

// Notifier publishes the session/update notifications the engine emits.
// Implemented by the orchestrator; send failures are logged there and
// must never abort the underlying tool operation (spec §4.8).
type Notifier interface {
	EmitToolCall(sessionID string, payload acp.ToolCallPayload)
	EmitToolCallUpdate(sessionID string, update acp.ToolCallUpdate)
}

var autoApproved = map[string]bool{
	"fs_read": true,
	"fs_list": true,
}

var builtinRequiresPermission = map[string]bool{
	"fs_write":        true,
	"terminal_create": true,
	"terminal_write":  true,
}

// Engine implements spec §4.8.
type Engine struct {
	log        *logger.Logger
	paths      *security.PathValidator
	terminals  *terminal.Manager
	mcp        *mcpmanager.Manager
	store      *permission.Store
	prompts    *permission.PromptHandler
	notifier   Notifier
	extraPerm  map[string]bool // additional names requiring permission, from config

	mu     sync.Mutex
	active map[string]*Report
}

// New builds a ToolCallEngine.
func New(
	log *logger.Logger,
	paths *security.PathValidator,
	terminals *terminal.Manager,
	mcp *mcpmanager.Manager,
	store *permission.Store,
	prompts *permission.PromptHandler,
	notifier Notifier,
	requirePermissionFor []string,
) *Engine {
	extra := make(map[string]bool, len(requirePermissionFor))
	for _, n := range requirePermissionFor {
		extra[n] = true
	}
	return &Engine{
		log:       log,
		paths:     paths,
		terminals: terminals,
		mcp:       mcp,
		store:     store,
		prompts:   prompts,
		notifier:  notifier,
		extraPerm: extra,
		active:    make(map[string]*Report),
	}
}

// classifyRisk implements spec §4.8's risk table.
func classifyRisk(name string, args map[string]any) RiskLevel {
	switch name {
	case "fs_read", "fs_list":
		return RiskSafe
	case "fs_write":
		path, _ := args["path"].(string)
		lower := strings.ToLower(path)
		for _, sys := range []string{"/etc", "/usr", "/bin", "/sys", "/proc"} {
			if strings.HasPrefix(lower, sys) {
				return RiskHigh
			}
		}
		return RiskModerate
	case "terminal_create", "terminal_write":
		return RiskHigh
	default:
		return RiskModerate
	}
}

func buildOptions(risk RiskLevel) []acp.PermissionOption {
	allowAlwaysName := "Allow Always"
	if risk == RiskModerate || risk == RiskHigh {
		allowAlwaysName = "Allow Always (caution: applies to all future calls of this tool)"
	}
	return []acp.PermissionOption{
		{OptionID: "allow-once", Name: "Allow Once", Kind: "allow_once"},
		{OptionID: "allow-always", Name: allowAlwaysName, Kind: "allow_always"},
		{OptionID: "reject-once", Name: "Reject Once", Kind: "reject_once"},
		{OptionID: "reject-always", Name: "Reject Always", Kind: "reject_always"},
	}
}

func (e *Engine) requiresPermission(name string) bool {
	if builtinRequiresPermission[name] {
		return true
	}
	if e.extraPerm[name] {
		return true
	}
	if _, _, ok := mcpmanager.ParseToolName(name); ok {
		return true
	}
	return false
}

func kindFor(name string) string {
	switch name {
	case "fs_read", "fs_list":
		return "read"
	case "fs_write":
		return "edit"
	case "terminal_create", "terminal_write":
		return "execute"
	default:
		return "other"
	}
}

func titleFor(name string, args map[string]any) string {
	switch name {
	case "fs_read", "fs_write", "fs_list":
		if p, ok := args["path"].(string); ok {
			return fmt.Sprintf("%s %s", name, p)
		}
	case "terminal_write":
		if cmd, ok := args["command"].(string); ok {
			return fmt.Sprintf("terminal: %s", cmd)
		}
	}
	return name
}

// ListReports returns the reports of tool calls still pending or in
// progress, for the ops-server debug endpoint. Completed, failed and
// cancelled reports are removed and not listed.
func (e *Engine) ListReports() []*Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Report, 0, len(e.active))
	for _, r := range e.active {
		out = append(out, r)
	}
	return out
}

// Execute runs req to completion, emitting the full notification stream
// as it goes (spec §4.8). It blocks for the duration of any permission
// prompt and of the underlying tool operation.
func (e *Engine) Execute(ctx context.Context, req InternalToolRequest) *Report {
	report := &Report{
		ID:        req.ID,
		SessionID: req.SessionID,
		Name:      req.Name,
		Title:     titleFor(req.Name, req.Arguments),
		Status:    StatusPending,
	}
	e.mu.Lock()
	e.active[report.ID] = report
	e.mu.Unlock()

	e.notifier.EmitToolCall(req.SessionID, acp.ToolCallPayload{
		ID: report.ID, Title: report.Title, Kind: kindFor(req.Name), Status: string(StatusPending),
	})

	allowed, err := e.evaluatePermission(ctx, req)
	if err != nil {
		e.fail(report, err.Error())
		return report
	}
	if !allowed {
		e.fail(report, "permission denied")
		return report
	}

	e.setInProgress(report)

	output, locations, err := e.dispatch(ctx, req)
	if err != nil {
		e.fail(report, err.Error())
		return report
	}

	e.complete(report, output, locations)
	return report
}

// evaluatePermission implements spec §4.8's decision tree.
func (e *Engine) evaluatePermission(ctx context.Context, req InternalToolRequest) (bool, error) {
	if autoApproved[req.Name] {
		return true, nil
	}

	key := req.Name

	if decision, ok := e.store.Lookup(key); ok {
		switch decision {
		case permission.DecisionAllowAlways:
			return true, nil
		case permission.DecisionRejectAlways:
			return false, nil
		}
	}

	if !e.requiresPermission(req.Name) {
		return true, nil
	}

	risk := classifyRisk(req.Name, req.Arguments)
	options := buildOptions(risk)

	outcome, err := e.prompts.Ask(ctx, acp.RequestPermissionParams{
		SessionID:  req.SessionID,
		ToolCallID: req.ID,
		Title:      fmt.Sprintf("Allow %s?", req.Name),
		Options:    options,
	})
	if err != nil {
		return false, err
	}

	if outcome.PersistAlways != "" {
		e.store.Persist(key, outcome.PersistAlways)
	}
	return outcome.Proceed, nil
}

func (e *Engine) setInProgress(report *Report) {
	report.mu.Lock()
	report.Status = StatusInProgress
	report.mu.Unlock()
	e.notifier.EmitToolCallUpdate(report.SessionID, acp.ToolCallUpdate{ID: report.ID, Status: string(StatusInProgress)})
}

func (e *Engine) complete(report *Report, output string, locations []string) {
	report.mu.Lock()
	report.Status = StatusCompleted
	report.Content = append(report.Content, output)
	report.Locations = append(report.Locations, locations...)
	report.RawOutput = output
	report.mu.Unlock()

	e.notifier.EmitToolCallUpdate(report.SessionID, acp.ToolCallUpdate{
		ID: report.ID, Status: string(StatusCompleted), Content: []string{output}, Locations: locations, RawOutput: output,
	})
	e.mu.Lock()
	delete(e.active, report.ID)
	e.mu.Unlock()
}

func (e *Engine) fail(report *Report, reason string) {
	report.mu.Lock()
	report.Status = StatusFailed
	report.RawOutput = reason
	report.mu.Unlock()

	e.notifier.EmitToolCallUpdate(report.SessionID, acp.ToolCallUpdate{
		ID: report.ID, Status: string(StatusFailed), RawOutput: reason,
	})
	e.mu.Lock()
	delete(e.active, report.ID)
	e.mu.Unlock()
}

// CancelSession transitions every in-progress/pending report owned by
// sessionID to Cancelled (spec §4.8, driven from session/cancel).
func (e *Engine) CancelSession(sessionID string) {
	e.mu.Lock()
	var toCancel []*Report
	for _, r := range e.active {
		if r.SessionID == sessionID {
			toCancel = append(toCancel, r)
		}
	}
	e.mu.Unlock()

	for _, r := range toCancel {
		r.mu.Lock()
		if r.Status != StatusPending && r.Status != StatusInProgress {
			r.mu.Unlock()
			continue
		}
		r.Status = StatusCancelled
		r.mu.Unlock()

		e.notifier.EmitToolCallUpdate(sessionID, acp.ToolCallUpdate{ID: r.ID, Status: string(StatusCancelled)})
		e.mu.Lock()
		delete(e.active, r.ID)
		e.mu.Unlock()
	}
}

// dispatch routes to a built-in handler or the MCP manager (spec §4.8).
// Built-in filesystem tools also report the file locations they touched.
func (e *Engine) dispatch(ctx context.Context, req InternalToolRequest) (string, []string, error) {
	if server, tool, ok := mcpmanager.ParseToolName(req.Name); ok {
		out, err := e.mcp.CallTool(ctx, server, tool, req.Arguments)
		return out, nil, err
	}

	switch req.Name {
	case "fs_read":
		return e.fsRead(req.Arguments)
	case "fs_write":
		return e.fsWrite(req.Arguments)
	case "fs_list":
		return e.fsList(req.Arguments)
	case "terminal_create":
		out, err := e.terminalCreate(req)
		return out, nil, err
	case "terminal_write":
		out, err := e.terminalWrite(ctx, req.Arguments)
		return out, nil, err
	default:
		return "", nil, core.ValidationErrorf("unknown tool %q", req.Name)
	}
}

func (e *Engine) fsRead(args map[string]any) (string, []string, error) {
	path, _ := args["path"].(string)
	canonical, err := e.paths.ValidateAbsolutePath(path)
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(canonical)
	if err != nil {
		return "", nil, core.ResourceErrorf("failed to read %q: %v", canonical, err)
	}
	return string(data), []string{canonical}, nil
}

func (e *Engine) fsWrite(args map[string]any) (string, []string, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	canonical, err := e.paths.ValidateAbsolutePath(path)
	if err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return "", nil, core.ResourceErrorf("failed to create parent directories for %q: %v", canonical, err)
	}
	if err := os.WriteFile(canonical, []byte(content), 0o644); err != nil {
		return "", nil, core.ResourceErrorf("failed to write %q: %v", canonical, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), canonical), []string{canonical}, nil
}

func (e *Engine) fsList(args map[string]any) (string, []string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		path = "."
	}
	canonical, err := e.paths.ValidateAbsolutePath(path)
	if err != nil {
		return "", nil, err
	}
	entries, err := os.ReadDir(canonical)
	if err != nil {
		return "", nil, core.ResourceErrorf("failed to list %q: %v", canonical, err)
	}
	var b strings.Builder
	for _, entry := range entries {
		info, err := entry.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		kind := "file"
		if entry.IsDir() {
			kind = "dir"
		}
		fmt.Fprintf(&b, "%s\t%s\t%d\n", kind, entry.Name(), size)
	}
	return b.String(), []string{canonical}, nil
}

func (e *Engine) terminalCreate(req InternalToolRequest) (string, error) {
	workDir, _ := req.Arguments["working_dir"].(string)
	sessionWorkDir, _ := req.Arguments["session_work_dir"].(string)
	s, err := e.terminals.Create(sessionWorkDir, workDir, nil)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

func (e *Engine) terminalWrite(ctx context.Context, args map[string]any) (string, error) {
	terminalID, _ := args["terminal_id"].(string)
	command, _ := args["command"].(string)
	if err := terminal.ValidateCommand(command); err != nil {
		return "", err
	}
	s, err := e.terminals.Get(terminalID)
	if err != nil {
		return "", err
	}
	if err := s.Write(ctx, command); err != nil {
		return "", err
	}
	return fmt.Sprintf("started %q in terminal %s", command, terminalID), nil
}

// NewToolCallID mints a fresh tool-call identifier; exposed so callers
// that build InternalToolRequest outside this package (e.g. the
// orchestrator translating a stream-json tool_use event) share the ID
// scheme.
func NewToolCallID() string { return ids.NewUUID() }
