package opsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpbridge/internal/logger"
	"github.com/kandev/acpbridge/internal/mcpmanager"
	"github.com/kandev/acpbridge/internal/permission"
	"github.com/kandev/acpbridge/internal/protocol/acp"
	"github.com/kandev/acpbridge/internal/security"
	"github.com/kandev/acpbridge/internal/session"
	"github.com/kandev/acpbridge/internal/terminal"
	"github.com/kandev/acpbridge/internal/toolcall"
)

type testAgent struct {
	sessions  *session.Manager
	tools     *toolcall.Engine
	terminals *terminal.Manager
}

func (a *testAgent) Sessions() *session.Manager   { return a.sessions }
func (a *testAgent) Tools() *toolcall.Engine      { return a.tools }
func (a *testAgent) Terminals() *terminal.Manager { return a.terminals }

func newTestAgent(t *testing.T) *testAgent {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	terminals := terminal.New(log)
	mcp := mcpmanager.New(log)
	paths := security.NewPathValidator(nil)
	store := permission.NewStore()
	prompts := permission.NewPromptHandler(func(context.Context, acp.RequestPermissionParams) (acp.PermissionOutcome, error) {
		return acp.PermissionOutcome{}, nil
	})

	sessions := session.New(log, 0, 0)
	tools := toolcall.New(log, paths, terminals, mcp, store, prompts, nil, nil)

	return &testAgent{sessions: sessions, tools: tools, terminals: terminals}
}

func newTestServer(t *testing.T) (*Server, *testAgent) {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	agent := newTestAgent(t)
	return New(agent, log), agent
}

func TestHandleHealthz_ReportsOK(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestHandleListSessions_ReflectsCreatedSessions(t *testing.T) {
	s, agent := newTestServer(t)
	agent.sessions.CreateSession("/tmp/work", nil, false, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "/tmp/work", body.Sessions[0].Cwd)
}

func TestHandleGetSession_UnknownIDReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/sessions/does-not-exist", nil)
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetSession_KnownIDReturnsSummary(t *testing.T) {
	s, agent := newTestServer(t)
	r := agent.sessions.CreateSession("/tmp/x", nil, false, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/sessions/"+r.ID, nil)
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body sessionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, r.ID, body.ID)
}

func TestHandleListToolCalls_EmptyWhenNoneActive(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/toolcalls", nil)
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ToolCalls []toolCallSummary `json:"toolCalls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.ToolCalls)
}

func TestHandleListTerminals_EmptyWhenNoneSpawned(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/terminals", nil)
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Terminals []terminalSummary `json:"terminals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Terminals)
}
