// Package opsserver is a supplementary HTTP surface for operating the
// bridge out-of-band from the ACP stdio connection: health, and debug
// introspection into sessions, tool calls, and terminals. It is never
// part of the ACP wire protocol itself. Grounded on the teacher's
// internal/agentctl/server/api.Server (gin.Engine + gorilla/websocket
// upgrader, route grouping, the git-status-stream websocket loop
// adapted here for live terminal output).
package opsserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/logger"
	"github.com/kandev/acpbridge/internal/session"
	"github.com/kandev/acpbridge/internal/terminal"
	"github.com/kandev/acpbridge/internal/toolcall"
)

// Agent is the subset of orchestrator.Agent the ops server introspects.
type Agent interface {
	Sessions() *session.Manager
	Tools() *toolcall.Engine
	Terminals() *terminal.Manager
}

// Server is the ops HTTP server for one bridge instance.
type Server struct {
	log    *logger.Logger
	agent  Agent
	router *gin.Engine

	upgrader websocket.Upgrader
}

// New builds an ops Server. Routes are registered immediately; callers
// run it via ListenAndServe on the returned Router().
func New(agent Agent, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		log:    log.WithFields(zap.String("component", "ops-server")),
		agent:  agent,
		router: gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// Router returns the underlying HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealthz)

	debug := s.router.Group("/debug")
	{
		debug.GET("/sessions", s.handleListSessions)
		debug.GET("/sessions/:id", s.handleGetSession)
		debug.GET("/toolcalls", s.handleListToolCalls)
		debug.GET("/terminals", s.handleListTerminals)
		debug.GET("/terminals/:id/stream", s.handleTerminalStreamWS)
	}
}

type healthzResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, healthzResponse{Status: "ok", Time: time.Now().UTC().Format(time.RFC3339)})
}

type sessionSummary struct {
	ID           string `json:"id"`
	Cwd          string `json:"cwd"`
	MessageCount int    `json:"messageCount"`
	CreatedAt    string `json:"createdAt"`
	LastAccessed string `json:"lastAccessed"`
}

func summarize(r *session.Record) sessionSummary {
	return sessionSummary{
		ID:           r.ID,
		Cwd:          r.Cwd,
		MessageCount: len(r.Messages),
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339),
		LastAccessed: r.LastAccessed.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleListSessions(c *gin.Context) {
	records := s.agent.Sessions().ListSessions()
	out := make([]sessionSummary, 0, len(records))
	for _, r := range records {
		out = append(out, summarize(r))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleGetSession(c *gin.Context) {
	r, err := s.agent.Sessions().GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summarize(r))
}

type toolCallSummary struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

func (s *Server) handleListToolCalls(c *gin.Context) {
	reports := s.agent.Tools().ListReports()
	out := make([]toolCallSummary, 0, len(reports))
	for _, r := range reports {
		status, _, _ := r.Snapshot()
		out = append(out, toolCallSummary{ID: r.ID, SessionID: r.SessionID, Name: r.Name, Status: string(status)})
	}
	c.JSON(http.StatusOK, gin.H{"toolCalls": out})
}

type terminalSummary struct {
	ID      string `json:"id"`
	WorkDir string `json:"workDir"`
	Status  string `json:"status"`
}

func (s *Server) handleListTerminals(c *gin.Context) {
	sessions := s.agent.Terminals().List()
	out := make([]terminalSummary, 0, len(sessions))
	for _, t := range sessions {
		out = append(out, terminalSummary{ID: t.ID, WorkDir: t.WorkDir, Status: string(t.Status())})
	}
	c.JSON(http.StatusOK, gin.H{"terminals": out})
}

// handleTerminalStreamWS live-tails a terminal's output over a
// websocket, for editors/tools that want to watch long-running
// commands without polling /debug/terminals.
func (s *Server) handleTerminalStreamWS(c *gin.Context) {
	term, err := s.agent.Terminals().Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("terminal stream upgrade failed", zap.Error(err))
		return
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			s.log.Debug("failed to close terminal stream websocket", zap.Error(cerr))
		}
	}()

	if buf, _, _, _, err := term.Output(); err == nil && len(buf) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
			return
		}
	}

	ch := make(chan []byte, 64)
	term.Subscribe(ch)
	defer term.Unsubscribe(ch)

	closeCh := make(chan struct{})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(closeCh)
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-closeCh:
			return
		}
	}
}
