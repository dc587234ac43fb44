// Package childproc implements spec §4.5's ChildProcessManager: one
// assistant CLI child process per session, piped stdio, line-oriented
// I/O under a per-record mutex. Grounded on the teacher's
// pkg/claudecode.Client (readLoop/bufio.Scanner sizing, ready-channel
// handshake) and internal/agentctl/server/process.Manager (the
// concurrent-map-of-handles shape), adapted from "one control-plane
// connection to a known CLI" to "one exclusive-lease record per
// session" per spec §3/§5.
package childproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/acpbridge/internal/core"
	"github.com/kandev/acpbridge/internal/logger"
)

const (
	scannerInitialBuf = 64 * 1024
	scannerMaxBuf      = 10 * 1024 * 1024
	terminateGrace     = 5 * time.Second
)

// Handle is the ChildProcess record of spec §3: one child, its exclusive
// stdin writer, and a buffered line reader over stdout. Callers must
// hold Lock for the duration of a read-then-write exchange.
type Handle struct {
	SessionID string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   *bufio.Writer
	stdinRC interface{ Close() error }
	scanner *bufio.Scanner
	stderr  []byte

	alive bool
	done  chan struct{} // closed once, by reap(), after cmd.Wait() returns
}

// Lock acquires the handle's exclusive I/O lease.
func (h *Handle) Lock() { h.mu.Lock() }

// Unlock releases the handle's exclusive I/O lease.
func (h *Handle) Unlock() { h.mu.Unlock() }

// WriteLine writes one line (newline-terminated) to the child's stdin.
// Caller must hold Lock.
func (h *Handle) WriteLine(line []byte) error {
	if !h.alive {
		return core.UpstreamErrorf("child process for session %s is not running", h.SessionID)
	}
	if _, err := h.stdin.Write(line); err != nil {
		return core.UpstreamErrorf("write to child stdin: %v", err)
	}
	if err := h.stdin.WriteByte('\n'); err != nil {
		return core.UpstreamErrorf("write to child stdin: %v", err)
	}
	return h.stdin.Flush()
}

// ReadLine reads one line from the child's stdout. Caller must hold Lock.
// Returns io.EOF-shaped core.UpstreamErrorf when the child has exited.
func (h *Handle) ReadLine() ([]byte, error) {
	if !h.scanner.Scan() {
		if err := h.scanner.Err(); err != nil {
			return nil, core.UpstreamErrorf("read from child stdout: %v", err)
		}
		return nil, core.UpstreamErrorf("child process for session %s exited", h.SessionID)
	}
	line := make([]byte, len(h.scanner.Bytes()))
	copy(line, h.scanner.Bytes())
	return line, nil
}

// IsAlive reports whether the handle believes its child is still running.
func (h *Handle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// Manager owns a concurrent map of session ID to Handle.
type Manager struct {
	assistantCommand string
	assistantArgs    []string
	log              *logger.Logger

	mu       sync.RWMutex
	handles  map[string]*Handle
}

// New builds a Manager that spawns the given assistant binary. Per spec
// §4.5/§6.2 the child is always launched with the fixed flag set: print
// mode, stream-json in/out, verbose, skip-permissions, partial messages.
func New(assistantCommand string, extraArgs []string, log *logger.Logger) *Manager {
	return &Manager{
		assistantCommand: assistantCommand,
		assistantArgs:    extraArgs,
		log:              log,
		handles:          make(map[string]*Handle),
	}
}

func (m *Manager) fixedArgs() []string {
	args := []string{
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
		"--include-partial-messages",
	}
	return append(args, m.assistantArgs...)
}

// SpawnForSession is idempotent: if a record exists, it succeeds
// silently; otherwise it launches the child (spec §4.5).
func (m *Manager) SpawnForSession(ctx context.Context, sessionID, workDir string, env []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.handles[sessionID]; exists {
		return nil
	}

	cmd := exec.CommandContext(ctx, m.assistantCommand, m.fixedArgs()...)
	cmd.Dir = workDir
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return core.UpstreamErrorf("failed to attach stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return core.UpstreamErrorf("failed to attach stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return core.UpstreamErrorf("failed to attach stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return core.UpstreamErrorf("assistant CLI binary %q was not found on PATH", m.assistantCommand).
				WithSuggestion(fmt.Sprintf("install %q or set the assistant command to its full path", m.assistantCommand))
		}
		return core.UpstreamErrorf("failed to spawn assistant CLI: %v", err)
	}

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, scannerInitialBuf)
	scanner.Buffer(buf, scannerMaxBuf)

	h := &Handle{
		SessionID: sessionID,
		cmd:       cmd,
		stdin:     bufio.NewWriter(stdin),
		stdinRC:   stdin,
		scanner:   scanner,
		alive:     true,
		done:      make(chan struct{}),
	}
	m.handles[sessionID] = h

	go m.drainStderr(sessionID, stderr)
	go m.reap(sessionID, h)

	return nil
}

func (m *Manager) drainStderr(sessionID string, r interface{ Read([]byte) (int, error) }) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.log.Debug("assistant stderr", zap.String("sessionId", sessionID), zap.ByteString("data", buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// reap is the sole caller of h.cmd.Wait(): os/exec requires Wait be
// called at most once per process, so Terminate waits on h.done instead
// of calling Wait itself.
func (m *Manager) reap(sessionID string, h *Handle) {
	_ = h.cmd.Wait()
	h.mu.Lock()
	h.alive = false
	h.mu.Unlock()
	close(h.done)
}

// GetOrSpawn returns the handle for sessionID, spawning lazily.
func (m *Manager) GetOrSpawn(ctx context.Context, sessionID, workDir string, env []string) (*Handle, error) {
	m.mu.RLock()
	h, ok := m.handles[sessionID]
	m.mu.RUnlock()
	if ok {
		return h, nil
	}
	if err := m.SpawnForSession(ctx, sessionID, workDir, env); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handles[sessionID], nil
}

// HasSession reports whether a record exists for sessionID.
func (m *Manager) HasSession(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handles[sessionID]
	return ok
}

// Terminate removes sessionID's record, drops stdin to signal EOF, polls
// for exit up to 5s, then force-kills (spec §4.5).
func (m *Manager) Terminate(sessionID string) error {
	m.mu.Lock()
	h, ok := m.handles[sessionID]
	if ok {
		delete(m.handles, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	h.mu.Lock()
	_ = h.stdinRC.Close()
	h.mu.Unlock()

	select {
	case <-h.done:
	case <-time.After(terminateGrace):
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		<-h.done
	}
	return nil
}

// Shutdown terminates every tracked child concurrently; used during
// dispatcher drain, where N sessions may each have a live child.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_ = m.Terminate(id)
			return nil
		})
	}
	_ = g.Wait()
}
