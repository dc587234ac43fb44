// Package terminal implements spec §4.7's TerminalManager: PTY-backed
// command execution with a bounded, UTF-8-boundary-safe output buffer.
// Grounded on the teacher's internal/agentctl/server/shell.Session
// (PTY startup via creack/pty, platform shell detection, subscriber
// fan-out, the 5s-then-kill stop sequence) but the ring-buffer
// truncation is NOT copied verbatim: the teacher trims at a raw byte
// offset, which can split a multi-byte UTF-8 codepoint; spec §4.7/§8
// requires the drain point to land on a character boundary, so the
// boundary-seeking algorithm is adapted from the original Rust
// implementation's find_utf8_boundary (original_source/lib/src/terminal_manager.rs).
package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/core"
	"github.com/kandev/acpbridge/internal/ids"
	"github.com/kandev/acpbridge/internal/logger"
)

// State is a terminal session's lifecycle state (spec §3).
type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateReleased State = "released"
)

const (
	defaultOutputByteLimit = 1 << 20 // 1 MiB, spec §3
	commandMaxLength       = 1000
	killGrace              = 5 * time.Second
)

var destructivePatterns = []string{
	"rm -rf /", "shutdown", "reboot", "halt", "poweroff", "init 0", "init 6",
	"mkfs", "dd if=", "kill -9 1",
}

// ExitStatus is populated when a terminal's command completes.
type ExitStatus struct {
	ExitCode int
	Signal   string
}

// Session is one terminal session record (spec §3).
type Session struct {
	ID      string
	WorkDir string
	Env     []string

	mu         sync.Mutex
	state      State
	buffer     []byte
	truncated  bool
	limit      int
	exitStatus *ExitStatus

	cmd          *exec.Cmd
	ptyFile      *os.File
	cmdDone      chan struct{} // closed by the wait goroutine after cmd.Wait() returns
	subscribers  map[chan<- []byte]struct{}
	subMu        sync.RWMutex
}

// Manager owns the terminal registry under a reader/writer lock (spec §5).
type Manager struct {
	log *logger.Logger

	mu        sync.RWMutex
	terminals map[string]*Session
}

// New builds an empty terminal Manager.
func New(log *logger.Logger) *Manager {
	return &Manager{log: log, terminals: make(map[string]*Session)}
}

// Create implements terminal/create (spec §4.7).
func (m *Manager) Create(sessionWorkDir, requestedWorkDir string, envOverrides map[string]string) (*Session, error) {
	workDir := sessionWorkDir
	if requestedWorkDir != "" {
		if !isAbsolute(requestedWorkDir) {
			return nil, core.ValidationErrorf("terminal working directory %q must be absolute", requestedWorkDir)
		}
		workDir = requestedWorkDir
	}

	env := os.Environ()
	for k, v := range envOverrides {
		if k == "" {
			return nil, core.ValidationErrorf("environment override has an empty name")
		}
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	s := &Session{
		ID:          ids.NewTerminalID(),
		WorkDir:     workDir,
		Env:         env,
		state:       StateCreated,
		limit:       defaultOutputByteLimit,
		subscribers: make(map[chan<- []byte]struct{}),
	}

	m.mu.Lock()
	m.terminals[s.ID] = s
	m.mu.Unlock()

	m.log.Info("terminal created", zap.String("terminalId", s.ID), zap.String("workDir", workDir))
	return s, nil
}

func isAbsolute(p string) bool {
	if runtime.GOOS == "windows" {
		return len(p) >= 2 && p[1] == ':' || strings.HasPrefix(p, `\\`)
	}
	return strings.HasPrefix(p, "/")
}

// Get returns the session for id, or a ResourceError if unknown.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.terminals[id]
	if !ok {
		return nil, core.ResourceErrorf("terminal %q not found", id)
	}
	return s, nil
}

// List returns every tracked terminal session, for the ops-server debug endpoint.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.terminals))
	for _, s := range m.terminals {
		out = append(out, s)
	}
	return out
}

// ValidateCommand implements spec §4.7's command-string safety check.
func ValidateCommand(command string) error {
	if command == "" {
		return core.ValidationErrorf("command must not be empty")
	}
	if len(command) > commandMaxLength {
		return core.ValidationErrorf("command exceeds maximum length of %d characters", commandMaxLength)
	}
	if strings.ContainsRune(command, '\x00') {
		return core.ValidationErrorf("command contains a NUL byte")
	}
	lower := strings.ToLower(command)
	for _, pattern := range destructivePatterns {
		if strings.Contains(lower, pattern) {
			return core.PolicyErrorf("command matches a destructive pattern %q and was rejected", pattern)
		}
	}
	return nil
}

// Write runs command in the session, transitioning Created/Finished ->
// Running -> Finished (spec §4.7). `cd <path>` is intercepted in place.
func (s *Session) Write(ctx context.Context, command string) error {
	if err := ValidateCommand(command); err != nil {
		return err
	}

	if target, ok := parseCd(command); ok {
		s.mu.Lock()
		if target != "" && isAbsolute(target) {
			s.WorkDir = target
		} else if target != "" {
			s.WorkDir = s.WorkDir + string(os.PathSeparator) + target
		}
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	if s.state == StateReleased {
		s.mu.Unlock()
		return core.ResourceErrorf("terminal %q has been released", s.ID)
	}
	s.state = StateRunning
	cmd := exec.CommandContext(ctx, shellFor(), shellArgsFor(command)...)
	cmd.Dir = s.WorkDir
	cmd.Env = s.Env
	s.cmd = cmd
	s.cmdDone = make(chan struct{})
	s.mu.Unlock()

	ptyFile, err := pty.Start(cmd)
	if err != nil {
		return core.UpstreamErrorf("failed to start terminal command: %v", err)
	}

	s.mu.Lock()
	s.ptyFile = ptyFile
	s.mu.Unlock()

	go s.readOutput(ptyFile)

	// The sole caller of cmd.Wait for this command: Release waits on
	// cmdDone instead of calling Wait a second time.
	go func() {
		waitErr := cmd.Wait()
		status := ExitStatus{}
		if waitErr != nil {
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				status.ExitCode = exitErr.ExitCode()
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
					status.Signal = ws.Signal().String()
				}
			} else {
				status.ExitCode = -1
			}
		}
		s.mu.Lock()
		s.exitStatus = &status
		if s.state == StateRunning {
			s.state = StateFinished
		}
		done := s.cmdDone
		s.mu.Unlock()
		close(done)
	}()

	return nil
}

func parseCd(command string) (target string, ok bool) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "cd" {
		return "", true
	}
	if strings.HasPrefix(trimmed, "cd ") {
		return strings.TrimSpace(trimmed[3:]), true
	}
	return "", false
}

func shellFor() string {
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

func shellArgsFor(command string) []string {
	if runtime.GOOS == "windows" {
		return []string{"/C", command}
	}
	return []string{"-c", command}
}

func (s *Session) readOutput(f *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.appendOutput(data)
			s.broadcast(data)
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) broadcast(data []byte) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- data:
		default:
		}
	}
}

// Subscribe registers ch to receive future output chunks (used by the
// ops-server debug websocket tail).
func (s *Session) Subscribe(ch chan<- []byte) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers[ch] = struct{}{}
}

// Unsubscribe removes ch.
func (s *Session) Unsubscribe(ch chan<- []byte) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subscribers, ch)
}

// appendOutput implements spec §4.7's buffer discipline: unlimited
// appends until the cap is exceeded, then drain the head down to the
// cap, advancing the drain point to the next UTF-8 character boundary
// so the tail is never split mid-codepoint (spec §3, §8 invariant 3).
func (s *Session) appendOutput(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, data...)
	if len(s.buffer) <= s.limit {
		return
	}

	excess := len(s.buffer) - s.limit
	drainPoint := findUTF8Boundary(s.buffer, excess)
	s.buffer = s.buffer[drainPoint:]
	s.truncated = true
}

// findUTF8Boundary returns the smallest index >= minPos that does not
// fall on a UTF-8 continuation byte (0b10xxxxxx), so draining the
// buffer up to that index never splits a multi-byte codepoint.
func findUTF8Boundary(data []byte, minPos int) int {
	pos := minPos
	for pos < len(data) {
		if data[pos]&0b1100_0000 != 0b1000_0000 {
			return pos
		}
		pos++
	}
	return len(data)
}

// Output implements terminal/output (spec §4.7).
func (s *Session) Output() (data []byte, truncated bool, exit *ExitStatus, state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReleased {
		return nil, false, nil, s.state, core.ResourceErrorf("terminal %q has been released", s.ID)
	}
	// An incomplete trailing codepoint (the writer has flushed only part
	// of a multi-byte sequence so far) is held back, not exposed.
	complete := trimIncompleteTail(s.buffer)
	out := make([]byte, len(complete))
	copy(out, complete)
	return out, s.truncated, s.exitStatus, s.state, nil
}

// trimIncompleteTail returns data up to the last complete UTF-8
// codepoint. Only the final sequence can be incomplete, since
// appendOutput drains the head on character boundaries.
func trimIncompleteTail(data []byte) []byte {
	end := len(data)
	for back := 1; back <= 4 && end-back >= 0; back++ {
		b := data[end-back]
		if b&0b1100_0000 == 0b1000_0000 {
			continue // continuation byte, keep scanning backwards
		}
		if b < 0x80 {
			return data[:end] // ASCII tail, nothing to trim
		}
		r, size := utf8.DecodeRune(data[end-back:])
		if r == utf8.RuneError && size == 1 {
			return data[:end-back]
		}
		return data[:end]
	}
	return data[:end]
}

// Release kills any live child, clears the buffer, and marks the
// session Released (spec §4.7). Returns a null result to the caller.
func (m *Manager) Release(id string) error {
	m.mu.Lock()
	s, ok := m.terminals[id]
	if ok {
		delete(m.terminals, id)
	}
	m.mu.Unlock()
	if !ok {
		return core.ResourceErrorf("terminal %q not found", id)
	}

	s.mu.Lock()
	cmd := s.cmd
	ptyFile := s.ptyFile
	done := s.cmdDone
	s.buffer = nil
	s.truncated = false
	s.state = StateReleased
	s.mu.Unlock()

	if ptyFile != nil {
		_ = ptyFile.Close()
	}
	if cmd != nil && cmd.Process != nil && done != nil {
		select {
		case <-done:
		case <-time.After(killGrace):
			_ = cmd.Process.Kill()
			<-done
		}
	}
	m.log.Info("terminal released", zap.String("terminalId", id))
	return nil
}

// Status returns the session's current state, for logging/ops endpoints.
func (s *Session) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
