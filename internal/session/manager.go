// Package session implements spec §4.9's SessionManager: a thread-safe
// session registry guarded by a single reader/writer lock, periodic
// expiry sweep, and the strict session/load validation chain. Grounded
// on the teacher's internal/agentctl/server/process.Manager (the
// sync.RWMutex-guarded map-of-records shape and its periodic-sweep
// goroutine), generalized from process handles to conversation history
// records.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/kandev/acpbridge/internal/core"
	"github.com/kandev/acpbridge/internal/ids"
	"github.com/kandev/acpbridge/internal/logger"
	"go.uber.org/zap"
)

// Role is a historical message's originating role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a session's history.
type Message struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// Record is one session's state (spec §3).
type Record struct {
	ID           string
	Cwd          string
	McpServers   []core.McpServerDescriptor
	Streaming    bool
	LoadSession  bool
	CreatedAt    time.Time
	LastAccessed time.Time
	Messages     []Message
	ModeID       string
	CancelFlag   bool
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Messages = append([]Message(nil), r.Messages...)
	cp.McpServers = append([]core.McpServerDescriptor(nil), r.McpServers...)
	return &cp
}

// Manager owns the session registry (spec §4.9).
type Manager struct {
	log        *logger.Logger
	maxAge     time.Duration
	maxHistory int

	mu       sync.RWMutex
	sessions map[string]*Record
}

// New builds a Manager. maxAge and maxHistory implement spec §9's
// resolved Open Questions (default 1h / 10000 messages).
func New(log *logger.Logger, maxAge time.Duration, maxHistory int) *Manager {
	return &Manager{
		log:        log,
		maxAge:     maxAge,
		maxHistory: maxHistory,
		sessions:   make(map[string]*Record),
	}
}

// CreateSession allocates a new record and inserts it (spec §4.9).
func (m *Manager) CreateSession(cwd string, mcpServers []core.McpServerDescriptor, streaming, loadSession bool) *Record {
	now := time.Now()
	r := &Record{
		ID:           ids.NewSessionID(),
		Cwd:          cwd,
		McpServers:   mcpServers,
		Streaming:    streaming,
		LoadSession:  loadSession,
		CreatedAt:    now,
		LastAccessed: now,
	}
	m.mu.Lock()
	m.sessions[r.ID] = r
	m.mu.Unlock()
	return r
}

// GetSession returns a clone of the record for id.
func (m *Manager) GetSession(id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sessions[id]
	if !ok {
		return nil, core.ResourceErrorf("session %q not found", id)
	}
	return r.clone(), nil
}

// UpdateSession invokes f under the write lock and refreshes LastAccessed (spec §4.9).
func (m *Manager) UpdateSession(id string, f func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[id]
	if !ok {
		return core.ResourceErrorf("session %q not found", id)
	}
	f(r)
	r.LastAccessed = time.Now()
	return nil
}

// RemoveSession deletes id's record, if present.
func (m *Manager) RemoveSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// ListSessions returns clones of every tracked record.
func (m *Manager) ListSessions() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.sessions))
	for _, r := range m.sessions {
		out = append(out, r.clone())
	}
	return out
}

// sampleIDs returns up to n session IDs, for the session/load
// not-found error's bounded sample (spec §4.9).
func (m *Manager) sampleIDs(n int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, n)
	for id := range m.sessions {
		if len(out) >= n {
			break
		}
		out = append(out, id)
	}
	return out
}

// RunCleanup sweeps expired sessions on the given interval until ctx is
// cancelled (spec §4.9). Intended to run as a background goroutine.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.sessions {
		if r.LastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			m.log.Info("session expired", zap.String("sessionId", id))
		}
	}
}

// LoadSession implements spec §4.9's session/load validation chain,
// steps (b)-(e). Step (a) (capability check) is the orchestrator's
// responsibility since it owns the client's declared capabilities.
func (m *Manager) LoadSession(id string) (*Record, error) {
	if err := ids.ParseULID(id); err != nil {
		return nil, core.ValidationErrorf("session id %q is not a valid ULID", id).
			WithSuggestion("session ids look like 01ARZ3NDEKTSV4RRFFQ69G5FAV")
	}

	r, err := m.GetSession(id)
	if err != nil {
		sample := m.sampleIDs(5)
		return nil, core.ResourceErrorf("session %q not found", id).
			WithData("availableSample", sample)
	}

	if time.Since(r.LastAccessed) > m.maxAge {
		return nil, core.ResourceErrorf("session %q has expired", id).
			WithData("maxAge", m.maxAge.String())
	}

	if err := validateIntegrity(r, m.maxHistory); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if rec, ok := m.sessions[id]; ok {
		rec.LastAccessed = time.Now()
	}
	m.mu.Unlock()

	return r, nil
}

// validateIntegrity implements spec §4.9 step (e).
func validateIntegrity(r *Record, maxHistory int) error {
	now := time.Now()
	if r.CreatedAt.After(now) {
		return core.ValidationErrorf("session %q has a future creation timestamp", r.ID)
	}
	if r.CreatedAt.After(r.LastAccessed) {
		return core.ValidationErrorf("session %q was created after its last access", r.ID)
	}
	if len(r.Messages) > maxHistory {
		return core.ValidationErrorf("session %q exceeds the maximum history of %d messages", r.ID, maxHistory)
	}
	for i, msg := range r.Messages {
		if msg.Timestamp.After(now) {
			return core.ValidationErrorf("session %q message %d has a future timestamp", r.ID, i)
		}
	}
	return nil
}

// ReplayEntry is one historical message with its replay position metadata (spec §4.9).
type ReplayEntry struct {
	Message       Message
	MessageIndex  int
	TotalMessages int
}

// BuildReplay returns the ordered replay stream for a loaded session.
func BuildReplay(r *Record) []ReplayEntry {
	total := len(r.Messages)
	entries := make([]ReplayEntry, total)
	for i, msg := range r.Messages {
		entries[i] = ReplayEntry{Message: msg, MessageIndex: i, TotalMessages: total}
	}
	return entries
}

// AppendMessage appends msg to id's history, trimming the oldest entries
// if the history would otherwise exceed maxHistory.
func (m *Manager) AppendMessage(id string, msg Message, maxHistory int) error {
	return m.UpdateSession(id, func(r *Record) {
		r.Messages = append(r.Messages, msg)
		if len(r.Messages) > maxHistory {
			r.Messages = r.Messages[len(r.Messages)-maxHistory:]
		}
	})
}

// SetCancelled marks id as having an outstanding cancellation intent
// (spec §4.11 session/cancel); cleared once the streaming loop observes it.
func (m *Manager) SetCancelled(id string, cancelled bool) error {
	return m.UpdateSession(id, func(r *Record) { r.CancelFlag = cancelled })
}
