package session

import (
	"strings"
	"sync"
	"time"

	"github.com/kandev/acpbridge/internal/ids"
)

// PlanPriority is a plan entry's priority (spec §3, §4.10).
type PlanPriority string

const (
	PriorityLow    PlanPriority = "low"
	PriorityMedium PlanPriority = "medium"
	PriorityHigh   PlanPriority = "high"
)

// PlanEntryStatus is a plan entry's lifecycle state.
type PlanEntryStatus string

const (
	PlanEntryPending    PlanEntryStatus = "pending"
	PlanEntryInProgress PlanEntryStatus = "in_progress"
	PlanEntryCompleted  PlanEntryStatus = "completed"
	PlanEntryFailed     PlanEntryStatus = "failed"
	PlanEntryCancelled  PlanEntryStatus = "cancelled"
)

// IsTerminal reports whether s counts toward the plan's completion
// percentage (spec §3: completion = terminal entries / total).
func (s PlanEntryStatus) IsTerminal() bool {
	switch s {
	case PlanEntryCompleted, PlanEntryFailed, PlanEntryCancelled:
		return true
	}
	return false
}

// PlanEntry is one step of a generated plan (spec §3).
type PlanEntry struct {
	ID        string
	Content   string
	Priority  PlanPriority
	Status    PlanEntryStatus
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Plan is a session's current plan (spec §4.10: always transmitted in full).
type Plan struct {
	ID      string
	Entries []PlanEntry
}

// CompletionPercent returns the share of entries in a terminal state,
// in whole percent. An empty plan is 0% complete.
func (p *Plan) CompletionPercent() int {
	if len(p.Entries) == 0 {
		return 0
	}
	terminal := 0
	for _, e := range p.Entries {
		if e.Status.IsTerminal() {
			terminal++
		}
	}
	return terminal * 100 / len(p.Entries)
}

const maxPlanEntries = 10

// PlanManager holds one plan per session (spec §4.10).
type PlanManager struct {
	mu    sync.Mutex
	plans map[string]*Plan
}

// NewPlanManager builds an empty PlanManager.
func NewPlanManager() *PlanManager {
	return &PlanManager{plans: make(map[string]*Plan)}
}

func newEntry(content string, priority PlanPriority) PlanEntry {
	now := time.Now()
	return PlanEntry{
		ID:        ids.NewUUID(),
		Content:   content,
		Priority:  priority,
		Status:    PlanEntryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GenerateFromPrompt builds a plan heuristically from the user's prompt
// text (spec §4.10's deliberately shallow keyword-driven heuristic).
func GenerateFromPrompt(prompt string) *Plan {
	lower := strings.ToLower(prompt)
	var entries []PlanEntry

	switch {
	case containsAny(lower, "fix", "error", "bug"):
		entries = append(entries,
			newEntry("Analyze the reported issue", PriorityHigh),
			newEntry("Implement the fix", PriorityHigh),
		)
	case containsAny(lower, "implement", "create", "add"):
		entries = append(entries,
			newEntry("Clarify requirements", PriorityMedium),
			newEntry("Implement the requested change", PriorityMedium),
		)
	case containsAny(lower, "test"):
		entries = append(entries,
			newEntry("Run the existing test suite", PriorityMedium),
			newEntry("Author additional tests", PriorityMedium),
		)
	case containsAny(lower, "refactor", "clean"):
		entries = append(entries,
			newEntry("Analyze the current implementation", PriorityMedium),
			newEntry("Refactor the code", PriorityMedium),
		)
	case containsAny(lower, "document", "explain"):
		entries = append(entries, newEntry("Review and update documentation", PriorityLow))
	default:
		entries = append(entries,
			newEntry("Understand the request", PriorityMedium),
			newEntry("Carry out the requested work", PriorityMedium),
		)
	}

	if len(entries) > 1 {
		entries = append(entries, newEntry("Validate the result", PriorityMedium))
	}

	if len(entries) > maxPlanEntries {
		entries = entries[:maxPlanEntries]
	}

	return &Plan{ID: ids.NewUUID(), Entries: entries}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// SetPlan replaces sessionID's plan.
func (pm *PlanManager) SetPlan(sessionID string, plan *Plan) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.plans[sessionID] = plan
}

// GetPlan returns sessionID's plan, if any.
func (pm *PlanManager) GetPlan(sessionID string) (*Plan, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.plans[sessionID]
	return p, ok
}

// TransitionEntry moves entryID in sessionID's plan to status, returning
// the full updated plan (spec §4.10: every update resends the whole list).
// Entries already in a terminal state are left untouched.
func (pm *PlanManager) TransitionEntry(sessionID, entryID string, status PlanEntryStatus, notes string) (*Plan, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	plan, ok := pm.plans[sessionID]
	if !ok {
		return nil, false
	}
	for i := range plan.Entries {
		if plan.Entries[i].ID != entryID {
			continue
		}
		if plan.Entries[i].Status.IsTerminal() {
			return plan, false
		}
		plan.Entries[i].Status = status
		plan.Entries[i].UpdatedAt = time.Now()
		if notes != "" {
			plan.Entries[i].Notes = notes
		}
		return plan, true
	}
	return plan, false
}

// RemoveSession drops sessionID's plan.
func (pm *PlanManager) RemoveSession(sessionID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.plans, sessionID)
}
