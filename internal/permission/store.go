// Package permission implements spec §3/§4.8's permission decision
// store and prompt handler: a fine-grained map of persisted
// always-decisions, and a blocking call-out to the client for
// once-decisions. Grounded on the teacher's
// internal/agentctl/server/process.Manager pendingPermissions pattern
// (a map of in-flight prompts keyed by request ID, each with its own
// response channel), generalized from Claude-Code-control-protocol
// request IDs to this bridge's tool-call IDs.
package permission

import (
	"context"
	"sync"

	"github.com/kandev/acpbridge/internal/core"
	"github.com/kandev/acpbridge/internal/protocol/acp"
)

// Decision is a persisted always-decision (spec §3: only AllowAlways and
// RejectAlways are ever stored).
type Decision string

const (
	DecisionAllowAlways  Decision = "allow_always"
	DecisionRejectAlways Decision = "reject_always"
)

// Store is the fine-grained, single-lock permission-decision map.
type Store struct {
	mu        sync.Mutex
	decisions map[string]Decision
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{decisions: make(map[string]Decision)}
}

// Lookup returns the persisted decision for key, if any.
func (s *Store) Lookup(key string) (Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[key]
	return d, ok
}

// Persist stores an always-decision for key. Once-decisions must never
// be passed here (spec §8 invariant 9).
func (s *Store) Persist(key string, d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[key] = d
}

// Snapshot returns a copy of the store, for tests/ops endpoints.
func (s *Store) Snapshot() map[string]Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Decision, len(s.decisions))
	for k, v := range s.decisions {
		out[k] = v
	}
	return out
}

// PromptFunc sends a request_permission call to the client and returns
// its outcome. Supplied by the orchestrator, which owns the JSON-RPC
// connection; kept as a function value here so this package has no
// dependency on the dispatcher.
type PromptFunc func(ctx context.Context, req acp.RequestPermissionParams) (acp.PermissionOutcome, error)

// PromptHandler calls out to the client for a once-decision and
// interprets the resulting PermissionOutcome (spec §4.8 step 3).
type PromptHandler struct {
	prompt PromptFunc
}

// NewPromptHandler builds a PromptHandler bound to the given transport callback.
func NewPromptHandler(prompt PromptFunc) *PromptHandler {
	return &PromptHandler{prompt: prompt}
}

// Outcome is the resolved result of a permission prompt, already
// classified into proceed/fail plus whether an always-decision should
// be persisted.
type Outcome struct {
	Proceed       bool
	PersistAlways Decision // empty if nothing should be persisted
	Reason        string
}

// optionKindOf maps an offered option's ID back to its Kind, since the
// client replies with only an OptionID.
func optionKindOf(options []acp.PermissionOption, optionID string) string {
	for _, o := range options {
		if o.OptionID == optionID {
			return o.Kind
		}
	}
	return ""
}

// Ask prompts the client and interprets the outcome.
func (h *PromptHandler) Ask(ctx context.Context, req acp.RequestPermissionParams) (Outcome, error) {
	result, err := h.prompt(ctx, req)
	if err != nil {
		return Outcome{}, core.UpstreamErrorf("permission prompt failed: %v", err)
	}

	if result.Outcome == acp.OutcomeCancelled {
		return Outcome{Proceed: false, Reason: "permission request was cancelled"}, nil
	}

	kind := optionKindOf(req.Options, result.OptionID)
	switch kind {
	case "allow_once":
		return Outcome{Proceed: true}, nil
	case "allow_always":
		return Outcome{Proceed: true, PersistAlways: DecisionAllowAlways}, nil
	case "reject_once":
		return Outcome{Proceed: false, Reason: "permission denied"}, nil
	case "reject_always":
		return Outcome{Proceed: false, PersistAlways: DecisionRejectAlways, Reason: "permission denied"}, nil
	default:
		return Outcome{Proceed: false, Reason: "permission denied: unrecognized option selected"}, nil
	}
}
