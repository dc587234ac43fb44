package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpbridge/internal/protocol/acp"
)

func TestStore_PersistAndLookup(t *testing.T) {
	s := NewStore()

	_, ok := s.Lookup("fs_write")
	assert.False(t, ok)

	s.Persist("fs_write", DecisionAllowAlways)
	d, ok := s.Lookup("fs_write")
	require.True(t, ok)
	assert.Equal(t, DecisionAllowAlways, d)
}

func TestStore_Snapshot(t *testing.T) {
	s := NewStore()
	s.Persist("a", DecisionAllowAlways)
	s.Persist("b", DecisionRejectAlways)

	snap := s.Snapshot()
	assert.Equal(t, DecisionAllowAlways, snap["a"])
	assert.Equal(t, DecisionRejectAlways, snap["b"])

	// Mutating the snapshot must not leak back into the store.
	snap["a"] = DecisionRejectAlways
	d, _ := s.Lookup("a")
	assert.Equal(t, DecisionAllowAlways, d)
}

func options() []acp.PermissionOption {
	return []acp.PermissionOption{
		{OptionID: "opt-allow-once", Kind: "allow_once"},
		{OptionID: "opt-allow-always", Kind: "allow_always"},
		{OptionID: "opt-reject-once", Kind: "reject_once"},
		{OptionID: "opt-reject-always", Kind: "reject_always"},
	}
}

func TestPromptHandler_AllowOnceDoesNotPersist(t *testing.T) {
	h := NewPromptHandler(func(ctx context.Context, req acp.RequestPermissionParams) (acp.PermissionOutcome, error) {
		return acp.PermissionOutcome{OptionID: "opt-allow-once"}, nil
	})
	out, err := h.Ask(context.Background(), acp.RequestPermissionParams{Options: options()})
	require.NoError(t, err)
	assert.True(t, out.Proceed)
	assert.Empty(t, out.PersistAlways)
}

func TestPromptHandler_AllowAlwaysPersists(t *testing.T) {
	h := NewPromptHandler(func(ctx context.Context, req acp.RequestPermissionParams) (acp.PermissionOutcome, error) {
		return acp.PermissionOutcome{OptionID: "opt-allow-always"}, nil
	})
	out, err := h.Ask(context.Background(), acp.RequestPermissionParams{Options: options()})
	require.NoError(t, err)
	assert.True(t, out.Proceed)
	assert.Equal(t, DecisionAllowAlways, out.PersistAlways)
}

func TestPromptHandler_RejectOnceDoesNotPersist(t *testing.T) {
	h := NewPromptHandler(func(ctx context.Context, req acp.RequestPermissionParams) (acp.PermissionOutcome, error) {
		return acp.PermissionOutcome{OptionID: "opt-reject-once"}, nil
	})
	out, err := h.Ask(context.Background(), acp.RequestPermissionParams{Options: options()})
	require.NoError(t, err)
	assert.False(t, out.Proceed)
	assert.Empty(t, out.PersistAlways)
}

func TestPromptHandler_RejectAlwaysPersists(t *testing.T) {
	h := NewPromptHandler(func(ctx context.Context, req acp.RequestPermissionParams) (acp.PermissionOutcome, error) {
		return acp.PermissionOutcome{OptionID: "opt-reject-always"}, nil
	})
	out, err := h.Ask(context.Background(), acp.RequestPermissionParams{Options: options()})
	require.NoError(t, err)
	assert.False(t, out.Proceed)
	assert.Equal(t, DecisionRejectAlways, out.PersistAlways)
}

func TestPromptHandler_Cancelled(t *testing.T) {
	h := NewPromptHandler(func(ctx context.Context, req acp.RequestPermissionParams) (acp.PermissionOutcome, error) {
		return acp.PermissionOutcome{Outcome: acp.OutcomeCancelled}, nil
	})
	out, err := h.Ask(context.Background(), acp.RequestPermissionParams{Options: options()})
	require.NoError(t, err)
	assert.False(t, out.Proceed)
}

func TestPromptHandler_TransportErrorIsUpstream(t *testing.T) {
	h := NewPromptHandler(func(ctx context.Context, req acp.RequestPermissionParams) (acp.PermissionOutcome, error) {
		return acp.PermissionOutcome{}, errors.New("pipe closed")
	})
	_, err := h.Ask(context.Background(), acp.RequestPermissionParams{Options: options()})
	assert.Error(t, err)
}
