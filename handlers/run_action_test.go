package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/cloud"
	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/types"
)

func TestRunAction_Completes(t *testing.T) {
	providers, fake := newTestProviders()
	h := NewRunAction(providers, zap.NewNop())

	data, calls, err := h.Handle(context.Background(), step(orchestrate.KindRunAction, map[string]any{
		"provider":    "fake",
		"service":     "compute",
		"resource_id": "i-0001",
		"action":      "stop",
	}), orchestrate.NewExecutionContext())
	require.NoError(t, err)

	result := data.(map[string]any)
	assert.Equal(t, "i-0001", result["resource_id"])
	assert.Equal(t, "completed", result["status"])

	require.Len(t, calls, 1)
	assert.Equal(t, "run_action", calls[0].Operation)
	assert.True(t, calls[0].Success)

	log := fake.ActionLog()
	require.Len(t, log, 1)
	assert.Equal(t, "stop", log[0].Action)
}

func TestRunAction_PropagatesTaxonomyError(t *testing.T) {
	providers, _ := newTestProviders()
	h := NewRunAction(providers, zap.NewNop())

	_, calls, err := h.Handle(context.Background(), step(orchestrate.KindRunAction, map[string]any{
		"provider":    "fake",
		"service":     "compute",
		"resource_id": "i-9999",
		"action":      "stop",
	}), orchestrate.NewExecutionContext())

	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Success)
}

func TestRunAction_PassesParameters(t *testing.T) {
	providers, fake := newTestProviders()
	h := NewRunAction(providers, zap.NewNop())

	_, _, err := h.Handle(context.Background(), step(orchestrate.KindRunAction, map[string]any{
		"provider":    "fake",
		"service":     "compute",
		"resource_id": "i-0002",
		"action":      "tag",
		"parameters":  map[string]any{"owner": "sre"},
	}), orchestrate.NewExecutionContext())
	require.NoError(t, err)

	resources, err := fake.ListResources(context.Background(), cloud.ListRequest{Service: "compute"})
	require.NoError(t, err)
	assert.Equal(t, "sre", resources[1].Tags["owner"])
}

func TestRunAction_Validation(t *testing.T) {
	providers, _ := newTestProviders()
	h := NewRunAction(providers, zap.NewNop())

	for _, params := range []map[string]any{
		{},
		{"provider": "fake"},
		{"provider": "fake", "service": "compute"},
		{"provider": "fake", "service": "compute", "resource_id": "i-0001"},
	} {
		_, _, err := h.Handle(context.Background(), step(orchestrate.KindRunAction, params), orchestrate.NewExecutionContext())
		assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	}
}
