package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/cloud"
	"github.com/BaSui01/opsflow/orchestrate"
)

// RunAction performs one mutating operation against one resource.
// Fan-out over many resources is expressed as parallel plan steps, not
// inside this handler, so each mutation stays individually traceable
// and breaker-guarded. Parameters:
//
//	provider     required provider name
//	service      required service name
//	resource_id  required resource to act on
//	action       required action name ("stop", "restart", "tag", ...)
//	parameters   optional action arguments
type RunAction struct {
	providers *cloud.Registry
	logger    *zap.Logger
}

func NewRunAction(providers *cloud.Registry, logger *zap.Logger) *RunAction {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunAction{providers: providers, logger: logger}
}

func (h *RunAction) Kind() orchestrate.StepKind { return orchestrate.KindRunAction }

func (h *RunAction) Handle(ctx context.Context, step orchestrate.Step, _ *orchestrate.ExecutionContext) (any, []orchestrate.APICall, error) {
	providerName, err := stringParam(step.Parameters, "provider")
	if err != nil {
		return nil, nil, err
	}
	service, err := stringParam(step.Parameters, "service")
	if err != nil {
		return nil, nil, err
	}
	resourceID, err := stringParam(step.Parameters, "resource_id")
	if err != nil {
		return nil, nil, err
	}
	action, err := stringParam(step.Parameters, "action")
	if err != nil {
		return nil, nil, err
	}

	provider, err := h.providers.Get(providerName)
	if err != nil {
		return nil, nil, err
	}

	req := cloud.ActionRequest{
		Service:    service,
		ResourceID: resourceID,
		Action:     action,
		Parameters: optMapParam(step.Parameters, "parameters"),
	}

	start := time.Now()
	result, err := provider.RunAction(ctx, req)
	call := callRecord(providerName, service, "run_action", map[string]any{
		"resource_id": resourceID, "action": action,
	}, start, err)
	if err != nil {
		return nil, []orchestrate.APICall{call}, err
	}

	h.logger.Info("action completed",
		zap.String("provider", providerName),
		zap.String("resource_id", resourceID),
		zap.String("action", action),
		zap.String("status", result.Status),
	)

	return map[string]any{
		"resource_id": result.ResourceID,
		"action":      result.Action,
		"status":      result.Status,
		"detail":      result.Detail,
	}, []orchestrate.APICall{call}, nil
}
