package handlers

import (
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/cloud"
	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/retryloop"
)

// Deps carries the collaborators the built-in handlers need.
type Deps struct {
	Providers *cloud.Registry
	Generator Generator
	Retry     retryloop.Config
	Recorder  LoopRecorder
	Logger    *zap.Logger
}

// RegisterAll registers every built-in handler on reg. Handlers whose
// collaborator is missing are still registered and fail per-step with a
// clear error, so plans referencing them degrade instead of panicking.
func RegisterAll(reg *orchestrate.Registry, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	filter, err := NewFilter(logger)
	if err != nil {
		return err
	}
	analyze, err := NewAnalyze(logger)
	if err != nil {
		return err
	}

	all := []orchestrate.Handler{
		NewListResources(deps.Providers, logger),
		NewQueryMetric(deps.Providers, logger),
		NewRunAction(deps.Providers, logger),
		filter,
		NewAggregate(logger),
		analyze,
		NewFormat(logger),
		NewGenerateValidate(deps.Generator, deps.Retry, deps.Recorder, logger),
	}
	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
