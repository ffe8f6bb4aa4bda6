package handlers

import (
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/cloud"
	"github.com/BaSui01/opsflow/orchestrate"
)

// newTestProviders returns a registry with one seeded fake provider.
func newTestProviders() (*cloud.Registry, *cloud.Fake) {
	fake := cloud.NewFake("fake")
	cloud.SeedDemoFleet(fake)
	registry := cloud.NewProviderRegistry(zap.NewNop())
	registry.MustRegister(fake)
	return registry, fake
}

func step(kind orchestrate.StepKind, params map[string]any) orchestrate.Step {
	return orchestrate.Step{
		ID:         "test-step",
		Kind:       kind,
		Parameters: params,
	}
}
