package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/retryloop"
	"github.com/BaSui01/opsflow/types"
)

// Generator produces one artifact attempt. feedback carries the
// previous attempt's validation error (empty on the first attempt) so
// the implementation can revise instead of repeating itself.
type Generator interface {
	Generate(ctx context.Context, prompt string, feedback string) (string, error)
}

// LoopRecorder observes the outcome of every bounded retry loop. A
// *metrics.Collector satisfies it; a nil recorder disables recording.
type LoopRecorder interface {
	RecordRetryLoop(loop, outcome string, iterations int)
}

// GenerateValidate drives a Generator through the bounded retry loop
// until the artifact validates. Parameters:
//
//	prompt          required generation instruction
//	schema          optional inline JSON Schema; when present the
//	                artifact must parse as JSON and validate against it
//	max_iterations  optional cap (default from the handler config)
//
// Output: {"artifact", "iterations", "outcome"}; artifact is the parsed
// JSON value when a schema was supplied, the raw string otherwise.
type GenerateValidate struct {
	generator Generator
	defaults  retryloop.Config
	recorder  LoopRecorder
	logger    *zap.Logger
}

func NewGenerateValidate(generator Generator, defaults retryloop.Config, recorder LoopRecorder, logger *zap.Logger) *GenerateValidate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.MaxIterations <= 0 {
		defaults = retryloop.DefaultConfig()
	}
	return &GenerateValidate{generator: generator, defaults: defaults, recorder: recorder, logger: logger}
}

func (h *GenerateValidate) Kind() orchestrate.StepKind { return orchestrate.KindGenerateValidate }

func (h *GenerateValidate) Handle(ctx context.Context, step orchestrate.Step, _ *orchestrate.ExecutionContext) (any, []orchestrate.APICall, error) {
	if h.generator == nil {
		return nil, nil, types.NewError(types.ErrNotSupported, "no generator wired for generate_validate steps")
	}
	prompt, err := stringParam(step.Parameters, "prompt")
	if err != nil {
		return nil, nil, err
	}

	var schema *jsonschema.Schema
	if raw := optMapParam(step.Parameters, "schema"); raw != nil {
		schema, err = compileSchema(raw)
		if err != nil {
			return nil, nil, err
		}
	}

	cfg := retryloop.Config{
		Name:              step.ID,
		MaxIterations:     optIntParam(step.Parameters, "max_iterations", h.defaults.MaxIterations),
		EnableObservation: true,
	}

	var finalArtifact any

	think := func(_ context.Context, history []retryloop.Iteration) (retryloop.Thought, error) {
		feedback := ""
		if len(history) > 0 {
			feedback = history[len(history)-1].Observation.Error
		}
		return retryloop.Thought{
			Reasoning: fmt.Sprintf("attempt %d", len(history)+1),
			Action:    retryloop.Action{Name: "generate", Input: feedback},
		}, nil
	}
	act := func(actCtx context.Context, action retryloop.Action) (any, error) {
		feedback, _ := action.Input.(string)
		return h.generator.Generate(actCtx, prompt, feedback)
	}
	observe := func(_ context.Context, artifact any) (retryloop.Observation, error) {
		raw, _ := artifact.(string)
		if strings.TrimSpace(raw) == "" {
			return retryloop.Observation{Status: retryloop.StatusFailed, Error: "generator returned an empty artifact"}, nil
		}
		if schema == nil {
			finalArtifact = raw
			return retryloop.Observation{Status: retryloop.StatusSuccess}, nil
		}

		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return retryloop.Observation{
				Status: retryloop.StatusFailed,
				Error:  fmt.Sprintf("artifact is not valid JSON: %v", err),
			}, nil
		}
		if err := schema.Validate(decoded); err != nil {
			return retryloop.Observation{
				Status: retryloop.StatusFailed,
				Error:  fmt.Sprintf("schema validation failed: %v", err),
			}, nil
		}
		finalArtifact = decoded
		return retryloop.Observation{Status: retryloop.StatusSuccess}, nil
	}

	loop, err := retryloop.New(cfg, think, act, observe, h.logger)
	if err != nil {
		return nil, nil, err
	}

	result, err := loop.Run(ctx)
	if h.recorder != nil && result != nil {
		h.recorder.RecordRetryLoop(cfg.Name, string(result.Outcome), len(result.Iterations))
	}
	if err != nil {
		return nil, nil, err
	}
	if result.Outcome != retryloop.OutcomeSucceeded {
		return nil, nil, types.NewErrorf(types.ErrRetryExhausted,
			"generation for step %q did not validate: %s", step.ID, result.Error)
	}

	h.logger.Info("artifact generated",
		zap.String("step_id", step.ID),
		zap.Int("iterations", len(result.Iterations)),
	)
	return map[string]any{
		"artifact":   finalArtifact,
		"iterations": len(result.Iterations),
		"outcome":    string(result.Outcome),
	}, nil, nil
}

// compileSchema compiles an inline schema document.
func compileSchema(raw map[string]any) (*jsonschema.Schema, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "encode schema").WithCause(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inline://schema.json", strings.NewReader(string(encoded))); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "register schema").WithCause(err)
	}
	schema, err := compiler.Compile("inline://schema.json")
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "compile schema").WithCause(err)
	}
	return schema, nil
}

// StaticGenerator returns canned artifacts in order, repeating the last
// one once exhausted. It backs tests and the demo wiring where no real
// generation service is configured.
type StaticGenerator struct {
	mu         sync.Mutex
	candidates []string
	calls      int
}

func NewStaticGenerator(candidates ...string) *StaticGenerator {
	return &StaticGenerator{candidates: candidates}
}

func (g *StaticGenerator) Generate(_ context.Context, _ string, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.candidates) == 0 {
		return "", types.NewError(types.ErrNotSupported, "static generator has no candidates")
	}
	idx := g.calls
	if idx >= len(g.candidates) {
		idx = len(g.candidates) - 1
	}
	g.calls++
	return g.candidates[idx], nil
}
