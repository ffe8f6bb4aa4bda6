package orchestrate

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/opsflow/types"
)

// StepKind tags a step with the handler that executes it. Dispatch is a
// registry lookup; the set of kinds in a deployment is whatever its registry
// holds.
type StepKind string

// Step kinds shipped with the engine (see the handlers package).
const (
	KindRunAction        StepKind = "run_action"
	KindListResources    StepKind = "list_resources"
	KindQueryMetric      StepKind = "query_metric"
	KindFilter           StepKind = "filter"
	KindAggregate        StepKind = "aggregate"
	KindAnalyze          StepKind = "analyze"
	KindFormat           StepKind = "format"
	KindGenerateValidate StepKind = "generate_validate"
)

// ExecutionMode selects how a plan's steps are scheduled.
type ExecutionMode string

const (
	// ModeSequential runs steps strictly in declared order, one per batch.
	ModeSequential ExecutionMode = "sequential"
	// ModeDAG runs steps in dependency layers with intra-layer concurrency.
	ModeDAG ExecutionMode = "dag"
)

// PlanType is the planner's own structural classification. The executor
// treats it as informational; scheduling follows ExecutionMode.
type PlanType string

const (
	PlanSimple    PlanType = "simple"
	PlanMultiStep PlanType = "multi_step"
	PlanComplex   PlanType = "complex"
)

// Step is an immutable unit of work within a plan.
type Step struct {
	ID           string         `json:"step_id" yaml:"step_id"`
	Kind         StepKind       `json:"step_type" yaml:"step_type"`
	Operation    string         `json:"operation,omitempty" yaml:"operation,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	OutputKey    string         `json:"output_key,omitempty" yaml:"output_key,omitempty"`
}

// StringParam reads a string parameter, with ok reporting presence.
func (s Step) StringParam(key string) (string, bool) {
	v, ok := s.Parameters[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Plan is a declarative description of one step or a step graph. Created by
// an external planner, consumed once, never mutated during execution.
type Plan struct {
	Type  PlanType      `json:"type,omitempty" yaml:"type,omitempty"`
	Steps []Step        `json:"steps" yaml:"steps"`
	Mode  ExecutionMode `json:"execution_mode" yaml:"execution_mode"`
}

// planSchema validates incoming plan documents before structural checks.
const planSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "type": {"enum": ["simple", "multi_step", "complex"]},
    "execution_mode": {"enum": ["sequential", "dag"]},
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "step_id": {"type": "string", "minLength": 1},
          "step_type": {"type": "string", "minLength": 1},
          "operation": {"type": "string"},
          "parameters": {"type": "object"},
          "dependencies": {"type": "array", "items": {"type": "string"}},
          "output_key": {"type": "string"}
        },
        "required": ["step_id", "step_type"],
        "additionalProperties": false
      }
    }
  },
  "required": ["steps"],
  "additionalProperties": false
}`

var compiledPlanSchema = jsonschema.MustCompileString("plan.schema.json", planSchema)

// ParsePlan decodes and validates a JSON plan document.
func ParsePlan(data []byte) (*Plan, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.NewError(types.ErrInvalidPlan, "plan document is not valid JSON").WithCause(err)
	}
	if err := compiledPlanSchema.Validate(doc); err != nil {
		return nil, types.NewError(types.ErrInvalidPlan, "plan document failed schema validation").WithCause(err)
	}
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, types.NewError(types.ErrInvalidPlan, "plan document does not match the plan shape").WithCause(err)
	}
	plan.applyDefaults()
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ParsePlanYAML decodes and validates a YAML plan document. The document is
// normalized through JSON so schema validation sees canonical value types.
func ParsePlanYAML(data []byte) (*Plan, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.NewError(types.ErrInvalidPlan, "plan document is not valid YAML").WithCause(err)
	}
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidPlan, "plan document contains non-JSON-representable values").WithCause(err)
	}
	return ParsePlan(normalized)
}

// applyDefaults fills the schedulable fields a planner may omit.
func (p *Plan) applyDefaults() {
	if p.Mode == "" {
		p.Mode = ModeDAG
	}
	if p.Type == "" {
		switch {
		case len(p.Steps) <= 1:
			p.Type = PlanSimple
		default:
			p.Type = PlanMultiStep
		}
	}
}

// Validate checks plan structure: ids are unique and non-empty, dependencies
// reference known steps, the mode is known, and the dependency relation is
// acyclic. A cyclic plan is rejected here, before any step runs. An empty
// plan is valid.
func (p *Plan) Validate() error {
	if p == nil {
		return types.NewError(types.ErrInvalidPlan, "plan is nil")
	}
	switch p.Mode {
	case "", ModeSequential, ModeDAG:
	default:
		return types.NewErrorf(types.ErrInvalidPlan, "unknown execution mode %q", p.Mode)
	}

	ids := make(map[string]struct{}, len(p.Steps))
	for i, step := range p.Steps {
		if step.ID == "" {
			return types.NewErrorf(types.ErrInvalidPlan, "step at index %d has an empty step_id", i)
		}
		if step.Kind == "" {
			return types.NewErrorf(types.ErrInvalidPlan, "step %q has an empty step_type", step.ID)
		}
		if _, dup := ids[step.ID]; dup {
			return types.NewErrorf(types.ErrInvalidPlan, "duplicate step_id %q", step.ID)
		}
		ids[step.ID] = struct{}{}
	}
	for _, step := range p.Steps {
		for _, dep := range step.Dependencies {
			if dep == step.ID {
				return types.NewErrorf(types.ErrInvalidPlan, "step %q depends on itself", step.ID)
			}
			if _, ok := ids[dep]; !ok {
				return types.NewErrorf(types.ErrInvalidPlan, "step %q depends on unknown step %q", step.ID, dep)
			}
		}
	}

	if unresolved := p.unresolvedSteps(); len(unresolved) > 0 {
		return types.NewErrorf(types.ErrCircularDependency,
			"circular dependency among steps: %v", unresolved)
	}
	return nil
}

// unresolvedSteps runs Kahn's algorithm over the dependency relation and
// returns, sorted, the step ids left unresolved by it. A non-empty result
// means those steps participate in (or depend on) a cycle.
func (p *Plan) unresolvedSteps() []string {
	remaining := make(map[string]int, len(p.Steps))
	dependents := make(map[string][]string, len(p.Steps))
	for _, step := range p.Steps {
		remaining[step.ID] = len(step.Dependencies)
		for _, dep := range step.Dependencies {
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	queue := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		if remaining[step.ID] == 0 {
			queue = append(queue, step.ID)
		}
	}
	resolved := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		resolved++
		for _, next := range dependents[id] {
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if resolved == len(p.Steps) {
		return nil
	}

	unresolved := make([]string, 0, len(p.Steps)-resolved)
	for id, n := range remaining {
		if n > 0 {
			unresolved = append(unresolved, id)
		}
	}
	sort.Strings(unresolved)
	return unresolved
}

// String returns a compact human-readable plan summary for logs.
func (p *Plan) String() string {
	return fmt.Sprintf("plan{type=%s mode=%s steps=%d}", p.Type, p.Mode, len(p.Steps))
}
