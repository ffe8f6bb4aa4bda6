package orchestrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/opsflow/types"
)

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

func TestParsePlan_Valid(t *testing.T) {
	doc := []byte(`{
		"type": "multi_step",
		"execution_mode": "dag",
		"steps": [
			{
				"step_id": "list",
				"step_type": "list_resources",
				"operation": "list_instances",
				"parameters": {"provider": "aws"},
				"output_key": "instances"
			},
			{
				"step_id": "fmt",
				"step_type": "format",
				"dependencies": ["list"]
			}
		]
	}`)

	plan, err := ParsePlan(doc)
	require.NoError(t, err)
	assert.Equal(t, PlanMultiStep, plan.Type)
	assert.Equal(t, ModeDAG, plan.Mode)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, KindListResources, plan.Steps[0].Kind)
	assert.Equal(t, "list_instances", plan.Steps[0].Operation)
	assert.Equal(t, "instances", plan.Steps[0].OutputKey)
	assert.Equal(t, []string{"list"}, plan.Steps[1].Dependencies)

	provider, ok := plan.Steps[0].StringParam("provider")
	require.True(t, ok)
	assert.Equal(t, "aws", provider)
}

func TestParsePlan_AppliesDefaults(t *testing.T) {
	plan, err := ParsePlan([]byte(`{"steps": [{"step_id": "one", "step_type": "run_action"}]}`))
	require.NoError(t, err)
	assert.Equal(t, ModeDAG, plan.Mode)
	assert.Equal(t, PlanSimple, plan.Type)

	multi, err := ParsePlan([]byte(`{"steps": [
		{"step_id": "one", "step_type": "run_action"},
		{"step_id": "two", "step_type": "format"}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, PlanMultiStep, multi.Type)
}

func TestParsePlan_EmptyStepsIsValid(t *testing.T) {
	plan, err := ParsePlan([]byte(`{"steps": []}`))
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)
}

func TestParsePlan_BadJSON(t *testing.T) {
	_, err := ParsePlan([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidPlan))
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestParsePlan_SchemaViolations(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing step_type", `{"steps": [{"step_id": "a"}]}`},
		{"empty step_id", `{"steps": [{"step_id": "", "step_type": "format"}]}`},
		{"unknown top-level field", `{"steps": [], "scheduler": "fancy"}`},
		{"unknown execution mode", `{"steps": [], "execution_mode": "parallel"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tc.doc))
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrInvalidPlan))
		})
	}
}

func TestParsePlanYAML_NormalizesThroughJSON(t *testing.T) {
	doc := []byte(`
execution_mode: sequential
steps:
  - step_id: one
    step_type: run_action
    parameters:
      action: reboot
      count: 2
  - step_id: two
    step_type: format
    dependencies: [one]
`)

	plan, err := ParsePlanYAML(doc)
	require.NoError(t, err)
	assert.Equal(t, ModeSequential, plan.Mode)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "reboot", plan.Steps[0].Parameters["action"])
	assert.Equal(t, float64(2), plan.Steps[0].Parameters["count"], "numbers arrive JSON-typed")
}

func TestParsePlanYAML_BadDocument(t *testing.T) {
	_, err := ParsePlanYAML([]byte("steps: [oops"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidPlan))
}

// ---------------------------------------------------------------------------
// Structural validation
// ---------------------------------------------------------------------------

func TestPlanValidate(t *testing.T) {
	cases := []struct {
		name    string
		plan    *Plan
		code    types.ErrorCode
		message string
	}{
		{
			name: "valid diamond",
			plan: &Plan{Mode: ModeDAG, Steps: []Step{
				{ID: "a", Kind: "ok"},
				{ID: "b", Kind: "ok", Dependencies: []string{"a"}},
				{ID: "c", Kind: "ok", Dependencies: []string{"a"}},
				{ID: "d", Kind: "ok", Dependencies: []string{"b", "c"}},
			}},
		},
		{
			name: "empty plan",
			plan: &Plan{Mode: ModeDAG},
		},
		{
			name: "nil plan",
			plan: nil,
			code: types.ErrInvalidPlan,
		},
		{
			name:    "unknown mode",
			plan:    &Plan{Mode: "parallel"},
			code:    types.ErrInvalidPlan,
			message: "unknown execution mode",
		},
		{
			name:    "empty step id",
			plan:    &Plan{Steps: []Step{{ID: "", Kind: "ok"}}},
			code:    types.ErrInvalidPlan,
			message: "empty step_id",
		},
		{
			name:    "empty step kind",
			plan:    &Plan{Steps: []Step{{ID: "a"}}},
			code:    types.ErrInvalidPlan,
			message: "empty step_type",
		},
		{
			name: "duplicate ids",
			plan: &Plan{Steps: []Step{
				{ID: "a", Kind: "ok"},
				{ID: "a", Kind: "ok"},
			}},
			code:    types.ErrInvalidPlan,
			message: "duplicate step_id",
		},
		{
			name:    "self dependency",
			plan:    &Plan{Steps: []Step{{ID: "a", Kind: "ok", Dependencies: []string{"a"}}}},
			code:    types.ErrInvalidPlan,
			message: "depends on itself",
		},
		{
			name: "unknown dependency",
			plan: &Plan{Steps: []Step{
				{ID: "a", Kind: "ok", Dependencies: []string{"ghost"}},
			}},
			code:    types.ErrInvalidPlan,
			message: `unknown step "ghost"`,
		},
		{
			name: "two-step cycle",
			plan: &Plan{Steps: []Step{
				{ID: "a", Kind: "ok", Dependencies: []string{"b"}},
				{ID: "b", Kind: "ok", Dependencies: []string{"a"}},
			}},
			code:    types.ErrCircularDependency,
			message: "[a b]",
		},
		{
			name: "cycle drags dependents in",
			plan: &Plan{Steps: []Step{
				{ID: "root", Kind: "ok"},
				{ID: "x", Kind: "ok", Dependencies: []string{"y"}},
				{ID: "y", Kind: "ok", Dependencies: []string{"x"}},
				{ID: "z", Kind: "ok", Dependencies: []string{"y"}},
			}},
			code:    types.ErrCircularDependency,
			message: "[x y z]",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.plan.Validate()
			if tc.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, types.IsCode(err, tc.code))
			if tc.message != "" {
				assert.Contains(t, err.Error(), tc.message)
			}
		})
	}
}

func TestStep_StringParam(t *testing.T) {
	step := Step{Parameters: map[string]any{"name": "web", "count": 3}}

	name, ok := step.StringParam("name")
	assert.True(t, ok)
	assert.Equal(t, "web", name)

	_, ok = step.StringParam("count")
	assert.False(t, ok, "non-string values do not coerce")

	_, ok = step.StringParam("missing")
	assert.False(t, ok)
}

func TestPlan_String(t *testing.T) {
	p := &Plan{Type: PlanSimple, Mode: ModeDAG, Steps: []Step{{ID: "a", Kind: "ok"}}}
	assert.Equal(t, "plan{type=simple mode=dag steps=1}", p.String())
}
