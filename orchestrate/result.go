package orchestrate

import (
	"time"

	"github.com/BaSui01/opsflow/types"
)

// APICall records one call a handler made to an external collaborator, for
// audit and tracing. Handlers append these to their returned sub-call trace.
type APICall struct {
	Provider  string         `json:"provider"`
	Service   string         `json:"service,omitempty"`
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// StepResult is produced exactly once per executed step per run.
type StepResult struct {
	StepID    string          `json:"step_id"`
	Success   bool            `json:"success"`
	Data      any             `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode types.ErrorCode `json:"error_code,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Calls     []APICall       `json:"api_calls,omitempty"`
}

// Result aggregates one executor run.
//
// Success is the logical AND of all step successes; a plan with blocked
// steps is never successful. Data carries the most recently completed
// successful step's data, or the full context snapshot when no step
// succeeded. Results holds one StepResult per executed step in completion
// order (batch by batch); Blocked lists steps that never became ready
// because a dependency failed. APITrace concatenates every step's sub-call
// records in the same order.
type Result struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Results  []StepResult   `json:"results"`
	Context  map[string]any `json:"context"`
	Blocked  []string       `json:"blocked,omitempty"`
	APITrace []APICall      `json:"api_trace,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// StepResultFor returns the result recorded for a step id, if the step ran.
func (r *Result) StepResultFor(stepID string) (StepResult, bool) {
	for _, sr := range r.Results {
		if sr.StepID == stepID {
			return sr, true
		}
	}
	return StepResult{}, false
}

// FailedSteps returns the ids of executed steps that failed.
func (r *Result) FailedSteps() []string {
	var failed []string
	for _, sr := range r.Results {
		if !sr.Success {
			failed = append(failed, sr.StepID)
		}
	}
	return failed
}
