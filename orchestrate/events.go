package orchestrate

import "time"

// EventType identifies an execution progress event.
type EventType string

const (
	EventPlanStarted  EventType = "plan_started"
	EventBatchStarted EventType = "batch_started"
	EventStepStarted  EventType = "step_started"
	EventStepFinished EventType = "step_finished"
	EventPlanFinished EventType = "plan_finished"
)

// Event is a progress notification emitted while a plan executes. Step
// events carry the step fields; plan events carry the totals.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	Timestamp   time.Time `json:"timestamp"`

	// Step fields (step_started / step_finished)
	StepID  string   `json:"step_id,omitempty"`
	Kind    StepKind `json:"kind,omitempty"`
	Success bool     `json:"success,omitempty"`
	Error   string   `json:"error,omitempty"`

	// Batch fields (batch_started)
	Batch     int `json:"batch,omitempty"`
	BatchSize int `json:"batch_size,omitempty"`

	// Plan fields; Mode is set on plan and batch events.
	Mode       ExecutionMode `json:"mode,omitempty"`
	StepsTotal int           `json:"steps_total,omitempty"`
	PlanOK     bool          `json:"plan_ok,omitempty"`
}

// Listener receives execution events. Listeners run synchronously on the
// executor's goroutines and must return quickly; slow consumers should hand
// events off to their own channel.
type Listener func(Event)
