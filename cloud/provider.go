package cloud

import (
	"context"
	"time"
)

// Resource is a provider-neutral view of a single cloud resource.
type Resource struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Region     string            `json:"region,omitempty"`
	State      string            `json:"state,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Attributes map[string]any    `json:"attributes,omitempty"`
}

// ListRequest selects resources of one service, optionally narrowed by
// region and tag filters.
type ListRequest struct {
	Service string            `json:"service"`
	Region  string            `json:"region,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

// MetricPoint is a single sample of a metric series.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeries is the result of a metric query for one resource.
type MetricSeries struct {
	ResourceID string        `json:"resource_id"`
	Metric     string        `json:"metric"`
	Unit       string        `json:"unit,omitempty"`
	Points     []MetricPoint `json:"points"`
}

// MetricRequest selects a metric window for one resource.
type MetricRequest struct {
	Service    string        `json:"service"`
	ResourceID string        `json:"resource_id"`
	Metric     string        `json:"metric"`
	Start      time.Time     `json:"start,omitempty"`
	End        time.Time     `json:"end,omitempty"`
	Period     time.Duration `json:"period,omitempty"`
}

// ActionRequest describes a mutating operation against one resource.
type ActionRequest struct {
	Service    string         `json:"service"`
	ResourceID string         `json:"resource_id"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ActionResult reports the outcome of a RunAction call.
type ActionResult struct {
	ResourceID string         `json:"resource_id"`
	Action     string         `json:"action"`
	Status     string         `json:"status"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Provider is the collaborator boundary to one cloud platform.
//
// Implementations must classify their failures into the closed
// types.ErrorCode taxonomy (with Provider set) so that callers — the
// circuit breaker in particular — never have to guess from error text.
type Provider interface {
	// Name returns the provider identifier, e.g. "aws" or "fake".
	Name() string

	// ListResources enumerates resources matching the request.
	ListResources(ctx context.Context, req ListRequest) ([]Resource, error)

	// QueryMetric fetches one metric series for one resource.
	QueryMetric(ctx context.Context, req MetricRequest) (*MetricSeries, error)

	// RunAction performs a mutating operation against one resource.
	RunAction(ctx context.Context, req ActionRequest) (*ActionResult, error)
}
