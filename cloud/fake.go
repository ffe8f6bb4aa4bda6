package cloud

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/opsflow/types"
)

// Fake is a deterministic in-memory provider used by tests, examples
// and the demo CLI path. It supports per-operation failure injection so
// breaker and executor behavior can be exercised without a real cloud.
type Fake struct {
	name string

	mu        sync.RWMutex
	resources map[string][]Resource     // keyed by service
	metrics   map[string]*MetricSeries  // keyed by service/resource/metric
	failures  map[string]error          // keyed by operation name
	actionLog []ActionRequest
}

// Fake operation names accepted by FailWith.
const (
	OpListResources = "list_resources"
	OpQueryMetric   = "query_metric"
	OpRunAction     = "run_action"
)

// NewFake creates an empty fake provider.
func NewFake(name string) *Fake {
	if name == "" {
		name = "fake"
	}
	return &Fake{
		name:      name,
		resources: make(map[string][]Resource),
		metrics:   make(map[string]*MetricSeries),
		failures:  make(map[string]error),
	}
}

func (f *Fake) Name() string { return f.name }

// AddResource registers a resource under a service.
func (f *Fake) AddResource(service string, res Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[service] = append(f.resources[service], res)
}

// SetMetric registers a metric series for one resource.
func (f *Fake) SetMetric(service string, series MetricSeries) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics[metricKey(service, series.ResourceID, series.Metric)] = &series
}

// FailWith makes every subsequent call to op return err until cleared
// with a nil err.
func (f *Fake) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// ActionLog returns a copy of every RunAction request seen so far.
func (f *Fake) ActionLog() []ActionRequest {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ActionRequest, len(f.actionLog))
	copy(out, f.actionLog)
	return out
}

func (f *Fake) ListResources(_ context.Context, req ListRequest) ([]Resource, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.failures[OpListResources]; err != nil {
		return nil, err
	}

	var out []Resource
	for _, res := range f.resources[req.Service] {
		if req.Region != "" && res.Region != req.Region {
			continue
		}
		if !matchesTags(res.Tags, req.Filters) {
			continue
		}
		out = append(out, res)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) QueryMetric(_ context.Context, req MetricRequest) (*MetricSeries, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.failures[OpQueryMetric]; err != nil {
		return nil, err
	}

	series, ok := f.metrics[metricKey(req.Service, req.ResourceID, req.Metric)]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "no metric %q for resource %q", req.Metric, req.ResourceID).
			WithProvider(f.name)
	}

	out := &MetricSeries{
		ResourceID: series.ResourceID,
		Metric:     series.Metric,
		Unit:       series.Unit,
	}
	for _, p := range series.Points {
		if !req.Start.IsZero() && p.Timestamp.Before(req.Start) {
			continue
		}
		if !req.End.IsZero() && p.Timestamp.After(req.End) {
			continue
		}
		out.Points = append(out.Points, p)
	}
	return out, nil
}

func (f *Fake) RunAction(_ context.Context, req ActionRequest) (*ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failures[OpRunAction]; err != nil {
		return nil, err
	}

	resources := f.resources[req.Service]
	idx := -1
	for i, res := range resources {
		if res.ID == req.ResourceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, types.NewErrorf(types.ErrNotFound, "no resource %q in service %q", req.ResourceID, req.Service).
			WithProvider(f.name)
	}

	switch req.Action {
	case "start", "restart":
		resources[idx].State = "running"
	case "stop":
		resources[idx].State = "stopped"
	case "tag":
		if resources[idx].Tags == nil {
			resources[idx].Tags = make(map[string]string)
		}
		for k, v := range req.Parameters {
			resources[idx].Tags[k] = fmt.Sprint(v)
		}
	default:
		return nil, types.NewErrorf(types.ErrNotSupported, "fake provider does not support action %q", req.Action).
			WithProvider(f.name)
	}

	f.actionLog = append(f.actionLog, req)
	return &ActionResult{
		ResourceID: req.ResourceID,
		Action:     req.Action,
		Status:     "completed",
		Detail:     map[string]any{"state": resources[idx].State},
	}, nil
}

func metricKey(service, resourceID, metric string) string {
	return strings.Join([]string{service, resourceID, metric}, "/")
}

func matchesTags(tags, filters map[string]string) bool {
	for k, want := range filters {
		if tags[k] != want {
			return false
		}
	}
	return true
}

// SeedDemoFleet loads a small deterministic fleet into f: four compute
// instances across two regions with CPU metrics, plus two storage
// buckets. Instance i-0003 runs hot so threshold demos find something.
func SeedDemoFleet(f *Fake) {
	instances := []struct {
		id, name, region, state string
		env                     string
		cpuBase                 float64
	}{
		{"i-0001", "web-1", "us-east-1", "running", "prod", 35},
		{"i-0002", "web-2", "us-east-1", "running", "prod", 42},
		{"i-0003", "batch-1", "us-west-2", "running", "prod", 92},
		{"i-0004", "dev-sandbox", "us-west-2", "stopped", "dev", 5},
	}

	now := time.Now().Truncate(time.Minute)
	for _, inst := range instances {
		f.AddResource("compute", Resource{
			ID:     inst.id,
			Name:   inst.name,
			Type:   "instance",
			Region: inst.region,
			State:  inst.state,
			Tags:   map[string]string{"env": inst.env},
		})

		points := make([]MetricPoint, 0, 12)
		for i := 0; i < 12; i++ {
			points = append(points, MetricPoint{
				Timestamp: now.Add(-time.Duration(11-i) * 5 * time.Minute),
				Value:     inst.cpuBase + float64(i%3),
			})
		}
		f.SetMetric("compute", MetricSeries{
			ResourceID: inst.id,
			Metric:     "cpu_utilization",
			Unit:       "percent",
			Points:     points,
		})
	}

	f.AddResource("storage", Resource{
		ID: "ops-artifacts", Name: "ops-artifacts", Type: "bucket", Region: "us-east-1",
		Tags: map[string]string{"env": "prod"},
	})
	f.AddResource("storage", Resource{
		ID: "ops-logs", Name: "ops-logs", Type: "bucket", Region: "us-east-1",
		Tags: map[string]string{"env": "prod"},
	})
}
