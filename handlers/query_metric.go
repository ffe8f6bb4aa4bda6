package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/opsflow/cloud"
	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/types"
)

// QueryMetric fetches metric series and summarizing statistics.
// Parameters:
//
//	provider        required provider name
//	service         required service name
//	metric          required metric name
//	resource_id     query a single resource, or
//	input_key       context key holding a resource list to fan out over
//	window_minutes  optional lookback window (default 60)
//	concurrency     optional fan-out width (default 4)
//
// Output: a single series map for resource_id, or []map for input_key,
// each carrying points plus {avg,max,min,last,count} under "stats".
type QueryMetric struct {
	providers *cloud.Registry
	logger    *zap.Logger
}

func NewQueryMetric(providers *cloud.Registry, logger *zap.Logger) *QueryMetric {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryMetric{providers: providers, logger: logger}
}

func (h *QueryMetric) Kind() orchestrate.StepKind { return orchestrate.KindQueryMetric }

func (h *QueryMetric) Handle(ctx context.Context, step orchestrate.Step, ec *orchestrate.ExecutionContext) (any, []orchestrate.APICall, error) {
	providerName, err := stringParam(step.Parameters, "provider")
	if err != nil {
		return nil, nil, err
	}
	service, err := stringParam(step.Parameters, "service")
	if err != nil {
		return nil, nil, err
	}
	metric, err := stringParam(step.Parameters, "metric")
	if err != nil {
		return nil, nil, err
	}

	provider, err := h.providers.Get(providerName)
	if err != nil {
		return nil, nil, err
	}

	window := time.Duration(optIntParam(step.Parameters, "window_minutes", 60)) * time.Minute
	end := time.Now()
	start := end.Add(-window)

	// Single-resource form
	if resourceID := optStringParam(step.Parameters, "resource_id", ""); resourceID != "" {
		series, call, err := h.query(ctx, provider, service, resourceID, metric, start, end)
		if err != nil {
			return nil, []orchestrate.APICall{call}, err
		}
		return series, []orchestrate.APICall{call}, nil
	}

	// Fan-out form over a previously listed resource set
	inputKey, err := stringParam(step.Parameters, "input_key")
	if err != nil {
		return nil, nil, types.NewError(types.ErrInvalidRequest, "query_metric requires either resource_id or input_key")
	}
	items, err := listFromContext(ec, inputKey)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := m["id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}

	var (
		mu     sync.Mutex
		out    = make([]map[string]any, 0, len(ids))
		calls  = make([]orchestrate.APICall, 0, len(ids))
		failed []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(optIntParam(step.Parameters, "concurrency", 4))
	for _, id := range ids {
		g.Go(func() error {
			series, call, err := h.query(gctx, provider, service, id, metric, start, end)
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, call)
			if err != nil {
				failed = append(failed, id)
				return err
			}
			out = append(out, series)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		sort.Strings(failed)
		return nil, calls, types.NewErrorf(types.GetErrorCodeOr(err, types.ErrUpstreamError),
			"metric query failed for %v", failed).WithCause(err)
	}

	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i]["resource_id"]) < fmt.Sprint(out[j]["resource_id"])
	})
	h.logger.Debug("metrics queried",
		zap.String("metric", metric),
		zap.Int("resources", len(out)),
	)
	return out, calls, nil
}

func (h *QueryMetric) query(ctx context.Context, provider cloud.Provider, service, resourceID, metric string, start, end time.Time) (map[string]any, orchestrate.APICall, error) {
	began := time.Now()
	series, err := provider.QueryMetric(ctx, cloud.MetricRequest{
		Service:    service,
		ResourceID: resourceID,
		Metric:     metric,
		Start:      start,
		End:        end,
	})
	call := callRecord(provider.Name(), service, "query_metric", map[string]any{
		"resource_id": resourceID, "metric": metric,
	}, began, err)
	if err != nil {
		return nil, call, err
	}
	return seriesToMap(series), call, nil
}

func seriesToMap(series *cloud.MetricSeries) map[string]any {
	points := make([]map[string]any, 0, len(series.Points))
	var sum, maxV, minV, last float64
	for i, p := range series.Points {
		points = append(points, map[string]any{
			"timestamp": p.Timestamp,
			"value":     p.Value,
		})
		sum += p.Value
		last = p.Value
		if i == 0 || p.Value > maxV {
			maxV = p.Value
		}
		if i == 0 || p.Value < minV {
			minV = p.Value
		}
	}

	stats := map[string]any{"count": len(series.Points)}
	if len(series.Points) > 0 {
		stats["avg"] = sum / float64(len(series.Points))
		stats["max"] = maxV
		stats["min"] = minV
		stats["last"] = last
	}

	return map[string]any{
		"resource_id": series.ResourceID,
		"metric":      series.Metric,
		"unit":        series.Unit,
		"points":      points,
		"stats":       stats,
	}
}
