package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/opsflow/cloud"
	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/types"
)

// ListResources enumerates resources across one or all registered
// providers. Parameters:
//
//	provider  optional provider name; fan out to all when omitted
//	service   required service name ("compute", "storage", ...)
//	region    optional region filter
//	filters   optional tag filters
//	limit     optional per-provider cap
//
// Output: []map with one entry per resource, each carrying a
// "provider" key alongside the resource fields.
type ListResources struct {
	providers *cloud.Registry
	logger    *zap.Logger
}

func NewListResources(providers *cloud.Registry, logger *zap.Logger) *ListResources {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListResources{providers: providers, logger: logger}
}

func (h *ListResources) Kind() orchestrate.StepKind { return orchestrate.KindListResources }

func (h *ListResources) Handle(ctx context.Context, step orchestrate.Step, _ *orchestrate.ExecutionContext) (any, []orchestrate.APICall, error) {
	service, err := stringParam(step.Parameters, "service")
	if err != nil {
		return nil, nil, err
	}

	req := cloud.ListRequest{
		Service: service,
		Region:  optStringParam(step.Parameters, "region", ""),
		Filters: optStringMapParam(step.Parameters, "filters"),
		Limit:   optIntParam(step.Parameters, "limit", 0),
	}

	names := h.providers.Names()
	if name := optStringParam(step.Parameters, "provider", ""); name != "" {
		names = []string{name}
	}
	if len(names) == 0 {
		return nil, nil, types.NewError(types.ErrInvalidRequest, "no cloud providers registered")
	}

	type shard struct {
		provider  string
		resources []cloud.Resource
		call      orchestrate.APICall
	}

	var (
		mu     sync.Mutex
		shards []shard
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			provider, err := h.providers.Get(name)
			if err != nil {
				return err
			}

			start := time.Now()
			resources, err := provider.ListResources(gctx, req)
			call := callRecord(name, service, "list_resources", map[string]any{
				"region": req.Region, "limit": req.Limit,
			}, start, err)

			mu.Lock()
			shards = append(shards, shard{provider: name, resources: resources, call: call})
			mu.Unlock()
			return err
		})
	}

	groupErr := g.Wait()

	sort.Slice(shards, func(i, j int) bool { return shards[i].provider < shards[j].provider })
	calls := make([]orchestrate.APICall, 0, len(shards))
	out := make([]map[string]any, 0)
	for _, s := range shards {
		calls = append(calls, s.call)
		for _, res := range s.resources {
			out = append(out, resourceToMap(s.provider, res))
		}
	}

	if groupErr != nil {
		// Partial shards are discarded; the call trace still shows which
		// provider failed.
		return nil, calls, groupErr
	}

	h.logger.Debug("resources listed",
		zap.String("service", service),
		zap.Int("providers", len(names)),
		zap.Int("resources", len(out)),
	)
	return out, calls, nil
}

func resourceToMap(provider string, res cloud.Resource) map[string]any {
	m := map[string]any{
		"provider": provider,
		"id":       res.ID,
		"name":     res.Name,
		"type":     res.Type,
	}
	if res.Region != "" {
		m["region"] = res.Region
	}
	if res.State != "" {
		m["state"] = res.State
	}
	if len(res.Tags) > 0 {
		tags := make(map[string]any, len(res.Tags))
		for k, v := range res.Tags {
			tags[k] = v
		}
		m["tags"] = tags
	}
	if len(res.Attributes) > 0 {
		m["attributes"] = res.Attributes
	}
	return m
}
