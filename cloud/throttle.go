package cloud

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/BaSui01/opsflow/types"
)

// Throttled wraps a Provider with a client-side rate limiter so the
// engine never exceeds a platform's API quota. Calls wait for a token;
// a wait cut short by the caller's context is reported as cancellation,
// a wait that cannot finish within the deadline as throttling.
type Throttled struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewThrottled wraps inner, allowing rps requests per second with the
// given burst. Non-positive values disable throttling for that knob.
func NewThrottled(inner Provider, rps float64, burst int) *Throttled {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (t *Throttled) Name() string { return t.inner.Name() }

func (t *Throttled) ListResources(ctx context.Context, req ListRequest) ([]Resource, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.ListResources(ctx, req)
}

func (t *Throttled) QueryMetric(ctx context.Context, req MetricRequest) (*MetricSeries, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.QueryMetric(ctx, req)
}

func (t *Throttled) RunAction(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.RunAction(ctx, req)
}

func (t *Throttled) wait(ctx context.Context) error {
	err := t.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrCancelled, "rate limit wait interrupted").
			WithProvider(t.inner.Name()).
			WithCause(err)
	}
	return types.NewError(types.ErrThrottled, "client-side rate limit exceeded").
		WithProvider(t.inner.Name()).
		WithCause(err)
}
