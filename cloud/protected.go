package cloud

import "context"

// Breaker is the slice of the circuit breaker contract the Protected
// decorator needs; *circuitbreaker.CircuitBreaker satisfies it.
type Breaker interface {
	Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error)
}

// Protected wraps a Provider so every call routes through a circuit
// breaker. While the breaker is open, calls fail fast with CIRCUIT_OPEN
// and never reach the platform; admitted calls feed the breaker's state
// machine with their outcome. The breaker must not be nil.
type Protected struct {
	inner   Provider
	breaker Breaker
}

// NewProtected wraps inner with breaker. One breaker per provider keeps
// an outage on one platform from tripping calls to the others.
func NewProtected(inner Provider, breaker Breaker) *Protected {
	return &Protected{inner: inner, breaker: breaker}
}

func (p *Protected) Name() string { return p.inner.Name() }

func (p *Protected) ListResources(ctx context.Context, req ListRequest) ([]Resource, error) {
	out, err := p.breaker.Execute(ctx, func(c context.Context) (any, error) {
		return p.inner.ListResources(c, req)
	})
	if err != nil {
		return nil, err
	}
	resources, _ := out.([]Resource)
	return resources, nil
}

func (p *Protected) QueryMetric(ctx context.Context, req MetricRequest) (*MetricSeries, error) {
	out, err := p.breaker.Execute(ctx, func(c context.Context) (any, error) {
		return p.inner.QueryMetric(c, req)
	})
	if err != nil {
		return nil, err
	}
	series, _ := out.(*MetricSeries)
	return series, nil
}

func (p *Protected) RunAction(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	out, err := p.breaker.Execute(ctx, func(c context.Context) (any, error) {
		return p.inner.RunAction(c, req)
	})
	if err != nil {
		return nil, err
	}
	result, _ := out.(*ActionResult)
	return result, nil
}
