package circuitbreaker

import "context"

// ExecuteTyped is a type-safe generic wrapper around CircuitBreaker.Execute.
// It eliminates the need for type assertions on the return value.
//
// Usage:
//
//	val, err := circuitbreaker.ExecuteTyped[int](cb, ctx, func(ctx context.Context) (int, error) {
//	    return 42, nil
//	})
func ExecuteTyped[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	result, err := cb.Execute(ctx, func(c context.Context) (any, error) {
		return fn(c)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
