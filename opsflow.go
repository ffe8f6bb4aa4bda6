// Package opsflow provides a top-level convenience entry point for building
// a plan-executing assistant with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/opsflow"
//
//	a, err := opsflow.New(opsflow.WithFakeProvider())
//	rec, err := a.HandleRequest(ctx, assistant.Request{Plan: plan})
//
// Every registered provider is wrapped with a circuit breaker from a shared
// registry, so the resulting assistant carries the same resilience semantics
// as a fully configured server. For anything beyond defaults (persistence
// backends, rate limits, telemetry) assemble the components directly the way
// cmd/opsflow does.
package opsflow

import (
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/assistant"
	"github.com/BaSui01/opsflow/circuitbreaker"
	"github.com/BaSui01/opsflow/cloud"
	"github.com/BaSui01/opsflow/handlers"
	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/persistence"
	"github.com/BaSui01/opsflow/retryloop"
)

// Version is the library release tag. The opsflow binary reports its own
// build version injected at link time; this constant tracks the module.
const Version = "0.1.0"

// Option configures the assistant created by [New].
type Option func(*options)

type options struct {
	providers   []cloud.Provider
	planner     assistant.Planner
	generator   handlers.Generator
	listener    orchestrate.Listener
	store       persistence.RunStore
	memoryStore bool
	maxParallel int
	retry       retryloop.Config
	breakers    circuitbreaker.Config
	logger      *zap.Logger
}

// WithProvider registers a cloud provider. May be given multiple times.
func WithProvider(p cloud.Provider) Option {
	return func(o *options) { o.providers = append(o.providers, p) }
}

// WithFakeProvider registers the in-memory fake provider preloaded with a
// small demo fleet. Handy for demos and tests that need no real cloud.
func WithFakeProvider() Option {
	return func(o *options) {
		f := cloud.NewFake("fake")
		cloud.SeedDemoFleet(f)
		o.providers = append(o.providers, f)
	}
}

// WithPlanner sets the planner used for named-plan requests.
func WithPlanner(p assistant.Planner) Option {
	return func(o *options) { o.planner = p }
}

// WithGenerator enables the generate_validate step kind.
func WithGenerator(g handlers.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithListener streams execution progress events to fn.
func WithListener(fn orchestrate.Listener) Option {
	return func(o *options) { o.listener = fn }
}

// WithStore persists run records to s.
func WithStore(s persistence.RunStore) Option {
	return func(o *options) { o.store = s }
}

// WithMemoryStore persists run records in memory, with default retention.
func WithMemoryStore() Option {
	return func(o *options) { o.memoryStore = true }
}

// WithMaxParallel caps concurrent steps per execution.
func WithMaxParallel(n int) Option {
	return func(o *options) { o.maxParallel = n }
}

// WithRetryConfig tunes the bounded retry loop behind generate_validate.
func WithRetryConfig(cfg retryloop.Config) Option {
	return func(o *options) { o.retry = cfg }
}

// WithBreakerDefaults overrides the default circuit breaker settings
// applied to every provider.
func WithBreakerDefaults(cfg circuitbreaker.Config) Option {
	return func(o *options) { o.breakers = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New assembles a ready-to-use assistant: a handler registry covering every
// built-in step kind, a circuit breaker per provider, and optional run
// persistence. An assistant without providers is still valid — data-shaping
// steps (filter, aggregate, analyze, format) work on plan context alone.
func New(opts ...Option) (*assistant.Assistant, error) {
	o := &options{
		retry:    retryloop.DefaultConfig(),
		breakers: circuitbreaker.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	breakers := circuitbreaker.NewRegistry(o.breakers, logger)

	providers := cloud.NewProviderRegistry(logger)
	for _, p := range o.providers {
		protected := cloud.NewProtected(p, breakers.GetOrCreate(p.Name()))
		if err := providers.Register(protected); err != nil {
			return nil, err
		}
	}

	registry := orchestrate.NewRegistry(logger)
	err := handlers.RegisterAll(registry, handlers.Deps{
		Providers: providers,
		Generator: o.generator,
		Retry:     o.retry,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	store := o.store
	if store == nil && o.memoryStore {
		store = persistence.NewMemoryRunStore(persistence.DefaultConfig(), logger)
	}

	return assistant.New(assistant.Options{
		Planner:     o.planner,
		Handlers:    registry,
		Providers:   providers,
		Breakers:    breakers,
		Store:       store,
		Listener:    o.listener,
		MaxParallel: o.maxParallel,
		Logger:      logger,
	})
}
