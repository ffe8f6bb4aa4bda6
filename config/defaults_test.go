package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// Each sub-config should be non-zero
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, OrchestratorConfig{}, cfg.Orchestrator)
	assert.NotEqual(t, BreakerConfig{}, cfg.Breakers.Default)
	assert.NotEqual(t, RetryLoopConfig{}, cfg.RetryLoop)
	assert.NotEqual(t, CloudConfig{}, cfg.Cloud)
	assert.NotEqual(t, StoreConfig{}, cfg.Store)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.InDelta(t, 100, cfg.RateLimitRPS, 0.001)
	assert.Equal(t, 200, cfg.RateLimitBurst)
}

func TestDefaultOrchestratorConfig(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	assert.Equal(t, 8, cfg.MaxParallel)
	assert.Equal(t, 5*time.Minute, cfg.PlanTimeout)
}

func TestDefaultBreakersConfig(t *testing.T) {
	cfg := DefaultBreakersConfig()
	assert.Equal(t, 5, cfg.Default.FailureThreshold)
	assert.Equal(t, 2, cfg.Default.SuccessThreshold)
	assert.Equal(t, 60*time.Second, cfg.Default.Timeout)
	assert.Equal(t, 3, cfg.Default.HalfOpenMaxCalls)
	assert.Empty(t, cfg.Default.ExcludedCodes)
	assert.NotNil(t, cfg.Overrides)
	assert.Empty(t, cfg.Overrides)
}

func TestDefaultRetryLoopConfig(t *testing.T) {
	cfg := DefaultRetryLoopConfig()
	assert.Equal(t, 3, cfg.MaxIterations)
}

func TestDefaultCloudConfig(t *testing.T) {
	cfg := DefaultCloudConfig()
	assert.True(t, cfg.Fake.Enabled)
	assert.False(t, cfg.AWS.Enabled)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.InDelta(t, 50, cfg.RateLimitRPS, 0.001)
	assert.Equal(t, 100, cfg.RateLimitBurst)
}

func TestDefaultStoreConfig(t *testing.T) {
	cfg := DefaultStoreConfig()
	assert.Equal(t, "memory", cfg.Backend)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 1*time.Hour, cfg.Retention.Interval)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.MaxAge)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
	assert.Equal(t, "opsflow:", cfg.KeyPrefix)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "opsflow", cfg.User)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, "opsflow", cfg.Name)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "opsflow", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}

func TestDefaultAuthConfig(t *testing.T) {
	cfg := DefaultAuthConfig()
	assert.False(t, cfg.Enabled)
	assert.Empty(t, cfg.APIKeys)
	assert.Empty(t, cfg.JWTSecret)
}
