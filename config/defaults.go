// =============================================================================
// 📦 OpsFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Breakers:     DefaultBreakersConfig(),
		RetryLoop:    DefaultRetryLoopConfig(),
		Cloud:        DefaultCloudConfig(),
		Store:        DefaultStoreConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
		Auth:         DefaultAuthConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultOrchestratorConfig 返回默认执行器配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxParallel: 8,
		PlanTimeout: 5 * time.Minute,
	}
}

// DefaultBreakersConfig 返回默认熔断器配置
func DefaultBreakersConfig() BreakersConfig {
	return BreakersConfig{
		Default: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          60 * time.Second,
			HalfOpenMaxCalls: 3,
		},
		Overrides: map[string]BreakerConfig{},
	}
}

// DefaultRetryLoopConfig 返回默认重试循环配置
func DefaultRetryLoopConfig() RetryLoopConfig {
	return RetryLoopConfig{
		MaxIterations: 3,
	}
}

// DefaultCloudConfig 返回默认云厂商配置
func DefaultCloudConfig() CloudConfig {
	return CloudConfig{
		Fake:           FakeProviderConfig{Enabled: true},
		AWS:            AWSProviderConfig{Enabled: false, Region: "us-east-1"},
		RateLimitRPS:   50,
		RateLimitBurst: 100,
	}
}

// DefaultStoreConfig 返回默认运行历史存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend: "memory",
		Retention: RetentionConfig{
			Enabled:  true,
			Interval: 1 * time.Hour,
			MaxAge:   7 * 24 * time.Hour,
		},
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "opsflow:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "opsflow",
		Password:        "",
		Name:            "opsflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "opsflow",
		SampleRate:   0.1,
	}
}

// DefaultAuthConfig 返回默认认证配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled: false,
	}
}
