// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 8, cfg.Orchestrator.MaxParallel)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

orchestrator:
  max_parallel: 16
  plan_timeout: 2m

breakers:
  default:
    failure_threshold: 10
    timeout: 30s
  overrides:
    aws:
      failure_threshold: 3
      excluded_codes: [NOT_FOUND, INVALID_REQUEST]

retry_loop:
  max_iterations: 5

store:
  backend: redis
  retention:
    enabled: false

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 16, cfg.Orchestrator.MaxParallel)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.PlanTimeout)

	assert.Equal(t, 10, cfg.Breakers.Default.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breakers.Default.Timeout)
	require.Contains(t, cfg.Breakers.Overrides, "aws")
	assert.Equal(t, 3, cfg.Breakers.Overrides["aws"].FailureThreshold)
	assert.Equal(t, []string{"NOT_FOUND", "INVALID_REQUEST"}, cfg.Breakers.Overrides["aws"].ExcludedCodes)

	assert.Equal(t, 5, cfg.RetryLoop.MaxIterations)

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.False(t, cfg.Store.Retention.Enabled)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	// 设置环境变量
	envVars := map[string]string{
		"OPSFLOW_SERVER_HTTP_PORT":                     "7777",
		"OPSFLOW_ORCHESTRATOR_MAX_PARALLEL":            "4",
		"OPSFLOW_ORCHESTRATOR_PLAN_TIMEOUT":            "90s",
		"OPSFLOW_BREAKERS_DEFAULT_FAILURE_THRESHOLD":   "7",
		"OPSFLOW_BREAKERS_DEFAULT_EXCLUDED_CODES":      "NOT_FOUND, PERMISSION_DENIED",
		"OPSFLOW_RETRY_LOOP_MAX_ITERATIONS":            "9",
		"OPSFLOW_CLOUD_AWS_ENABLED":                    "true",
		"OPSFLOW_CLOUD_AWS_BUCKET":                     "ops-artifacts",
		"OPSFLOW_STORE_BACKEND":                        "database",
		"OPSFLOW_REDIS_ADDR":                           "env-redis:6379",
		"OPSFLOW_LOG_LEVEL":                            "warn",
	}

	// 设置环境变量
	for k, v := range envVars {
		os.Setenv(k, v)
	}
	// 清理环境变量
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	// 加载配置
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	// 验证环境变量覆盖了默认值
	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 4, cfg.Orchestrator.MaxParallel)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.PlanTimeout)
	assert.Equal(t, 7, cfg.Breakers.Default.FailureThreshold)
	assert.Equal(t, []string{"NOT_FOUND", "PERMISSION_DENIED"}, cfg.Breakers.Default.ExcludedCodes)
	assert.Equal(t, 9, cfg.RetryLoop.MaxIterations)
	assert.True(t, cfg.Cloud.AWS.Enabled)
	assert.Equal(t, "ops-artifacts", cfg.Cloud.AWS.Bucket)
	assert.Equal(t, "database", cfg.Store.Backend)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
store:
  backend: redis
redis:
  addr: "yaml-redis:6379"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 设置环境变量（应该覆盖 YAML）
	os.Setenv("OPSFLOW_SERVER_HTTP_PORT", "9999")
	os.Setenv("OPSFLOW_STORE_BACKEND", "memory")
	defer func() {
		os.Unsetenv("OPSFLOW_SERVER_HTTP_PORT")
		os.Unsetenv("OPSFLOW_STORE_BACKEND")
	}()

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 环境变量应该覆盖 YAML
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Store.Backend)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, "yaml-redis:6379", cfg.Redis.Addr)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	// 设置自定义前缀的环境变量
	os.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	os.Setenv("MYAPP_LOG_LEVEL", "error")
	defer func() {
		os.Unsetenv("MYAPP_SERVER_HTTP_PORT")
		os.Unsetenv("MYAPP_LOG_LEVEL")
	}()

	// 使用自定义前缀加载
	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoader_WithValidator(t *testing.T) {
	// 添加验证器
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	// 设置无效端口
	os.Setenv("OPSFLOW_SERVER_HTTP_PORT", "80")
	defer os.Unsetenv("OPSFLOW_SERVER_HTTP_PORT")

	// 加载应该失败
	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// 应该返回默认值
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	// 创建无效的 YAML 文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	// 加载应该失败
	_, err = NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid HTTP port (negative)",
			modify: func(c *Config) {
				c.Server.HTTPPort = -1
			},
			wantErr: true,
		},
		{
			name: "invalid HTTP port (too large)",
			modify: func(c *Config) {
				c.Server.HTTPPort = 70000
			},
			wantErr: true,
		},
		{
			name: "negative max parallel",
			modify: func(c *Config) {
				c.Orchestrator.MaxParallel = -1
			},
			wantErr: true,
		},
		{
			name: "zero max parallel is unbounded, not invalid",
			modify: func(c *Config) {
				c.Orchestrator.MaxParallel = 0
			},
			wantErr: false,
		},
		{
			name: "zero retry iterations",
			modify: func(c *Config) {
				c.RetryLoop.MaxIterations = 0
			},
			wantErr: true,
		},
		{
			name: "zero breaker failure threshold",
			modify: func(c *Config) {
				c.Breakers.Default.FailureThreshold = 0
			},
			wantErr: true,
		},
		{
			name: "unknown store backend",
			modify: func(c *Config) {
				c.Store.Backend = "etcd"
			},
			wantErr: true,
		},
		{
			name: "empty store backend means memory",
			modify: func(c *Config) {
				c.Store.Backend = ""
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name: "sqlite DSN",
			config: DatabaseConfig{
				Driver: "sqlite",
				Name:   "/path/to/db.sqlite",
			},
			expected: "/path/to/db.sqlite",
		},
		{
			name: "unknown driver",
			config: DatabaseConfig{
				Driver: "unknown",
			},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	// 创建有效配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8080
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 不应该 panic
	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	// 创建无效配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0644)
	require.NoError(t, err)

	// 应该 panic
	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	os.Setenv("OPSFLOW_TELEMETRY_SERVICE_NAME", "opsflow-staging")
	defer os.Unsetenv("OPSFLOW_TELEMETRY_SERVICE_NAME")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "opsflow-staging", cfg.Telemetry.ServiceName)
}
