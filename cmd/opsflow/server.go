package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihandlers "github.com/BaSui01/opsflow/api/handlers"
	"github.com/BaSui01/opsflow/assistant"
	"github.com/BaSui01/opsflow/circuitbreaker"
	"github.com/BaSui01/opsflow/cloud"
	"github.com/BaSui01/opsflow/cloud/aws"
	"github.com/BaSui01/opsflow/config"
	"github.com/BaSui01/opsflow/handlers"
	"github.com/BaSui01/opsflow/internal/metrics"
	"github.com/BaSui01/opsflow/internal/server"
	"github.com/BaSui01/opsflow/internal/telemetry"
	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/persistence"
	"github.com/BaSui01/opsflow/retryloop"
	"github.com/BaSui01/opsflow/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 OpsFlow 的主服务器：持有全部组件并管理其生命周期。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager *server.Manager

	// Handlers
	healthHandler   *apihandlers.HealthHandler
	runsHandler     *apihandlers.RunsHandler
	breakersHandler *apihandlers.BreakersHandler

	// 核心组件
	store     persistence.RunStore
	breakers  *circuitbreaker.Registry
	providers *cloud.Registry
	assistant *assistant.Assistant

	// 指标与遥测
	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 构建并启动所有组件
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("opsflow", s.logger)

	// 2. 初始化运行历史存储
	if err := s.initStore(); err != nil {
		return fmt.Errorf("failed to init run store: %w", err)
	}

	// 3. 初始化熔断器注册表
	s.breakers = buildBreakerRegistry(s.cfg, s.metricsCollector, s.logger)

	// 4. 初始化云厂商注册表
	providers, err := buildProviderRegistry(context.Background(), s.cfg, s.breakers, s.logger)
	if err != nil {
		return fmt.Errorf("failed to init cloud providers: %w", err)
	}
	s.providers = providers

	// 5. 初始化助手（步骤处理器注册表 + 执行器）
	if err := s.initAssistant(); err != nil {
		return fmt.Errorf("failed to init assistant: %w", err)
	}

	// 6. 初始化 HTTP handlers
	s.initHandlers()

	// 7. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("OpsFlow started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.String("store_backend", string(storeBackend(s.cfg))),
		zap.Strings("providers", s.providers.Names()),
		zap.Bool("auth_enabled", s.cfg.Auth.Enabled),
	)

	return nil
}

// =============================================================================
// 🔧 组件构建
// =============================================================================

// storeBackend 归一 Store.Backend，空值按 memory 处理。
func storeBackend(cfg *config.Config) persistence.Backend {
	if cfg.Store.Backend == "" {
		return persistence.BackendMemory
	}
	return persistence.Backend(cfg.Store.Backend)
}

// initStore 按配置选择运行历史存储后端
func (s *Server) initStore() error {
	storeCfg := persistence.Config{
		Backend: storeBackend(s.cfg),
		Redis: persistence.RedisConfig{
			Addr:      s.cfg.Redis.Addr,
			Password:  s.cfg.Redis.Password,
			DB:        s.cfg.Redis.DB,
			PoolSize:  s.cfg.Redis.PoolSize,
			KeyPrefix: s.cfg.Redis.KeyPrefix,
		},
		Database: persistence.DatabaseConfig{
			Driver:          s.cfg.Database.Driver,
			DSN:             s.cfg.Database.DSN(),
			MaxOpenConns:    s.cfg.Database.MaxOpenConns,
			MaxIdleConns:    s.cfg.Database.MaxIdleConns,
			ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
		},
		Retention: persistence.RetentionConfig{
			Enabled:  s.cfg.Store.Retention.Enabled,
			Interval: s.cfg.Store.Retention.Interval,
			MaxAge:   s.cfg.Store.Retention.MaxAge,
		},
	}

	store, err := persistence.NewRunStore(storeCfg, s.logger)
	if err != nil {
		return err
	}
	s.store = store
	return nil
}

// initAssistant 组装处理器注册表与助手
func (s *Server) initAssistant() error {
	registry, err := buildHandlerRegistry(s.cfg, s.metricsCollector, s.providers, s.logger)
	if err != nil {
		return err
	}

	a, err := assistant.New(assistant.Options{
		Planner:     assistant.NewStaticPlanner(),
		Handlers:    registry,
		Providers:   s.providers,
		Breakers:    s.breakers,
		Store:       s.store,
		Metrics:     s.metricsCollector,
		MaxParallel: s.cfg.Orchestrator.MaxParallel,
		Logger:      s.logger,
	})
	if err != nil {
		return err
	}
	s.assistant = a
	return nil
}

// initHandlers 初始化所有 HTTP handlers 并登记健康检查
func (s *Server) initHandlers() {
	s.healthHandler = apihandlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(apihandlers.NewPingCheck("store", s.store.Ping))
	s.healthHandler.RegisterCheck(apihandlers.NewReadyFunc("server",
		func() bool { return s.httpManager != nil && s.httpManager.Ready() },
		fmt.Errorf("http server not started"),
	))

	s.runsHandler = apihandlers.NewRunsHandler(s.assistant, s.store, s.logger)
	s.breakersHandler = apihandlers.NewBreakersHandler(s.breakers, s.logger)
}

// buildBreakerRegistry 按配置构建熔断器注册表；collector 非空时
// 挂接状态变更与拒绝计数指标。
func buildBreakerRegistry(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) *circuitbreaker.Registry {
	reg := circuitbreaker.NewRegistry(breakerConfig(cfg.Breakers.Default, collector), logger)
	for name, override := range cfg.Breakers.Overrides {
		reg.Configure(name, breakerConfig(override, collector))
	}
	return reg
}

func breakerConfig(bc config.BreakerConfig, collector *metrics.Collector) circuitbreaker.Config {
	out := circuitbreaker.Config{
		FailureThreshold: bc.FailureThreshold,
		SuccessThreshold: bc.SuccessThreshold,
		Timeout:          bc.Timeout,
		HalfOpenMaxCalls: bc.HalfOpenMaxCalls,
	}
	for _, code := range bc.ExcludedCodes {
		out.ExcludedCodes = append(out.ExcludedCodes, types.ErrorCode(code))
	}
	if collector != nil {
		out.OnStateChange = func(name string, from, to circuitbreaker.State) {
			collector.RecordBreakerTransition(name, from.String(), to.String())
		}
		out.OnReject = collector.RecordBreakerRejection
	}
	return out
}

// buildProviderRegistry 注册启用的云厂商。每个厂商套两层防护：
// 客户端侧限流（cloud.Throttled）与以厂商名命名的熔断器（cloud.Protected）。
func buildProviderRegistry(ctx context.Context, cfg *config.Config, breakers *circuitbreaker.Registry, logger *zap.Logger) (*cloud.Registry, error) {
	reg := cloud.NewProviderRegistry(logger)

	wrap := func(p cloud.Provider) cloud.Provider {
		throttled := cloud.NewThrottled(p, cfg.Cloud.RateLimitRPS, cfg.Cloud.RateLimitBurst)
		return cloud.NewProtected(throttled, breakers.GetOrCreate(p.Name()))
	}

	if cfg.Cloud.Fake.Enabled {
		// 预置演示机群，开箱即可执行示例计划
		fake := cloud.NewFake("fake")
		cloud.SeedDemoFleet(fake)
		if err := reg.Register(wrap(fake)); err != nil {
			return nil, err
		}
	}

	if cfg.Cloud.AWS.Enabled {
		p, err := aws.New(ctx, aws.Config{
			Endpoint:        cfg.Cloud.AWS.Endpoint,
			Region:          cfg.Cloud.AWS.Region,
			Bucket:          cfg.Cloud.AWS.Bucket,
			AccessKeyID:     cfg.Cloud.AWS.AccessKeyID,
			SecretAccessKey: cfg.Cloud.AWS.SecretAccessKey,
			UseSSL:          cfg.Cloud.AWS.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(wrap(p)); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// buildHandlerRegistry 注册全部内置步骤处理器。未配置生成器时
// generate_validate 步骤按处理器内的降级路径逐步报错，而非启动失败。
func buildHandlerRegistry(cfg *config.Config, collector *metrics.Collector, providers *cloud.Registry, logger *zap.Logger) (*orchestrate.Registry, error) {
	retryCfg := retryloop.DefaultConfig()
	if cfg.RetryLoop.MaxIterations > 0 {
		retryCfg.MaxIterations = cfg.RetryLoop.MaxIterations
	}

	deps := handlers.Deps{
		Providers: providers,
		Retry:     retryCfg,
		Logger:    logger,
	}
	if collector != nil {
		deps.Recorder = collector
	}

	registry := orchestrate.NewRegistry(logger)
	if err := handlers.RegisterAll(registry, deps); err != nil {
		return nil, err
	}
	return registry, nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 注册路由、组装中间件链并启动监听
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查与运维端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("/metrics", promhttp.Handler())

	// ========================================
	// API 路由
	// ========================================
	executeHandler := http.HandlerFunc(s.runsHandler.HandleExecute)
	if t := s.cfg.Orchestrator.PlanTimeout; t > 0 {
		executeHandler = withRequestTimeout(t, executeHandler)
	}
	mux.Handle("/api/v1/plans/execute", executeHandler)
	mux.HandleFunc("/api/v1/plans/validate", s.runsHandler.HandleValidate)
	mux.HandleFunc("/api/v1/runs", s.runsHandler.HandleRuns)
	mux.HandleFunc("/api/v1/runs/", s.runsHandler.HandleRunByID)
	mux.HandleFunc("/api/v1/stats", s.runsHandler.HandleStats)
	mux.HandleFunc("/api/v1/describe", s.runsHandler.HandleDescribe)
	mux.HandleFunc("/api/v1/breakers", s.breakersHandler.HandleBreakers)
	mux.HandleFunc("/api/v1/breakers/", s.breakersHandler.HandleBreakerAction)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.AllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Auth(s.cfg.Auth, skipAuthPaths, s.logger),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// withRequestTimeout 给请求上下文加执行上限；请求体内显式指定的
// 更短超时仍然叠加生效。
func withRequestTimeout(d time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有组件
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭运行历史存储
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Run store shutdown error", zap.Error(err))
		}
	}

	// 4. 刷出遥测数据
	if s.otelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.otelProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	s.logger.Info("Graceful shutdown completed")
}
