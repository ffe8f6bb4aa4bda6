package circuitbreaker

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry 按名称管理一组熔断器：每个外部依赖一个实例。
// 通过依赖注入传递，不使用包级单例。
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults Config
	perName  map[string]Config
	logger   *zap.Logger
}

// NewRegistry 创建注册表；defaults 为未单独配置的依赖使用的模板。
func NewRegistry(defaults Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = def.FailureThreshold
	}
	if defaults.SuccessThreshold <= 0 {
		defaults.SuccessThreshold = def.SuccessThreshold
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = def.Timeout
	}
	if defaults.HalfOpenMaxCalls <= 0 {
		defaults.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		perName:  make(map[string]Config),
		logger:   logger,
	}
}

// Configure 为指定名称登记专属配置；在首次 GetOrCreate 前调用生效。
func (r *Registry) Configure(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg.Name = name
	r.perName[name] = cfg
}

// GetOrCreate 获取或创建指定名称的熔断器
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	r.mu.RLock()
	if b, ok := r.breakers[name]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// 双重检查：拿写锁期间可能已被其他 goroutine 创建
	if b, ok := r.breakers[name]; ok {
		return b
	}

	cfg, ok := r.perName[name]
	if !ok {
		cfg = r.defaults
		cfg.Name = name
	}
	b := New(cfg, r.logger)
	r.breakers[name] = b
	r.logger.Debug("circuit breaker created", zap.String("breaker", name))
	return b
}

// Get 获取已存在的熔断器
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Names 返回已创建的熔断器名称（升序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatsAll 返回全部熔断器的统计快照（按名称升序）
func (r *Registry) StatsAll() []Stats {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	stats := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// ResetAll 复位全部熔断器
func (r *Registry) ResetAll() {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	for _, b := range breakers {
		b.Reset()
	}
}
