package persistence

import (
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/types"
)

// NewRunStore builds the run store selected by cfg.Backend. An empty
// backend means memory.
func NewRunStore(cfg Config, logger *zap.Logger) (RunStore, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryRunStore(cfg, logger), nil
	case BackendRedis:
		return NewRedisRunStore(cfg.Redis, logger)
	case BackendDatabase:
		return NewGormRunStore(cfg.Database, logger)
	default:
		return nil, types.NewErrorf(types.ErrValidationFailed,
			"unsupported run store backend %q (memory, redis, database)", cfg.Backend)
	}
}
