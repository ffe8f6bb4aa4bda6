package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/types"
)

// MemoryRunStore keeps run history in process memory. It is the development
// and test default; history is lost on restart.
type MemoryRunStore struct {
	mu     sync.RWMutex
	runs   map[string]*RunRecord
	logger *zap.Logger
	closed bool
	stop   chan struct{}
}

// NewMemoryRunStore creates an in-memory run store. When retention is
// enabled a background loop purges old terminal runs at the configured
// interval until Close.
func NewMemoryRunStore(cfg Config, logger *zap.Logger) *MemoryRunStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryRunStore{
		runs:   make(map[string]*RunRecord),
		logger: logger.With(zap.String("component", "run_store"), zap.String("backend", "memory")),
		stop:   make(chan struct{}),
	}
	if cfg.Retention.Enabled && cfg.Retention.Interval > 0 {
		go s.retentionLoop(cfg.Retention)
	}
	return s
}

func (s *MemoryRunStore) SaveRun(ctx context.Context, record *RunRecord) error {
	if record == nil {
		return types.NewError(types.ErrValidationFailed, "run record must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrUnavailable, "run store is closed")
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	// Detach the stored header from the caller's copy. Plan and Result are
	// snapshots and shared as-is.
	cp := *record
	s.runs[cp.ID] = &cp
	return nil
}

func (s *MemoryRunStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.NewError(types.ErrUnavailable, "run store is closed")
	}
	rec, ok := s.runs[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "run %q not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.NewError(types.ErrUnavailable, "run store is closed")
	}

	result := make([]*RunRecord, 0)
	for _, rec := range s.runs {
		if filter.matches(rec) {
			cp := *rec
			result = append(result, &cp)
		}
	}
	sortRuns(result, filter.OrderDesc)
	return filter.page(result), nil
}

func (s *MemoryRunStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrUnavailable, "run store is closed")
	}
	if _, ok := s.runs[id]; !ok {
		return types.NewErrorf(types.ErrNotFound, "run %q not found", id)
	}
	delete(s.runs, id)
	return nil
}

func (s *MemoryRunStore) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, types.NewError(types.ErrUnavailable, "run store is closed")
	}

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for id, rec := range s.runs {
		if !rec.Status.IsTerminal() {
			continue
		}
		if rec.CreatedAt.Before(cutoff) {
			delete(s.runs, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryRunStore) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.NewError(types.ErrUnavailable, "run store is closed")
	}

	stats := &StoreStats{StatusCounts: make(map[RunStatus]int64)}
	var oldestRunning time.Time
	var totalDuration time.Duration
	var finished int64

	for _, rec := range s.runs {
		stats.TotalRuns++
		stats.StatusCounts[rec.Status]++

		switch {
		case rec.Status == RunRunning:
			if oldestRunning.IsZero() || rec.CreatedAt.Before(oldestRunning) {
				oldestRunning = rec.CreatedAt
			}
		case rec.FinishedAt != nil:
			totalDuration += rec.FinishedAt.Sub(rec.CreatedAt)
			finished++
		}
	}

	if !oldestRunning.IsZero() {
		stats.OldestRunningAge = time.Since(oldestRunning)
	}
	if finished > 0 {
		stats.AverageDuration = totalDuration / time.Duration(finished)
	}
	return stats, nil
}

func (s *MemoryRunStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.NewError(types.ErrUnavailable, "run store is closed")
	}
	return nil
}

func (s *MemoryRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stop)
	return nil
}

func (s *MemoryRunStore) retentionLoop(cfg RetentionConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			purged, err := s.PurgeOlderThan(context.Background(), cfg.MaxAge)
			if err != nil {
				return
			}
			if purged > 0 {
				s.logger.Debug("purged old runs", zap.Int("count", purged))
			}
		}
	}
}

var _ RunStore = (*MemoryRunStore)(nil)
