package persistence

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/types"
)

// RedisRunStore persists run history in Redis for distributed deployments.
// Records are JSON blobs under per-run keys; sorted sets index run ids by
// creation time, globally and per status.
type RedisRunStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisRunStore connects to Redis and verifies the connection.
func NewRedisRunStore(cfg RedisConfig, logger *zap.Logger) (*RedisRunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrUnavailable, "connect to redis").WithCause(err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "opsflow:"
	}
	return &RedisRunStore{
		client:    client,
		keyPrefix: prefix + "run:",
		logger:    logger.With(zap.String("component", "run_store"), zap.String("backend", "redis")),
	}, nil
}

func (s *RedisRunStore) runKey(id string) string {
	return s.keyPrefix + "data:" + id
}

func (s *RedisRunStore) statusKey(status RunStatus) string {
	return s.keyPrefix + "status:" + string(status)
}

func (s *RedisRunStore) allKey() string {
	return s.keyPrefix + "all"
}

func (s *RedisRunStore) SaveRun(ctx context.Context, record *RunRecord) error {
	if record == nil {
		return types.NewError(types.ErrValidationFailed, "run record must not be nil")
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	// Fetch the previous version so a status change moves the id between
	// status indexes.
	old, _ := s.GetRun(ctx, record.ID)

	data, err := json.Marshal(record)
	if err != nil {
		return types.NewError(types.ErrStorage, "marshal run record").WithCause(err)
	}

	score := float64(record.CreatedAt.UnixNano())
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.runKey(record.ID), data, 0)
	if old != nil && old.Status != record.Status {
		pipe.ZRem(ctx, s.statusKey(old.Status), record.ID)
	}
	pipe.ZAdd(ctx, s.statusKey(record.Status), redis.Z{Score: score, Member: record.ID})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: record.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStorage, "save run record").WithCause(err)
	}
	return nil
}

func (s *RedisRunStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err == redis.Nil {
		return nil, types.NewErrorf(types.ErrNotFound, "run %q not found", id)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "get run record").WithCause(err)
	}

	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, types.NewError(types.ErrStorage, "unmarshal run record").WithCause(err)
	}
	return &record, nil
}

func (s *RedisRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	// A single-status filter can read one status index; everything else
	// walks the global index and filters in memory.
	indexKey := s.allKey()
	if len(filter.Status) == 1 {
		indexKey = s.statusKey(filter.Status[0])
	}
	ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "list run ids").WithCause(err)
	}

	result := make([]*RunRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetRun(ctx, id)
		if err != nil {
			continue
		}
		if filter.matches(rec) {
			result = append(result, rec)
		}
	}
	sortRuns(result, filter.OrderDesc)
	return filter.page(result), nil
}

func (s *RedisRunStore) DeleteRun(ctx context.Context, id string) error {
	rec, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.runKey(id))
	pipe.ZRem(ctx, s.allKey(), id)
	pipe.ZRem(ctx, s.statusKey(rec.Status), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStorage, "delete run record").WithCause(err)
	}
	return nil
}

func (s *RedisRunStore) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	count := 0

	for _, status := range []RunStatus{RunSucceeded, RunFailed} {
		ids, err := s.client.ZRangeByScore(ctx, s.statusKey(status), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(cutoff, 10),
		}).Result()
		if err != nil {
			return count, types.NewError(types.ErrStorage, "scan purgeable runs").WithCause(err)
		}
		for _, id := range ids {
			if err := s.DeleteRun(ctx, id); err == nil {
				count++
			}
		}
	}
	return count, nil
}

func (s *RedisRunStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{StatusCounts: make(map[RunStatus]int64)}

	total, err := s.client.ZCard(ctx, s.allKey()).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "count runs").WithCause(err)
	}
	stats.TotalRuns = total

	for _, status := range []RunStatus{RunRunning, RunSucceeded, RunFailed} {
		count, err := s.client.ZCard(ctx, s.statusKey(status)).Result()
		if err != nil {
			return nil, types.NewError(types.ErrStorage, "count runs by status").WithCause(err)
		}
		if count > 0 {
			stats.StatusCounts[status] = count
		}
	}

	oldest, err := s.client.ZRangeWithScores(ctx, s.statusKey(RunRunning), 0, 0).Result()
	if err == nil && len(oldest) > 0 {
		started := time.Unix(0, int64(oldest[0].Score))
		stats.OldestRunningAge = time.Since(started)
	}
	return stats, nil
}

func (s *RedisRunStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return types.NewError(types.ErrUnavailable, "redis ping failed").WithCause(err)
	}
	return nil
}

func (s *RedisRunStore) Close() error {
	return s.client.Close()
}

var _ RunStore = (*RedisRunStore)(nil)
