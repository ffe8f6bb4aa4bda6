package persistence

import (
	"context"
	"sort"
	"time"

	"github.com/BaSui01/opsflow/orchestrate"
)

// Backend selects a run store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendRedis    Backend = "redis"
	BackendDatabase Backend = "database"
)

// RedisConfig connects a RedisRunStore.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DatabaseConfig connects a GormRunStore.
type DatabaseConfig struct {
	// Driver is one of postgres, mysql, sqlite.
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`

	// Connection pool limits. Zero values leave the driver defaults
	// untouched.
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// RetentionConfig controls automatic purging of terminal runs.
type RetentionConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	MaxAge   time.Duration `json:"max_age" yaml:"max_age"`
}

// Config selects and tunes a run store backend.
type Config struct {
	Backend   Backend         `json:"backend" yaml:"backend"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Retention RetentionConfig `json:"retention" yaml:"retention"`
}

// DefaultConfig returns an in-memory store with week-long retention.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "opsflow:",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file::memory:?cache=shared",
		},
		Retention: RetentionConfig{
			Enabled:  true,
			Interval: 1 * time.Hour,
			MaxAge:   7 * 24 * time.Hour,
		},
	}
}

// RunStatus is the lifecycle state of a persisted run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// RunRecord is one persisted execution: the request that triggered it, the
// plan the planner produced, and the execution result. Plan and Result are
// snapshots; they are not mutated after the run finishes.
type RunRecord struct {
	ID         string              `json:"id"`
	Request    string              `json:"request,omitempty"`
	PlanSource string              `json:"plan_source,omitempty"`
	Plan       *orchestrate.Plan   `json:"plan,omitempty"`
	Status     RunStatus           `json:"status"`
	Result     *orchestrate.Result `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
	Labels     map[string]string   `json:"labels,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, or the time since creation while
// the run is still in flight.
func (r *RunRecord) Duration() time.Duration {
	if r.CreatedAt.IsZero() {
		return 0
	}
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.CreatedAt)
	}
	return time.Since(r.CreatedAt)
}

// RunFilter narrows ListRuns results. Zero values mean "any".
type RunFilter struct {
	Status        []RunStatus `json:"status,omitempty"`
	PlanSource    string      `json:"plan_source,omitempty"`
	CreatedAfter  *time.Time  `json:"created_after,omitempty"`
	CreatedBefore *time.Time  `json:"created_before,omitempty"`
	Limit         int         `json:"limit,omitempty"`
	Offset        int         `json:"offset,omitempty"`
	OrderDesc     bool        `json:"order_desc,omitempty"`
}

// matches reports whether a record satisfies every set filter field.
func (f RunFilter) matches(r *RunRecord) bool {
	if len(f.Status) > 0 {
		found := false
		for _, st := range f.Status {
			if r.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PlanSource != "" && r.PlanSource != f.PlanSource {
		return false
	}
	if f.CreatedAfter != nil && r.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && r.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

// page applies the filter's offset and limit to an already-sorted slice.
func (f RunFilter) page(records []*RunRecord) []*RunRecord {
	if f.Offset > 0 {
		if f.Offset >= len(records) {
			return []*RunRecord{}
		}
		records = records[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(records) {
		records = records[:f.Limit]
	}
	return records
}

// sortRuns orders records by creation time, ties broken by id so paging is
// deterministic.
func sortRuns(records []*RunRecord, desc bool) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		less := a.CreatedAt.Before(b.CreatedAt)
		if a.CreatedAt.Equal(b.CreatedAt) {
			less = a.ID < b.ID
		}
		if desc {
			return !less
		}
		return less
	})
}

// StoreStats summarizes stored run history. Backends fill the fields they
// can compute cheaply; AverageDuration comes from the memory and database
// backends only.
type StoreStats struct {
	TotalRuns        int64               `json:"total_runs"`
	StatusCounts     map[RunStatus]int64 `json:"status_counts"`
	AverageDuration  time.Duration       `json:"average_duration"`
	OldestRunningAge time.Duration       `json:"oldest_running_age"`
}

// RunStore persists run history. Implementations are safe for concurrent
// use. Errors carry types.ErrorCode: misses are NOT_FOUND, backend failures
// are STORAGE_ERROR.
type RunStore interface {
	// SaveRun creates or replaces a run record. A missing ID is filled in
	// and timestamps are maintained on every save.
	SaveRun(ctx context.Context, record *RunRecord) error

	// GetRun retrieves a run by id.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns runs matching the filter, ordered by creation time.
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)

	// DeleteRun removes a run by id.
	DeleteRun(ctx context.Context, id string) error

	// PurgeOlderThan deletes terminal runs created more than olderThan ago
	// and returns how many were removed. In-flight runs are never purged.
	PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats summarizes stored history.
	Stats(ctx context.Context) (*StoreStats, error)

	// Ping checks backend health.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
