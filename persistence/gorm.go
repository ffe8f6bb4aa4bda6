package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/opsflow/internal/database"
	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/types"
)

// saveRetries bounds transaction retries for transient write failures
// (deadlocks, dropped connections) when persisting run records.
const saveRetries = 3

// runRow is the relational shape of a RunRecord. Plan, result and label
// snapshots are stored as serialized JSON text so the schema stays portable
// across postgres, mysql and sqlite.
type runRow struct {
	ID         string     `gorm:"primaryKey;size:64"`
	Status     string     `gorm:"size:16;index"`
	Request    string     `gorm:"type:text"`
	PlanSource string     `gorm:"size:128;index"`
	PlanJSON   string     `gorm:"type:text"`
	ResultJSON string     `gorm:"type:text"`
	LabelsJSON string     `gorm:"type:text"`
	Error      string     `gorm:"type:text"`
	CreatedAt  time.Time  `gorm:"index"`
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

func (runRow) TableName() string { return "runs" }

// GormRunStore persists run history in a relational database via GORM.
type GormRunStore struct {
	db     *gorm.DB
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewGormRunStore opens the configured database, applies the pool limits
// and migrates the runs table.
func NewGormRunStore(cfg DatabaseConfig, logger *zap.Logger) (*GormRunStore, error) {
	dialector, err := openDialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, types.NewError(types.ErrUnavailable, "connect to database").WithCause(err)
	}
	return newGormRunStore(db, database.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
}

// NewGormRunStoreWithDB wraps an existing GORM handle, migrating the runs
// table. The caller's pool tuning is left untouched; use it to share one
// connection pool across components.
func NewGormRunStoreWithDB(db *gorm.DB, logger *zap.Logger) (*GormRunStore, error) {
	return newGormRunStore(db, database.PoolConfig{}, logger)
}

func newGormRunStore(db *gorm.DB, poolCfg database.PoolConfig, logger *zap.Logger) (*GormRunStore, error) {
	if db == nil {
		return nil, types.NewError(types.ErrValidationFailed, "db handle must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&runRow{}); err != nil {
		return nil, types.NewError(types.ErrStorage, "migrate runs table").WithCause(err)
	}
	pool, err := database.NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "configure connection pool").WithCause(err)
	}
	return &GormRunStore{
		db:     db,
		pool:   pool,
		logger: logger.With(zap.String("component", "run_store"), zap.String("backend", "database")),
	}, nil
}

func openDialector(cfg DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, types.NewErrorf(types.ErrValidationFailed,
			"unsupported database driver %q (postgres, mysql, sqlite)", cfg.Driver)
	}
}

func (s *GormRunStore) SaveRun(ctx context.Context, record *RunRecord) error {
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

	row, err := toRow(record)
	if err != nil {
		return err
	}
	err = s.pool.WithTransactionRetry(ctx, saveRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	})
	if err != nil {
		return types.NewError(types.ErrStorage, "save run record").WithCause(err)
	}
	return nil
}

func (s *GormRunStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var row runRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewErrorf(types.ErrNotFound, "run %q not found", id)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "get run record").WithCause(err)
	}
	return fromRow(&row)
}

func (s *GormRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	q := s.db.WithContext(ctx).Model(&runRow{})
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.PlanSource != "" {
		q = q.Where("plan_source = ?", filter.PlanSource)
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *filter.CreatedBefore)
	}
	order := "created_at asc, id asc"
	if filter.OrderDesc {
		order = "created_at desc, id desc"
	}
	q = q.Order(order)
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "list run records").WithCause(err)
	}
	result := make([]*RunRecord, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *GormRunStore) DeleteRun(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&runRow{}, "id = ?", id)
	if res.Error != nil {
		return types.NewError(types.ErrStorage, "delete run record").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewErrorf(types.ErrNotFound, "run %q not found", id)
	}
	return nil
}

func (s *GormRunStore) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]string{string(RunSucceeded), string(RunFailed)}, cutoff).
		Delete(&runRow{})
	if res.Error != nil {
		return 0, types.NewError(types.ErrStorage, "purge run records").WithCause(res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *GormRunStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{StatusCounts: make(map[RunStatus]int64)}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	err := s.db.WithContext(ctx).Model(&runRow{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "count runs by status").WithCause(err)
	}
	for _, c := range counts {
		stats.StatusCounts[RunStatus(c.Status)] = c.Count
		stats.TotalRuns += c.Count
	}

	var finished []runRow
	err = s.db.WithContext(ctx).
		Select("created_at", "finished_at").
		Where("finished_at IS NOT NULL").
		Find(&finished).Error
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "scan finished runs").WithCause(err)
	}
	if len(finished) > 0 {
		var total time.Duration
		for _, row := range finished {
			total += row.FinishedAt.Sub(row.CreatedAt)
		}
		stats.AverageDuration = total / time.Duration(len(finished))
	}

	var running runRow
	err = s.db.WithContext(ctx).
		Where("status = ?", string(RunRunning)).
		Order("created_at asc").
		First(&running).Error
	switch {
	case err == nil:
		stats.OldestRunningAge = time.Since(running.CreatedAt)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, types.NewError(types.ErrStorage, "scan running runs").WithCause(err)
	}
	return stats, nil
}

func (s *GormRunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return types.NewError(types.ErrUnavailable, "database ping failed").WithCause(err)
	}
	return nil
}

func (s *GormRunStore) Close() error {
	return s.pool.Close()
}

func toRow(record *RunRecord) (*runRow, error) {
	row := &runRow{
		ID:         record.ID,
		Status:     string(record.Status),
		Request:    record.Request,
		PlanSource: record.PlanSource,
		Error:      record.Error,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
		FinishedAt: record.FinishedAt,
	}
	if record.Plan != nil {
		data, err := json.Marshal(record.Plan)
		if err != nil {
			return nil, types.NewError(types.ErrStorage, "marshal plan snapshot").WithCause(err)
		}
		row.PlanJSON = string(data)
	}
	if record.Result != nil {
		data, err := json.Marshal(record.Result)
		if err != nil {
			return nil, types.NewError(types.ErrStorage, "marshal result snapshot").WithCause(err)
		}
		row.ResultJSON = string(data)
	}
	if len(record.Labels) > 0 {
		data, err := json.Marshal(record.Labels)
		if err != nil {
			return nil, types.NewError(types.ErrStorage, "marshal labels").WithCause(err)
		}
		row.LabelsJSON = string(data)
	}
	return row, nil
}

func fromRow(row *runRow) (*RunRecord, error) {
	record := &RunRecord{
		ID:         row.ID,
		Status:     RunStatus(row.Status),
		Request:    row.Request,
		PlanSource: row.PlanSource,
		Error:      row.Error,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
		FinishedAt: row.FinishedAt,
	}
	if row.PlanJSON != "" {
		var plan orchestrate.Plan
		if err := json.Unmarshal([]byte(row.PlanJSON), &plan); err != nil {
			return nil, types.NewError(types.ErrStorage, "unmarshal plan snapshot").WithCause(err)
		}
		record.Plan = &plan
	}
	if row.ResultJSON != "" {
		var result orchestrate.Result
		if err := json.Unmarshal([]byte(row.ResultJSON), &result); err != nil {
			return nil, types.NewError(types.ErrStorage, "unmarshal result snapshot").WithCause(err)
		}
		record.Result = &result
	}
	if row.LabelsJSON != "" {
		if err := json.Unmarshal([]byte(row.LabelsJSON), &record.Labels); err != nil {
			return nil, types.NewError(types.ErrStorage, "unmarshal labels").WithCause(err)
		}
	}
	return record, nil
}

var _ RunStore = (*GormRunStore)(nil)
