package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/opsflow/types"
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewGormRunStore_UnsupportedDriver(t *testing.T) {
	_, err := NewGormRunStore(DatabaseConfig{Driver: "oracle", DSN: "x"}, zap.NewNop())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidationFailed))
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestNewGormRunStoreWithDB_NilHandle(t *testing.T) {
	_, err := NewGormRunStoreWithDB(nil, zap.NewNop())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidationFailed))
}

// ---------------------------------------------------------------------------
// Upsert
// ---------------------------------------------------------------------------

func TestGormRunStore_UpsertKeepsSingleRow(t *testing.T) {
	ctx := context.Background()
	store := openSQLiteStore(t)

	rec := newRecord("run-1", RunRunning)
	require.NoError(t, store.SaveRun(ctx, rec))

	rec.Status = RunFailed
	rec.Error = "provider throttled the request"
	finished := time.Now()
	rec.FinishedAt = &finished
	require.NoError(t, store.SaveRun(ctx, rec))

	runs, err := store.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunFailed, runs[0].Status)
	assert.Equal(t, "provider throttled the request", runs[0].Error)
	require.NotNil(t, runs[0].FinishedAt)
}

// ---------------------------------------------------------------------------
// Backend failures surface as STORAGE_ERROR
// ---------------------------------------------------------------------------

func setupMockStore(t *testing.T) (*GormRunStore, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	// Built directly so AutoMigrate does not run against the mock.
	return &GormRunStore{db: gdb, logger: zap.NewNop()}, mock
}

func TestGormRunStore_GetRunStorageError(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM "runs"`).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := store.GetRun(context.Background(), "run-1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStorage))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunStore_GetRunMissing(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM "runs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetRun(context.Background(), "run-1")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunStore_ListRunsStorageError(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM "runs"`).
		WillReturnError(errors.New("server closed the connection"))

	_, err := store.ListRuns(context.Background(), RunFilter{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStorage))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunStore_DeleteRunStorageError(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "runs"`).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := store.DeleteRun(context.Background(), "run-1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStorage))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunStore_DeleteRunMissing(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "runs"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.DeleteRun(context.Background(), "run-1")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunStore_PurgeStorageError(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "runs"`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	count, err := store.PurgeOlderThan(context.Background(), time.Hour)
	require.Error(t, err)
	assert.Zero(t, count)
	assert.True(t, types.IsCode(err, types.ErrStorage))
	assert.NoError(t, mock.ExpectationsWereMet())
}
