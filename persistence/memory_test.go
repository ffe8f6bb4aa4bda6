package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/types"
)

// ---------------------------------------------------------------------------
// Copy semantics
// ---------------------------------------------------------------------------

func TestMemoryRunStore_SaveDetachesRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore(Config{}, zap.NewNop())
	defer store.Close()

	rec := newRecord("run-1", RunRunning)
	require.NoError(t, store.SaveRun(ctx, rec))

	// Mutating the caller's record after save must not leak into the store.
	rec.Status = RunFailed
	rec.Error = "mutated"

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, got.Status)
	assert.Empty(t, got.Error)

	// Same for the record handed back by GetRun.
	got.Status = RunSucceeded
	again, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, again.Status)
}

func TestMemoryRunStore_SaveNilRecord(t *testing.T) {
	store := NewMemoryRunStore(Config{}, zap.NewNop())
	defer store.Close()

	err := store.SaveRun(context.Background(), nil)
	assert.True(t, types.IsCode(err, types.ErrValidationFailed))
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestMemoryRunStore_CloseRejectsOperations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore(Config{}, zap.NewNop())

	require.NoError(t, store.SaveRun(ctx, newRecord("run-1", RunRunning)))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close is idempotent")

	err := store.SaveRun(ctx, newRecord("run-2", RunRunning))
	assert.True(t, types.IsCode(err, types.ErrUnavailable))

	_, err = store.GetRun(ctx, "run-1")
	assert.True(t, types.IsCode(err, types.ErrUnavailable))

	_, err = store.ListRuns(ctx, RunFilter{})
	assert.True(t, types.IsCode(err, types.ErrUnavailable))

	err = store.DeleteRun(ctx, "run-1")
	assert.True(t, types.IsCode(err, types.ErrUnavailable))

	_, err = store.PurgeOlderThan(ctx, time.Hour)
	assert.True(t, types.IsCode(err, types.ErrUnavailable))

	_, err = store.Stats(ctx)
	assert.True(t, types.IsCode(err, types.ErrUnavailable))

	assert.True(t, types.IsCode(store.Ping(ctx), types.ErrUnavailable))
}

func TestMemoryRunStore_RetentionLoopPurges(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Retention: RetentionConfig{
			Enabled:  true,
			Interval: 20 * time.Millisecond,
			MaxAge:   time.Hour,
		},
	}
	store := NewMemoryRunStore(cfg, zap.NewNop())
	defer store.Close()

	old := newRecord("old-run", RunSucceeded)
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.SaveRun(ctx, old))

	fresh := newRecord("fresh-run", RunSucceeded)
	require.NoError(t, store.SaveRun(ctx, fresh))

	assert.Eventually(t, func() bool {
		_, err := store.GetRun(ctx, "old-run")
		return types.IsCode(err, types.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond, "retention loop should purge the old run")

	_, err := store.GetRun(ctx, "fresh-run")
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestMemoryRunStore_StatsAverageDuration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore(Config{}, zap.NewNop())
	defer store.Close()

	for i, d := range []time.Duration{10 * time.Second, 20 * time.Second} {
		rec := newRecord("", RunSucceeded)
		rec.CreatedAt = time.Now().Add(-time.Hour)
		finished := rec.CreatedAt.Add(d)
		rec.FinishedAt = &finished
		require.NoError(t, store.SaveRun(ctx, rec), "record %d", i)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, stats.AverageDuration)
	assert.Zero(t, stats.OldestRunningAge, "no running records")
}
