package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/scash-manager/internal/model"
)

func newTestHistory(t *testing.T) (*SQLiteRunHistory, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "runs.db")
	history, err := NewSQLiteRunHistory(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })
	return history, path
}

func newRun(variant model.Variant, startedAt time.Time) *model.RunRecord {
	return &model.RunRecord{
		ID:        uuid.New().String(),
		PID:       4242,
		Variant:   variant,
		Command:   "/usr/local/bin/minerd -a randomx -o stratum+tcp://pool:3333",
		StartedAt: startedAt,
	}
}

func TestSQLiteRunHistory(t *testing.T) {
	ctx := context.Background()
	history, _ := newTestHistory(t)
	base := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	t.Run("Store And Get", func(t *testing.T) {
		run := newRun(model.VariantCPUMiner, base)
		require.NoError(t, history.Store(ctx, run))

		got, err := history.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, 4242, got.PID)
		assert.Equal(t, model.VariantCPUMiner, got.Variant)
		assert.Equal(t, run.Command, got.Command)
		assert.True(t, base.Equal(got.StartedAt))
		assert.Nil(t, got.StoppedAt)
		assert.Nil(t, got.ExitCode)
		assert.False(t, got.ManualStop)
	})

	t.Run("Update", func(t *testing.T) {
		run := newRun(model.VariantXMRig, base.Add(time.Minute))
		require.NoError(t, history.Store(ctx, run))

		stopped := base.Add(2 * time.Minute)
		code := 143
		run.StoppedAt = &stopped
		run.ExitCode = &code
		run.ManualStop = true
		run.Error = "signal: terminated"
		require.NoError(t, history.Update(ctx, run))

		got, err := history.Get(ctx, run.ID)
		require.NoError(t, err)
		require.NotNil(t, got.StoppedAt)
		assert.True(t, stopped.Equal(*got.StoppedAt))
		require.NotNil(t, got.ExitCode)
		assert.Equal(t, 143, *got.ExitCode)
		assert.True(t, got.ManualStop)
		assert.Equal(t, "signal: terminated", got.Error)
	})

	t.Run("Missing Run", func(t *testing.T) {
		_, err := history.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrRunNotFound)

		err = history.Update(ctx, &model.RunRecord{ID: "missing"})
		assert.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("List And Count", func(t *testing.T) {
		require.NoError(t, history.Store(ctx, newRun(model.VariantSRBMiner, base.Add(3*time.Minute))))

		all, err := history.List(ctx, RunFilter{}, 0, 10)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, model.VariantSRBMiner, all[0].Variant)

		count, err := history.Count(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		manual := true
		count, err = history.Count(ctx, RunFilter{ManualStop: &manual})
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		running := true
		open, err := history.List(ctx, RunFilter{Running: &running}, 0, 10)
		require.NoError(t, err)
		assert.Len(t, open, 2)

		xmrig, err := history.List(ctx, RunFilter{Variant: model.VariantXMRig}, 0, 10)
		require.NoError(t, err)
		require.Len(t, xmrig, 1)

		page, err := history.List(ctx, RunFilter{}, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, model.VariantXMRig, page[0].Variant)
	})

	t.Run("Delete Before", func(t *testing.T) {
		deleted, err := history.DeleteBefore(ctx, base.Add(90*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		count, err := history.Count(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestSQLiteRunHistory_Reopen(t *testing.T) {
	ctx := context.Background()
	history, path := newTestHistory(t)

	run := newRun(model.VariantCPUMiner, time.Now())
	require.NoError(t, history.Store(ctx, run))
	require.NoError(t, history.Close())

	reopened, err := NewSQLiteRunHistory(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
}
