package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestBeginFreshRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tr, cp, err := Begin(ctx, st, "run-1")
	require.NoError(t, err)
	assert.Nil(t, cp, "a fresh run has no checkpoint to resume from")
	assert.Equal(t, "run-1", tr.RunID())

	run, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)
}

func TestBeginResumesExistingRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tr, cp, err := Begin(ctx, st, "run-1")
	require.NoError(t, err)
	require.Nil(t, cp)

	require.NoError(t, tr.MarkComplete(ctx, "icon-a", 0.05))
	require.NoError(t, tr.MarkComplete(ctx, "icon-b", 0.03))
	require.NoError(t, st.UpdateRunStatus(ctx, "run-1", model.RunStatusAborted))

	_, cp, err = Begin(ctx, st, "run-1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Contains(t, cp.Completed, "icon-a")
	assert.Contains(t, cp.Completed, "icon-b")
	assert.InDelta(t, 0.08, cp.SpentSoFar, 1e-9)

	run, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status, "resuming reopens the run")
}

func TestMarkCompleteIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tr, _, err := Begin(ctx, st, "run-1")
	require.NoError(t, err)

	require.NoError(t, tr.MarkComplete(ctx, "icon-a", 0.05))
	require.NoError(t, tr.MarkComplete(ctx, "icon-a", 0.05))

	run, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.05, run.Spent, 1e-9, "re-marking must not double-bill")
}

func TestBeginExistingRunWithoutCompletions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateRun(ctx, "run-1")
	require.NoError(t, err)

	// The run exists, so Begin resumes it rather than failing on the insert.
	_, cp, err := Begin(ctx, st, "run-1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Empty(t, cp.Completed)
}
