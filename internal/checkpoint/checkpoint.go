// Package checkpoint records per-run completion state so an interrupted run
// can resume without repeating (or re-billing) finished items.
package checkpoint

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/internal/store"
)

// Tracker writes checkpoint records for one run. Writes are synchronous:
// an interruption never loses more than the one in-flight item.
type Tracker struct {
	store store.Store
	runID string
}

// Begin starts a new run record, or resumes an existing one. The returned
// checkpoint is nil for a fresh run and holds the completed set plus the
// spent baseline when resuming.
func Begin(ctx context.Context, st store.Store, runID string) (*Tracker, *model.Checkpoint, error) {
	cp, err := st.LoadCheckpoint(ctx, runID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "checkpoint: load run %s", runID)
	}
	if cp != nil {
		zap.L().Info("checkpoint: resuming run",
			zap.String("run_id", runID),
			zap.Int("completed", len(cp.Completed)),
			zap.Float64("spent_so_far", cp.SpentSoFar),
		)
		if err := st.UpdateRunStatus(ctx, runID, model.RunStatusRunning); err != nil {
			return nil, nil, eris.Wrapf(err, "checkpoint: reopen run %s", runID)
		}
		return &Tracker{store: st, runID: runID}, cp, nil
	}

	if _, err := st.CreateRun(ctx, runID); err != nil {
		return nil, nil, eris.Wrapf(err, "checkpoint: begin run %s", runID)
	}
	return &Tracker{store: st, runID: runID}, nil, nil
}

// MarkComplete durably records that an item reached a terminal state and how
// much it cost. Completion order follows finish time, not submission order.
func (t *Tracker) MarkComplete(ctx context.Context, assetID string, cost float64) error {
	return eris.Wrapf(t.store.MarkComplete(ctx, t.runID, assetID, cost),
		"checkpoint: mark %s complete", assetID)
}

// RunID returns the run this tracker belongs to.
func (t *Tracker) RunID() string {
	return t.runID
}
