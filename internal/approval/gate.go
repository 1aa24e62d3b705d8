// Package approval implements the human-in-the-loop gate. Pending requests
// accumulate into batches; once a batch crosses the size or cost threshold
// (or goes quiet for the linger window) it is sealed and published to the
// reviewer channel. Each parked item resumes when the batch is decided or
// the approval timeout applies the configured default policy.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/config"
	"github.com/sells-group/assetsmith/internal/events"
	"github.com/sells-group/assetsmith/internal/model"
)

// DecisionStore persists the decision audit trail.
type DecisionStore interface {
	SaveDecision(ctx context.Context, runID string, d model.Decision) error
}

// ErrUnknownBatch is returned for a decision on a batch that is not pending.
var ErrUnknownBatch = eris.New("approval: unknown batch")

// timeoutActor is recorded on decisions applied by the timeout policy.
const timeoutActor = "system:timeout"

// timeoutAuditDeadline bounds the audit write for a timeout decision, which
// runs on a background context because no worker context is available.
const timeoutAuditDeadline = 10 * time.Second

// Verdict is the per-item outcome of a batch decision.
type Verdict struct {
	Proceed bool
	// Prompt is the prompt to synthesize with; edited prompts from a modify
	// decision replace the original.
	Prompt   string
	TimedOut bool
}

// outcome is what wakes a parked waiter: its verdict, or the storage error
// that made the decision undeliverable.
type outcome struct {
	verdict Verdict
	err     error
}

// sealedBatch is a published batch awaiting a decision.
type sealedBatch struct {
	batch   model.ApprovalBatch
	waiters map[string]chan outcome
	timer   *time.Timer
}

// Gate parks items at batch boundaries until a reviewer decides. Waiters
// block on a per-item channel, not on a shared lock, so a decision wakes
// only its own batch.
type Gate struct {
	cfg    config.ApprovalConfig
	runID  string
	st     DecisionStore
	pub    *events.Publisher
	waitCh chan struct{} // closed on gate shutdown

	mu     sync.Mutex
	open   *sealedBatch // accumulating, not yet published
	linger *time.Timer
	sealed map[string]*sealedBatch
	closed bool
}

// NewGate creates a gate for one run. st audits decisions; pub carries
// approval-request and approval-result events to the review channel.
func NewGate(cfg config.ApprovalConfig, runID string, st DecisionStore, pub *events.Publisher) *Gate {
	return &Gate{
		cfg:    cfg,
		runID:  runID,
		st:     st,
		pub:    pub,
		waitCh: make(chan struct{}),
		sealed: make(map[string]*sealedBatch),
	}
}

// Await parks the item until its batch is decided. When approval is
// disabled the item proceeds immediately.
func (g *Gate) Await(ctx context.Context, item model.PendingItem) (Verdict, error) {
	if !g.cfg.Enabled {
		return Verdict{Proceed: true, Prompt: item.Prompt}, nil
	}

	ch := g.add(item)

	select {
	case out := <-ch:
		return out.verdict, out.err
	case <-ctx.Done():
		return Verdict{}, eris.Wrapf(ctx.Err(), "approval: wait for %s", item.AssetID)
	case <-g.waitCh:
		return Verdict{}, eris.New("approval: gate closed")
	}
}

// add appends the item to the open batch, sealing when a threshold is
// crossed, and returns the item's verdict channel.
func (g *Gate) add(item model.PendingItem) chan outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open == nil {
		g.open = &sealedBatch{
			batch: model.ApprovalBatch{
				ID:        uuid.New().String(),
				RunID:     g.runID,
				State:     model.BatchPending,
				CreatedAt: time.Now().UTC(),
			},
			waiters: make(map[string]chan outcome),
		}
		if linger := g.cfg.BatchLinger(); linger > 0 {
			g.linger = time.AfterFunc(linger, g.sealOnLinger)
		}
	}

	ch := make(chan outcome, 1)
	g.open.batch.Items = append(g.open.batch.Items, item)
	g.open.batch.EstimatedCost += item.EstimatedCost
	g.open.waiters[item.AssetID] = ch

	if (g.cfg.BatchSize > 0 && len(g.open.batch.Items) >= g.cfg.BatchSize) ||
		(g.cfg.BatchCostThreshold > 0 && g.open.batch.EstimatedCost >= g.cfg.BatchCostThreshold) {
		g.sealLocked()
	}
	return ch
}

// sealOnLinger publishes a partial batch whose quiet period elapsed.
func (g *Gate) sealOnLinger() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open != nil && len(g.open.batch.Items) > 0 {
		g.sealLocked()
	}
}

// sealLocked publishes the open batch to the reviewer channel and arms the
// timeout policy. Caller holds g.mu.
func (g *Gate) sealLocked() {
	sb := g.open
	g.open = nil
	if g.linger != nil {
		g.linger.Stop()
		g.linger = nil
	}

	g.sealed[sb.batch.ID] = sb
	batchID := sb.batch.ID
	if timeout := g.cfg.Timeout(); timeout > 0 {
		sb.timer = time.AfterFunc(timeout, func() { g.timeout(batchID) })
	}

	zap.L().Info("approval: batch awaiting review",
		zap.String("batch_id", sb.batch.ID),
		zap.Int("items", len(sb.batch.Items)),
		zap.Float64("estimated_cost", sb.batch.EstimatedCost),
	)
	g.pub.Publish(model.Event{
		Type:  model.EventApprovalRequest,
		RunID: g.runID,
		Batch: &sb.batch,
	})
}

// Pending lists sealed batches still awaiting a decision.
func (g *Gate) Pending() []model.ApprovalBatch {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.ApprovalBatch, 0, len(g.sealed))
	for _, sb := range g.sealed {
		out = append(out, sb.batch)
	}
	return out
}

// Resolve applies an explicit reviewer decision to a pending batch.
func (g *Gate) Resolve(ctx context.Context, d model.Decision) error {
	g.mu.Lock()
	sb, ok := g.sealed[d.BatchID]
	if !ok {
		g.mu.Unlock()
		return ErrUnknownBatch
	}
	delete(g.sealed, d.BatchID)
	if sb.timer != nil {
		sb.timer.Stop()
	}
	g.mu.Unlock()

	return g.deliver(ctx, sb, d)
}

// timeout applies the configured default policy to a batch nobody decided.
func (g *Gate) timeout(batchID string) {
	g.mu.Lock()
	sb, ok := g.sealed[batchID]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.sealed, batchID)
	g.mu.Unlock()

	action := model.DecisionReject
	if g.cfg.TimeoutPolicy == "approve" {
		action = model.DecisionApprove
	}
	zap.L().Warn("approval: batch timed out, applying default policy",
		zap.String("batch_id", batchID),
		zap.String("policy", g.cfg.TimeoutPolicy),
	)

	d := model.Decision{
		BatchID:   batchID,
		Action:    action,
		Actor:     timeoutActor,
		TimedOut:  true,
		DecidedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeoutAuditDeadline)
	defer cancel()
	if err := g.deliver(ctx, sb, d); err != nil {
		zap.L().Error("approval: timeout delivery failed",
			zap.String("batch_id", batchID),
			zap.Error(err),
		)
	}
}

// deliver audits the decision, marks the batch state, publishes the result
// and wakes every waiter with its verdict.
func (g *Gate) deliver(ctx context.Context, sb *sealedBatch, d model.Decision) error {
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}

	switch {
	case d.TimedOut:
		sb.batch.State = model.BatchTimedOut
	case d.Action == model.DecisionReject:
		sb.batch.State = model.BatchRejected
	case d.Action == model.DecisionPartial:
		sb.batch.State = model.BatchPartiallyApproved
	default:
		sb.batch.State = model.BatchApproved
	}

	// Decision audit failures are fatal for the run: an unrecorded spend
	// authorization cannot be allowed to proceed. Waiters are woken with the
	// storage error so the parked workers fail the run instead of staying
	// parked on a batch that is no longer pending.
	if err := g.st.SaveDecision(ctx, g.runID, d); err != nil {
		err = eris.Wrapf(err, "approval: audit decision for batch %s", d.BatchID)
		for _, ch := range sb.waiters {
			ch <- outcome{err: err}
		}
		return err
	}

	g.pub.Publish(model.Event{
		Type:     model.EventApprovalResult,
		RunID:    g.runID,
		Batch:    &sb.batch,
		Decision: &d,
	})

	for _, item := range sb.batch.Items {
		proceed, prompt := d.Allows(item.AssetID, item.Prompt)
		sb.waiters[item.AssetID] <- outcome{verdict: Verdict{
			Proceed:  proceed,
			Prompt:   prompt,
			TimedOut: d.TimedOut,
		}}
	}
	return nil
}

// Close wakes every parked waiter with an error. Used on run shutdown.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	if g.linger != nil {
		g.linger.Stop()
	}
	for _, sb := range g.sealed {
		if sb.timer != nil {
			sb.timer.Stop()
		}
	}
	close(g.waitCh)
}
