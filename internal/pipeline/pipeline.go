// Package pipeline drives generation requests through the asset state
// machine: Discovered, PromptCompetition, PendingApproval, Synthesizing,
// Saving, Committed, with terminal Failed, Skipped and BudgetExhausted
// states. A bounded worker pool processes requests concurrently; the prompt
// competition fans out further inside each worker. All paid calls pass
// through the cost ledger, the dedup cache and the retry chain.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/assetsmith/internal/approval"
	"github.com/sells-group/assetsmith/internal/budget"
	"github.com/sells-group/assetsmith/internal/checkpoint"
	"github.com/sells-group/assetsmith/internal/competition"
	"github.com/sells-group/assetsmith/internal/config"
	"github.com/sells-group/assetsmith/internal/cost"
	"github.com/sells-group/assetsmith/internal/dedup"
	"github.com/sells-group/assetsmith/internal/events"
	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/internal/resilience"
	"github.com/sells-group/assetsmith/internal/retry"
	"github.com/sells-group/assetsmith/internal/store"
	"github.com/sells-group/assetsmith/pkg/imagegen"
)

// ArtifactPublisher uploads a committed artifact file to public hosting and
// returns its public URL. A nil publisher disables publishing.
type ArtifactPublisher interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Pipeline composes the ledger, cache, gate, competition and retry chain
// into the top-level generation state machine.
type Pipeline struct {
	cfg       *config.Config
	st        store.Store
	comp      *competition.Orchestrator
	synth     imagegen.Client
	publisher ArtifactPublisher
	pub       *events.Publisher
	ctrl      *Controller
	calc      *cost.Calculator
	cache     *dedup.Cache
	breakers  *resilience.ProviderSet
	limiter   *rate.Limiter
	baseRPS   float64

	mu  sync.Mutex
	cur *runtime
}

// runtime is the per-run state: the ledger, tracker and gate live exactly
// as long as one Run call.
type runtime struct {
	runID   string
	ledger  *budget.Ledger
	tracker *checkpoint.Tracker
	gate    *approval.Gate
	runner  *retry.Runner
}

// New wires a pipeline from its collaborators. publisher may be nil.
func New(
	cfg *config.Config,
	st store.Store,
	comp *competition.Orchestrator,
	synth imagegen.Client,
	publisher ArtifactPublisher,
	pub *events.Publisher,
	calc *cost.Calculator,
) *Pipeline {
	rps := cfg.Pipeline.RateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	p := &Pipeline{
		cfg:       cfg,
		st:        st,
		comp:      comp,
		synth:     synth,
		publisher: publisher,
		pub:       pub,
		calc:      calc,
		cache:     dedup.New(st),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		baseRPS:   rps,
	}
	p.ctrl = NewController(p.applySpeed)
	p.breakers = resilience.NewProviderSet(resilience.BreakerConfig{
		FailureThreshold: cfg.Retry.BreakerFailureThreshold,
		Cooldown:         cfg.Retry.BreakerCooldown(),
		OnStateChange: func(provider string, from, to resilience.State) {
			zap.L().Warn("pipeline: provider breaker transition",
				zap.String("provider", provider),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return p
}

// Controller returns the operator control surface for this pipeline.
func (p *Pipeline) Controller() *Controller {
	return p.ctrl
}

// Gate returns the approval gate of the run in progress, or nil.
func (p *Pipeline) Gate() *approval.Gate {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return nil
	}
	return p.cur.gate
}

// RunID returns the identifier of the run in progress, or empty.
func (p *Pipeline) RunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return ""
	}
	return p.cur.runID
}

// BreakerStates reports the current circuit state per provider.
func (p *Pipeline) BreakerStates() map[string]resilience.State {
	return p.breakers.States()
}

// Spent returns the session spend of the run in progress.
func (p *Pipeline) Spent() float64 {
	p.mu.Lock()
	rt := p.cur
	p.mu.Unlock()
	if rt == nil {
		return 0
	}
	return rt.ledger.Spent()
}

// applySpeed rescales the shared provider limiter for a speed change.
func (p *Pipeline) applySpeed(s Speed) {
	p.limiter.SetLimit(rate.Limit(p.baseRPS * s.Factor()))
}

// RunResult summarizes one Run invocation. Entries covers only the items
// this segment processed; the store manifest holds the full run history.
type RunResult struct {
	RunID   string
	Status  model.RunStatus
	Spent   float64
	Entries []model.ManifestEntry
}

// Run processes the request set for runID, resuming from any prior
// checkpoint. It returns once every request reached a terminal state, an
// abort drained the in-flight items, or a storage failure made further
// progress unsafe.
func (p *Pipeline) Run(ctx context.Context, runID string, reqs []model.GenerationRequest) (*RunResult, error) {
	tracker, cp, err := checkpoint.Begin(ctx, p.st, runID)
	if err != nil {
		return nil, err
	}

	daily, err := p.st.DailySpend(ctx, time.Now().UTC())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load daily spend baseline")
	}

	baseline := 0.0
	if cp != nil {
		baseline = cp.SpentSoFar
	}
	rt := &runtime{
		runID:   runID,
		ledger:  budget.NewLedger(p.cfg.Budget, baseline, daily),
		tracker: tracker,
		gate:    approval.NewGate(p.cfg.Approval, runID, p.st, p.pub),
	}
	rt.runner = retry.NewRunner(
		retry.Chain(p.cfg.ImageGen.FallbackModels, p.cfg.Pipeline.FallbackAssets),
		p.cfg.Retry.MaxAttempts,
		p.breakers,
		p.recordAttempt(ctx, rt),
	)

	p.mu.Lock()
	p.cur = rt
	p.mu.Unlock()
	defer func() {
		rt.gate.Close()
		p.mu.Lock()
		p.cur = nil
		p.mu.Unlock()
	}()

	pending := orderRequests(reqs, cp)
	zap.L().Info("pipeline: run starting",
		zap.String("run_id", runID),
		zap.Int("requests", len(reqs)),
		zap.Int("pending", len(pending)),
		zap.Float64("spent_baseline", baseline),
	)

	var (
		entriesMu sync.Mutex
		entries   []model.ManifestEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.Workers)
	for _, req := range pending {
		g.Go(func() error {
			entry, perr := p.process(gctx, rt, req)
			if perr != nil {
				return perr
			}
			entriesMu.Lock()
			entries = append(entries, entry)
			entriesMu.Unlock()
			return nil
		})
	}
	werr := g.Wait()

	status := model.RunStatusComplete
	switch {
	case werr != nil:
		status = model.RunStatusFailed
	case p.ctrl.Aborted():
		status = model.RunStatusAborted
	}
	if serr := p.st.UpdateRunStatus(ctx, runID, status); serr != nil && werr == nil {
		werr = eris.Wrap(serr, "pipeline: finalize run status")
		status = model.RunStatusFailed
	}

	spent := rt.ledger.Spent()
	p.pub.Publish(model.Event{
		Type:      model.EventRunComplete,
		RunID:     runID,
		CostSoFar: spent,
		Detail:    string(status),
	})
	zap.L().Info("pipeline: run finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Float64("spent", spent),
		zap.Int("processed", len(entries)),
	)

	res := &RunResult{RunID: runID, Status: status, Spent: spent, Entries: entries}
	if werr != nil {
		return res, eris.Wrapf(werr, "pipeline: run %s", runID)
	}
	return res, nil
}

// orderRequests drops already-completed items and sorts the remainder by
// priority, high first, preserving submission order within a priority.
func orderRequests(reqs []model.GenerationRequest, cp *model.Checkpoint) []model.GenerationRequest {
	pending := make([]model.GenerationRequest, 0, len(reqs))
	for _, req := range reqs {
		if cp.Done(req.AssetID) {
			zap.L().Debug("pipeline: skipping checkpointed item", zap.String("asset_id", req.AssetID))
			continue
		}
		pending = append(pending, req)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority > pending[j].Priority
	})
	return pending
}

// recordAttempt persists retry attempts for audit and mirrors them onto the
// observation feed. Audit write failures are logged, not fatal: attempt
// records carry no billing state.
func (p *Pipeline) recordAttempt(ctx context.Context, rt *runtime) retry.Recorder {
	return func(attempt model.RetryAttempt) {
		if err := p.st.SaveRetryAttempt(ctx, rt.runID, attempt); err != nil {
			zap.L().Warn("pipeline: retry attempt audit write failed",
				zap.String("asset_id", attempt.AssetID),
				zap.Error(err),
			)
		}
		p.pub.Publish(model.Event{
			Type:      model.EventRetryAttempt,
			RunID:     rt.runID,
			AssetID:   attempt.AssetID,
			CostSoFar: rt.ledger.Spent(),
			Attempt:   &attempt,
		})
	}
}

// emitStage publishes one state-machine transition.
func (p *Pipeline) emitStage(rt *runtime, assetID string, stage model.ItemState, detail string) {
	p.pub.Publish(model.Event{
		Type:      model.EventStageTransition,
		RunID:     rt.runID,
		AssetID:   assetID,
		Stage:     stage,
		CostSoFar: rt.ledger.Spent(),
		Detail:    detail,
	})
}
