package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/approval"
	"github.com/sells-group/assetsmith/internal/budget"
	"github.com/sells-group/assetsmith/internal/competition"
	"github.com/sells-group/assetsmith/internal/fingerprint"
	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/internal/resilience"
	"github.com/sells-group/assetsmith/internal/retry"
)

var errSkipRequested = eris.New("pipeline: operator skip")

// stageGate is the boundary check between stages: it parks while paused and
// consumes any pending skip signal for the item. Control signals are only
// ever observed here, never mid-call.
func (p *Pipeline) stageGate(ctx context.Context, assetID string) error {
	if err := p.ctrl.Wait(ctx); err != nil {
		return err
	}
	if p.ctrl.takeSkip(assetID) {
		return errSkipRequested
	}
	return nil
}

// process drives one request through the full state machine and returns its
// manifest entry. A non-nil error means run-level failure (storage fault or
// cancellation); per-item failures land in the entry instead.
func (p *Pipeline) process(ctx context.Context, rt *runtime, req model.GenerationRequest) (model.ManifestEntry, error) {
	entry := model.ManifestEntry{AssetID: req.AssetID}

	if msg := validate(req); msg != "" {
		entry.FinalState = model.StateFailed
		entry.Error = msg
		zap.L().Warn("pipeline: invalid request",
			zap.String("asset_id", req.AssetID),
			zap.String("reason", msg),
		)
		return p.finalize(ctx, rt, entry, 0, true)
	}

	// Budget exhaustion halts dispatch globally; items that never started
	// are reported distinctly from failures and stay eligible for resume.
	if rt.ledger.Halted() {
		entry.FinalState = model.StateBudgetExhausted
		return p.finalize(ctx, rt, entry, 0, false)
	}

	p.emitStage(rt, req.AssetID, model.StateDiscovered, "")
	if err := p.stageGate(ctx, req.AssetID); err != nil {
		return p.controlOutcome(ctx, rt, entry, err)
	}

	// Prompt competition. The reservation covers every competing model; the
	// ledger settles down to actual token spend afterwards.
	reserved := competition.EstimateCost(p.comp.Models(), p.calc.EstimatePromptCall)
	if ok, reason := rt.ledger.Reserve(reserved); !ok {
		zap.L().Info("pipeline: no budget for prompt competition",
			zap.String("asset_id", req.AssetID),
			zap.String("limit", string(reason)),
		)
		entry.FinalState = model.StateBudgetExhausted
		return p.finalize(ctx, rt, entry, 0, false)
	}
	p.emitStage(rt, req.AssetID, model.StatePromptCompetition, "")

	res, err := p.comp.Compete(ctx, req)
	actual := 0.0
	if res != nil {
		actual = res.Cost
	}
	rt.ledger.Settle(reserved, actual)
	itemCost := actual

	if res != nil && len(res.Candidates) > 0 {
		if serr := p.st.SaveCandidates(ctx, rt.runID, res.Candidates); serr != nil {
			return entry, eris.Wrapf(serr, "pipeline: persist candidates for %s", req.AssetID)
		}
		for i := range res.Candidates {
			p.pub.Publish(model.Event{
				Type:      model.EventCandidate,
				RunID:     rt.runID,
				AssetID:   req.AssetID,
				CostSoFar: rt.ledger.Spent(),
				Candidate: &res.Candidates[i],
			})
		}
	}

	var prompt, selectedModel string
	switch {
	case err == nil:
		prompt = res.Selected.PromptText
		selectedModel = res.Selected.SourceModel
	case errors.Is(err, competition.ErrNoCandidates):
		// Every model struck out; hand the request to the retry chain with
		// a plain prompt built from the seed description.
		prompt = seedPrompt(req)
		zap.L().Warn("pipeline: competition produced no candidates, using seed prompt",
			zap.String("asset_id", req.AssetID),
		)
	default:
		return entry, err
	}
	entry.SelectedModel = selectedModel
	entry.SelectedPrompt = prompt

	fp := fingerprint.Compute(req.Kind, prompt)

	// Cache short-circuit: a hit commits without approval or synthesis.
	cached, err := p.cache.Lookup(ctx, fp)
	if err != nil {
		return entry, err
	}
	if cached != nil {
		return p.commit(ctx, rt, entry, cached, itemCost, true)
	}

	// Approval rendezvous.
	if p.cfg.Approval.Enabled {
		if err := p.stageGate(ctx, req.AssetID); err != nil {
			return p.controlOutcome(ctx, rt, entry, err)
		}
		p.emitStage(rt, req.AssetID, model.StatePendingApproval, "")

		verdict, err := p.awaitApproval(ctx, rt, model.PendingItem{
			AssetID:       req.AssetID,
			Kind:          req.Kind,
			Prompt:        prompt,
			SourceModel:   selectedModel,
			EstimatedCost: p.calc.Image(p.cfg.ImageGen.Model, p.cfg.ImageGen.Size, p.cfg.ImageGen.Quality),
		})
		if err != nil {
			if p.ctrl.Aborted() {
				return p.controlOutcome(ctx, rt, entry, ErrAborted)
			}
			return entry, err
		}
		if !verdict.Proceed {
			// A rejected item skips with zero cost attributed to it; the
			// competition spend stays on the run's checkpoint baseline.
			entry.FinalState = model.StateSkipped
			entry.Cost = 0
			if verdict.TimedOut {
				entry.Error = "approval timed out, default policy rejected"
			} else {
				entry.Error = "rejected by reviewer"
			}
			return p.finalize(ctx, rt, entry, itemCost, true)
		}
		if verdict.Prompt != prompt {
			prompt = verdict.Prompt
			entry.SelectedPrompt = prompt
			fp = fingerprint.Compute(req.Kind, prompt)
			cached, err = p.cache.Lookup(ctx, fp)
			if err != nil {
				return entry, err
			}
			if cached != nil {
				return p.commit(ctx, rt, entry, cached, itemCost, true)
			}
		}
	}

	if err := p.stageGate(ctx, req.AssetID); err != nil {
		return p.controlOutcome(ctx, rt, entry, err)
	}

	artifact, hit, err := p.cache.GetOrGenerate(ctx, fp, p.generator(rt, req, prompt, fp))
	switch {
	case err == nil:
	case errors.Is(err, budget.ErrExhausted):
		// Not checkpointed: the item stays eligible for resume. Its
		// competition spend therefore lives only in this session's ledger,
		// not in the resume baseline; the resumed item re-runs competition
		// and re-prices from scratch.
		entry.FinalState = model.StateBudgetExhausted
		return p.finalize(ctx, rt, entry, 0, false)
	case errors.Is(err, retry.ErrAttemptsExhausted),
		resilience.Classify(err) == resilience.KindPermanent,
		resilience.Classify(err) == resilience.KindTransient:
		entry.FinalState = model.StateFailed
		entry.Error = err.Error()
		zap.L().Error("pipeline: item failed",
			zap.String("asset_id", req.AssetID),
			zap.Error(err),
		)
		return p.finalize(ctx, rt, entry, itemCost, true)
	default:
		// Storage faults and cancellation: state integrity is no longer
		// guaranteed, abort the run rather than risk double billing.
		return entry, err
	}

	if !hit {
		itemCost += artifact.Cost
	}
	return p.commit(ctx, rt, entry, artifact, itemCost, hit)
}

// awaitApproval parks the item on the gate, racing the wait against an
// operator abort so a dead run does not hold parked items to the timeout.
func (p *Pipeline) awaitApproval(ctx context.Context, rt *runtime, item model.PendingItem) (approval.Verdict, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.ctrl.abortCh:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	return rt.gate.Await(waitCtx, item)
}

// commit finishes a successful item: optional publish, checkpoint, manifest
// write, committed event.
func (p *Pipeline) commit(ctx context.Context, rt *runtime, entry model.ManifestEntry, artifact *model.Artifact, itemCost float64, cacheHit bool) (model.ManifestEntry, error) {
	entry.FilePath = artifact.FilePath
	entry.PublicURL = artifact.PublicURL
	entry.Cost = itemCost
	entry.CacheHit = cacheHit
	entry.FinalState = model.StateCommitted
	if entry.SelectedModel == "" {
		entry.SelectedModel = artifact.GenerationModel
	}

	if p.publisher != nil && entry.PublicURL == "" && !cacheHit {
		url, err := p.publisher.Upload(ctx, artifact.FilePath)
		if err != nil {
			// Publishing is best effort; the artifact is already durable.
			zap.L().Warn("pipeline: artifact publish failed",
				zap.String("asset_id", entry.AssetID),
				zap.String("file", artifact.FilePath),
				zap.Error(err),
			)
		} else {
			entry.PublicURL = url
		}
	}

	return p.finalize(ctx, rt, entry, itemCost, true)
}

// finalize writes the manifest entry, checkpointing terminal outcomes so
// resume skips them. Storage failures here are fatal for the run.
func (p *Pipeline) finalize(ctx context.Context, rt *runtime, entry model.ManifestEntry, checkpointCost float64, checkpointed bool) (model.ManifestEntry, error) {
	if checkpointed {
		if err := rt.tracker.MarkComplete(ctx, entry.AssetID, checkpointCost); err != nil {
			return entry, err
		}
	}
	if err := p.st.SaveManifestEntry(ctx, rt.runID, entry); err != nil {
		return entry, eris.Wrapf(err, "pipeline: save manifest entry for %s", entry.AssetID)
	}

	p.emitStage(rt, entry.AssetID, entry.FinalState, entry.Error)
	if checkpointCost > 0 {
		p.pub.Publish(model.Event{
			Type:      model.EventCostUpdate,
			RunID:     rt.runID,
			AssetID:   entry.AssetID,
			CostSoFar: rt.ledger.Spent(),
		})
	}
	return entry, nil
}

// controlOutcome maps a control-signal interruption onto the item's final
// state. Aborted and operator-skipped items are not checkpointed, so a
// later resume picks them back up.
func (p *Pipeline) controlOutcome(ctx context.Context, rt *runtime, entry model.ManifestEntry, err error) (model.ManifestEntry, error) {
	switch {
	case errors.Is(err, ErrAborted):
		entry.FinalState = model.StateSkipped
		entry.Error = "run aborted"
		return p.finalize(ctx, rt, entry, 0, false)
	case errors.Is(err, errSkipRequested):
		entry.FinalState = model.StateSkipped
		entry.Error = "skipped by operator"
		return p.finalize(ctx, rt, entry, 0, false)
	default:
		return entry, err
	}
}

// validate screens out permanently malformed requests before any paid call.
func validate(req model.GenerationRequest) string {
	switch {
	case req.AssetID == "":
		return "missing asset_id"
	case !req.Kind.Valid():
		return "unsupported asset kind " + string(req.Kind)
	case strings.TrimSpace(req.SeedDescription) == "":
		return "empty seed description"
	}
	return ""
}

// seedPrompt builds the last-resort prompt when competition yields nothing.
func seedPrompt(req model.GenerationRequest) string {
	return string(req.Kind) + " of " + strings.TrimSpace(req.SeedDescription)
}
