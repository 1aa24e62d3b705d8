// Package competition solicits final image prompts from several independent
// models concurrently and selects the most confident proposal. Losing
// candidates are returned alongside the winner so callers can retain them
// for audit.
package competition

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/assetsmith/internal/model"
)

// ErrNoCandidates is returned when every competing model errored or timed
// out and there is nothing to select from.
var ErrNoCandidates = eris.New("competition: no candidates returned")

// Model is one competitor. Propose returns the model's candidate prompt and
// the actual cost of producing it.
type Model interface {
	// Name identifies the model in candidate records, e.g.
	// "anthropic/claude-haiku-4-5".
	Name() string
	// Provider is the coarse provider key used for breaker and rate grouping.
	Provider() string
	// Priority breaks confidence ties; lower wins.
	Priority() int
	Propose(ctx context.Context, req model.GenerationRequest) (*model.PromptCandidate, float64, error)
}

// Result is the outcome of one competition.
type Result struct {
	// Candidates holds every proposal that came back, exactly one of which
	// is marked selected.
	Candidates []model.PromptCandidate
	// Selected points at the winning candidate inside Candidates.
	Selected *model.PromptCandidate
	// Cost is the summed actual cost of all model calls, winners and losers.
	Cost float64
}

// Orchestrator fans a request out to a fixed set of models.
type Orchestrator struct {
	models  []Model
	timeout time.Duration
	limiter *rate.Limiter
}

// New creates an orchestrator. timeout bounds each individual model call;
// limiter, when non-nil, throttles the fan-out against provider quotas.
func New(models []Model, timeout time.Duration, limiter *rate.Limiter) *Orchestrator {
	return &Orchestrator{models: models, timeout: timeout, limiter: limiter}
}

// EstimateCost returns a conservative pre-call reservation covering every
// competing model.
func EstimateCost(models []Model, estimate func(provider, name string) float64) float64 {
	total := 0.0
	for _, m := range models {
		total += estimate(m.Provider(), m.Name())
	}
	return total
}

// Models returns the competing models in declared order.
func (o *Orchestrator) Models() []Model {
	return o.models
}

// Compete queries every model concurrently and waits for all of them to
// finish or hit the per-model timeout. Models that error or time out simply
// contribute no candidate. The highest confidence wins; ties break on model
// priority.
func (o *Orchestrator) Compete(ctx context.Context, req model.GenerationRequest) (*Result, error) {
	type slot struct {
		cand *model.PromptCandidate
		cost float64
	}
	slots := make([]slot, len(o.models))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range o.models {
		g.Go(func() error {
			if o.limiter != nil {
				if err := o.limiter.Wait(gctx); err != nil {
					return err
				}
			}

			callCtx := gctx
			if o.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, o.timeout)
				defer cancel()
			}

			cand, cost, err := m.Propose(callCtx, req)
			slots[i].cost = cost
			if err != nil {
				// A losing model is not an error for the competition; the
				// parent context failing is.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("competition: model contributed no candidate",
					zap.String("asset_id", req.AssetID),
					zap.String("model", m.Name()),
					zap.Error(err),
				)
				return nil
			}
			cand.AssetID = req.AssetID
			cand.SourceModel = m.Name()
			slots[i].cand = cand
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "competition: fan-out for %s", req.AssetID)
	}

	res := &Result{}
	winner := -1
	for i := range slots {
		res.Cost += slots[i].cost
		if slots[i].cand == nil {
			continue
		}
		res.Candidates = append(res.Candidates, *slots[i].cand)
		j := len(res.Candidates) - 1
		if winner < 0 ||
			res.Candidates[j].Confidence > res.Candidates[winner].Confidence {
			winner = j
		}
	}
	if winner < 0 {
		return res, ErrNoCandidates
	}

	// Candidates arrive in model order, and model order is not priority
	// order; re-resolve exact-confidence ties against declared priority.
	best := res.Candidates[winner]
	for j, c := range res.Candidates {
		if c.Confidence == best.Confidence && o.priorityOf(c.SourceModel) < o.priorityOf(best.SourceModel) {
			winner, best = j, c
		}
	}

	res.Candidates[winner].Selected = true
	res.Selected = &res.Candidates[winner]

	zap.L().Debug("competition: winner selected",
		zap.String("asset_id", req.AssetID),
		zap.String("model", res.Selected.SourceModel),
		zap.Float64("confidence", res.Selected.Confidence),
		zap.Int("candidates", len(res.Candidates)),
	)
	return res, nil
}

func (o *Orchestrator) priorityOf(name string) int {
	for _, m := range o.models {
		if m.Name() == name {
			return m.Priority()
		}
	}
	return int(^uint(0) >> 1)
}

// SortByConfidence orders candidates best-first for display.
func SortByConfidence(cands []model.PromptCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Confidence > cands[j].Confidence
	})
}
