package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/budget"
	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/internal/resilience"
)

// ErrAttemptsExhausted is returned when the chain runs out of strategies or
// hits the global per-request attempt cap without producing an artifact.
var ErrAttemptsExhausted = eris.New("retry: attempts exhausted")

// ExecFunc performs one synthesis attempt with the given plan. The caller
// owns budget reservation, rate limiting and file persistence; the runner
// only sequences attempts.
type ExecFunc func(ctx context.Context, plan Plan) (*model.Artifact, error)

// Recorder receives every attempt for audit and observation. It must not
// block.
type Recorder func(attempt model.RetryAttempt)

// Chain builds the declared strategy order: simplify, each fallback model,
// parameter adjustment, stock substitution.
func Chain(fallbackModels []string, stockPaths map[string]string) []Strategy {
	chain := []Strategy{&SimplifyPrompt{}}
	for _, m := range fallbackModels {
		chain = append(chain, &FallbackModel{ModelID: m})
	}
	chain = append(chain, &AdjustParams{})
	if len(stockPaths) > 0 {
		chain = append(chain, &StockArtifact{Paths: stockPaths})
	}
	return chain
}

// Runner drives a request through synthesis attempts and the recovery
// chain.
type Runner struct {
	strategies  []Strategy
	maxAttempts int
	breakers    *resilience.ProviderSet
	record      Recorder
}

// NewRunner creates a runner. maxAttempts caps total provider attempts per
// request, independent of how many strategies are tried.
func NewRunner(strategies []Strategy, maxAttempts int, breakers *resilience.ProviderSet, record Recorder) *Runner {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	if record == nil {
		record = func(model.RetryAttempt) {}
	}
	return &Runner{
		strategies:  strategies,
		maxAttempts: maxAttempts,
		breakers:    breakers,
		record:      record,
	}
}

// Run executes the base plan and, on transient failure, walks the strategy
// chain in order until an attempt succeeds, the chain is exhausted, or the
// attempt cap is reached. Permanent errors and budget exhaustion stop the
// chain immediately.
func (r *Runner) Run(ctx context.Context, req model.GenerationRequest, base Plan, exec ExecFunc) (*model.Artifact, error) {
	attempts := 0
	plan := base

	artifact, err := r.attempt(ctx, req, "initial", plan, exec, &attempts)
	if err == nil && artifact != nil {
		return artifact, nil
	}
	if err != nil && !retryable(err) {
		return nil, err
	}
	lastErr := err

	for _, s := range r.strategies {
		if attempts >= r.maxAttempts {
			break
		}

		if stock, ok := s.(*StockArtifact); ok {
			path, ok := stock.ArtifactFor(req)
			if !ok {
				r.recordOutcome(req, s.Name(), lastErr, model.OutcomeSkipped)
				continue
			}
			attempts++
			r.recordOutcome(req, s.Name(), nil, model.OutcomeSucceeded)
			zap.L().Info("retry: substituting stock artifact",
				zap.String("asset_id", req.AssetID),
				zap.String("path", path),
			)
			return &model.Artifact{
				FilePath:        path,
				Cost:            0,
				GenerationModel: "stock",
				CreatedAt:       time.Now().UTC(),
			}, nil
		}

		next, ok := s.Rewrite(plan, req)
		if !ok {
			r.recordOutcome(req, s.Name(), lastErr, model.OutcomeSkipped)
			continue
		}
		plan = next

		artifact, err = r.attempt(ctx, req, s.Name(), plan, exec, &attempts)
		if err == nil && artifact != nil {
			return artifact, nil
		}
		if err != nil {
			if !retryable(err) {
				return nil, err
			}
			lastErr = err
		}
	}

	if lastErr == nil {
		lastErr = ErrAttemptsExhausted
	}
	return nil, &ExhaustedError{AssetID: req.AssetID, Attempts: attempts, Cause: lastErr}
}

// ExhaustedError reports that the chain gave up on a request. It matches
// ErrAttemptsExhausted under errors.Is while keeping the last attempt's
// failure in the chain.
type ExhaustedError struct {
	AssetID  string
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %s failed after %d attempts: %v", e.AssetID, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

func (e *ExhaustedError) Is(target error) bool { return target == ErrAttemptsExhausted }

// attempt runs one guarded execution. A nil artifact with nil error means
// the attempt was skipped (breaker open) without consuming the cap.
func (r *Runner) attempt(ctx context.Context, req model.GenerationRequest, strategy string, plan Plan, exec ExecFunc, attempts *int) (*model.Artifact, error) {
	var breaker *resilience.Breaker
	if r.breakers != nil {
		breaker = r.breakers.Get(plan.Model)
		if err := breaker.Allow(); err != nil {
			r.recordOutcome(req, strategy, err, model.OutcomeSkipped)
			zap.L().Warn("retry: provider circuit open, skipping",
				zap.String("asset_id", req.AssetID),
				zap.String("provider", plan.Model),
				zap.String("strategy", strategy),
			)
			return nil, nil
		}
	}

	*attempts++
	artifact, err := exec(ctx, plan)

	// Budget denial is a global halt, not a provider fault: the breaker
	// must not count it and the chain must not continue.
	if errors.Is(err, budget.ErrExhausted) {
		r.recordOutcome(req, strategy, err, model.OutcomeSkipped)
		return nil, err
	}

	if breaker != nil {
		breaker.Record(err)
	}
	if err != nil {
		r.recordOutcome(req, strategy, err, model.OutcomeFailed)
		zap.L().Warn("retry: attempt failed",
			zap.String("asset_id", req.AssetID),
			zap.String("strategy", strategy),
			zap.String("model", plan.Model),
			zap.Int("attempt", *attempts),
			zap.Error(err),
		)
		return nil, err
	}

	r.recordOutcome(req, strategy, nil, model.OutcomeSucceeded)
	return artifact, nil
}

func (r *Runner) recordOutcome(req model.GenerationRequest, strategy string, err error, outcome model.AttemptOutcome) {
	kind := ""
	if err != nil {
		kind = string(resilience.Classify(err))
	}
	r.record(model.RetryAttempt{
		ID:          uuid.New().String(),
		AssetID:     req.AssetID,
		Strategy:    strategy,
		ErrorKind:   kind,
		Outcome:     outcome,
		AttemptedAt: time.Now().UTC(),
	})
}

// retryable reports whether the chain should keep trying after err.
func retryable(err error) bool {
	if err == nil {
		return true
	}
	switch resilience.Classify(err) {
	case resilience.KindTransient, resilience.KindUnknown:
		return true
	default:
		return false
	}
}
