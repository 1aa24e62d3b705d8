package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/assetsmith/internal/budget"
	"github.com/sells-group/assetsmith/internal/dedup"
	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/internal/resilience"
	"github.com/sells-group/assetsmith/internal/retry"
	"github.com/sells-group/assetsmith/pkg/imagegen"
)

// generator returns the cache-miss path for one request: drive the retry
// runner over synthesis attempts. The dedup cache runs this at most once
// per fingerprint across concurrent identical requests.
func (p *Pipeline) generator(rt *runtime, req model.GenerationRequest, prompt, fp string) dedup.GenerateFunc {
	return func(ctx context.Context) (*model.Artifact, error) {
		p.emitStage(rt, req.AssetID, model.StateSynthesizing, "")
		base := retry.Plan{
			Prompt:  prompt,
			Model:   p.cfg.ImageGen.Model,
			Size:    p.cfg.ImageGen.Size,
			Quality: p.cfg.ImageGen.Quality,
		}
		return rt.runner.Run(ctx, req, base, p.execAttempt(rt, req, fp))
	}
}

// execAttempt performs one paid synthesis call: reserve budget, take a rate
// token, call the provider under its timeout, and write the artifact file
// durably before reporting success. A failed attempt releases its
// reservation in full.
func (p *Pipeline) execAttempt(rt *runtime, req model.GenerationRequest, fp string) retry.ExecFunc {
	return func(ctx context.Context, plan retry.Plan) (*model.Artifact, error) {
		imgCost := p.calc.Image(plan.Model, plan.Size, plan.Quality)
		if ok, _ := rt.ledger.Reserve(imgCost); !ok {
			return nil, budget.ErrExhausted
		}

		if err := p.limiter.Wait(ctx); err != nil {
			rt.ledger.Release(imgCost)
			return nil, err
		}

		callCtx := ctx
		if timeout := p.cfg.Pipeline.ProviderTimeout(); timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		resp, err := p.synth.Generate(callCtx, imagegen.GenerateRequest{
			Model:   plan.Model,
			Prompt:  plan.Prompt,
			Size:    plan.Size,
			Quality: plan.Quality,
		})
		if err != nil {
			rt.ledger.Release(imgCost)
			return nil, classifySynthesis(callCtx, ctx, err)
		}

		p.emitStage(rt, req.AssetID, model.StateSaving, "")
		path, err := writeArtifact(p.cfg.Pipeline.OutputDir, req.Kind, fp, resp.ImageData)
		if err != nil {
			rt.ledger.Release(imgCost)
			return nil, resilience.NewPermanentError(err)
		}

		return &model.Artifact{
			FilePath:        path,
			Cost:            imgCost,
			GenerationModel: plan.Model,
			CreatedAt:       time.Now().UTC(),
		}, nil
	}
}

// classifySynthesis buckets a provider failure for the retry chain. A
// per-call deadline with the parent still alive is a transient provider
// timeout, not a cancellation.
func classifySynthesis(callCtx, parent context.Context, err error) error {
	if callCtx.Err() != nil && parent.Err() == nil {
		return resilience.NewTransientError(err, 0)
	}

	var apiErr *imagegen.APIError
	if errors.As(err, &apiErr) {
		if resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return resilience.NewPermanentError(err)
	}
	return err
}
