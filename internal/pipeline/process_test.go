package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assetsmith/internal/competition"
	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/pkg/imagegen"
)

func scriptedSynth(responses ...error) *fakeSynth {
	i := 0
	return &fakeSynth{gen: func(r imagegen.GenerateRequest) (*imagegen.GenerateResponse, error) {
		var err error
		if i < len(responses) {
			err = responses[i]
			i++
		}
		if err != nil {
			return nil, err
		}
		return &imagegen.GenerateResponse{Model: r.Model, ImageData: []byte("png")}, nil
	}}
}

func TestTransientFailuresRecoveredByChain(t *testing.T) {
	cfg := testConfig(t)
	st := newMemStore()
	synth := scriptedSynth(
		&imagegen.APIError{StatusCode: 500, Message: "upstream"},
		&imagegen.APIError{StatusCode: 429, Message: "slow down"},
		nil,
	)
	models := []competition.Model{
		staticModel("fake/a", 0.9, func(r model.GenerationRequest) string { return "stubborn artwork" }),
	}
	p, _ := newTestPipeline(cfg, st, models, synth, nil)

	res, err := p.Run(context.Background(), "run-retry", []model.GenerationRequest{
		req("icon-01", model.AssetKindIcon, "ledger"),
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, model.StateCommitted, res.Entries[0].FinalState)
	assert.Equal(t, 3, synth.callCount())

	// Two failed attempts plus the recovery are all audited.
	outcomes := map[model.AttemptOutcome]int{}
	for _, a := range st.attempts {
		outcomes[a.Outcome]++
	}
	assert.Equal(t, 2, outcomes[model.OutcomeFailed])
	assert.Equal(t, 1, outcomes[model.OutcomeSucceeded])
}

func TestPermanentProviderErrorFailsAfterOneAttempt(t *testing.T) {
	cfg := testConfig(t)
	st := newMemStore()
	synth := scriptedSynth(&imagegen.APIError{StatusCode: 400, Message: "bad prompt"})
	models := []competition.Model{
		staticModel("fake/a", 0.9, func(r model.GenerationRequest) string { return "invalid artwork" }),
	}
	p, _ := newTestPipeline(cfg, st, models, synth, nil)

	res, err := p.Run(context.Background(), "run-perm", []model.GenerationRequest{
		req("icon-01", model.AssetKindIcon, "ledger"),
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, model.StateFailed, res.Entries[0].FinalState)
	assert.Equal(t, 1, synth.callCount(), "permanent errors are not retried")
	assert.Contains(t, st.checkpoints["run-perm"], "icon-01")
	// The failed reservation was released.
	assert.Zero(t, res.Spent)
}

func TestAttemptCapBoundsRetries(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retry.MaxAttempts = 3
	st := newMemStore()
	synth := &fakeSynth{gen: func(r imagegen.GenerateRequest) (*imagegen.GenerateResponse, error) {
		return nil, &imagegen.APIError{StatusCode: 503, Message: "down"}
	}}
	models := []competition.Model{
		staticModel("fake/a", 0.9, func(r model.GenerationRequest) string { return "doomed artwork" }),
	}
	p, _ := newTestPipeline(cfg, st, models, synth, nil)

	res, err := p.Run(context.Background(), "run-cap", []model.GenerationRequest{
		req("icon-01", model.AssetKindIcon, "ledger"),
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, model.StateFailed, res.Entries[0].FinalState)
	assert.LessOrEqual(t, synth.callCount(), 3)
}

func TestStockArtifactTerminatesChain(t *testing.T) {
	cfg := testConfig(t)
	stock := filepath.Join(t.TempDir(), "stock-icon.png")
	require.NoError(t, os.WriteFile(stock, []byte("stock"), 0o644))
	cfg.Pipeline.FallbackAssets = map[string]string{"icon": stock}

	st := newMemStore()
	synth := &fakeSynth{gen: func(r imagegen.GenerateRequest) (*imagegen.GenerateResponse, error) {
		return nil, &imagegen.APIError{StatusCode: 503, Message: "down"}
	}}
	models := []competition.Model{
		staticModel("fake/a", 0.9, func(r model.GenerationRequest) string { return "never renders" }),
	}
	p, _ := newTestPipeline(cfg, st, models, synth, nil)

	res, err := p.Run(context.Background(), "run-stock", []model.GenerationRequest{
		req("icon-01", model.AssetKindIcon, "ledger"),
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	entry := res.Entries[0]
	assert.Equal(t, model.StateCommitted, entry.FinalState)
	assert.Equal(t, stock, entry.FilePath)
	assert.Equal(t, "fake/a", entry.SelectedModel)
	assert.Zero(t, res.Spent, "stock substitution costs nothing")
}

func TestCheckpointFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	st := newMemStore()
	st.failMarkComplete = true
	synth := &fakeSynth{}
	models := []competition.Model{
		staticModel("fake/a", 0.9, func(r model.GenerationRequest) string { return "art" }),
	}
	p, _ := newTestPipeline(cfg, st, models, synth, nil)

	res, err := p.Run(context.Background(), "run-fatal", []model.GenerationRequest{
		req("icon-01", model.AssetKindIcon, "one"),
	})
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, res.Status)
}

func TestCacheWriteFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	st := newMemStore()
	st.failPutArtifact = true
	synth := &fakeSynth{}
	models := []competition.Model{
		staticModel("fake/a", 0.9, func(r model.GenerationRequest) string { return "art" }),
	}
	p, _ := newTestPipeline(cfg, st, models, synth, nil)

	res, err := p.Run(context.Background(), "run-cachefail", []model.GenerationRequest{
		req("icon-01", model.AssetKindIcon, "one"),
	})
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, res.Status)
}
