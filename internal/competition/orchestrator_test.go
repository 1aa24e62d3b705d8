package competition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/assetsmith/internal/model"
)

// stubModel is a scripted competitor.
type stubModel struct {
	name       string
	provider   string
	priority   int
	confidence float64
	cost       float64
	err        error
	delay      time.Duration
}

func (m *stubModel) Name() string     { return m.name }
func (m *stubModel) Provider() string { return m.provider }
func (m *stubModel) Priority() int    { return m.priority }

func (m *stubModel) Propose(ctx context.Context, req model.GenerationRequest) (*model.PromptCandidate, float64, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, m.cost, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.cost, m.err
	}
	return &model.PromptCandidate{
		PromptText: "prompt from " + m.name,
		Confidence: m.confidence,
	}, m.cost, nil
}

func competeReq() model.GenerationRequest {
	return model.GenerationRequest{
		AssetID:         "icon-ledger",
		Kind:            model.AssetKindIcon,
		SeedDescription: "a calm blue ledger",
	}
}

func TestCompeteSelectsHighestConfidence(t *testing.T) {
	o := New([]Model{
		&stubModel{name: "a/haiku", provider: "anthropic", priority: 0, confidence: 0.6, cost: 0.01},
		&stubModel{name: "a/sonnet", provider: "anthropic", priority: 1, confidence: 0.9, cost: 0.03},
		&stubModel{name: "p/sonar", provider: "perplexity", priority: 2, confidence: 0.7, cost: 0.02},
	}, time.Second, nil)

	res, err := o.Compete(context.Background(), competeReq())
	require.NoError(t, err)
	require.Len(t, res.Candidates, 3)
	require.NotNil(t, res.Selected)
	assert.Equal(t, "a/sonnet", res.Selected.SourceModel)
	assert.True(t, res.Selected.Selected)
	assert.InDelta(t, 0.06, res.Cost, 1e-9)

	selected := 0
	for _, c := range res.Candidates {
		assert.Equal(t, "icon-ledger", c.AssetID)
		if c.Selected {
			selected++
		}
	}
	assert.Equal(t, 1, selected)
}

func TestCompeteTieBreaksOnPriority(t *testing.T) {
	// The lower-priority declaration wins an exact confidence tie even when
	// it is declared later.
	o := New([]Model{
		&stubModel{name: "p/sonar", provider: "perplexity", priority: 2, confidence: 0.8},
		&stubModel{name: "a/haiku", provider: "anthropic", priority: 0, confidence: 0.8},
	}, time.Second, nil)

	res, err := o.Compete(context.Background(), competeReq())
	require.NoError(t, err)
	assert.Equal(t, "a/haiku", res.Selected.SourceModel)
}

func TestCompeteToleratesLosingModels(t *testing.T) {
	o := New([]Model{
		&stubModel{name: "a/haiku", provider: "anthropic", confidence: 0.5, cost: 0.01},
		&stubModel{name: "p/sonar", provider: "perplexity", err: errors.New("upstream 500"), cost: 0.005},
	}, time.Second, nil)

	res, err := o.Compete(context.Background(), competeReq())
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "a/haiku", res.Selected.SourceModel)
	// Failed calls can still have billed partial cost.
	assert.InDelta(t, 0.015, res.Cost, 1e-9)
}

func TestCompeteAllModelsFail(t *testing.T) {
	o := New([]Model{
		&stubModel{name: "a/haiku", provider: "anthropic", err: errors.New("boom"), cost: 0.01},
		&stubModel{name: "p/sonar", provider: "perplexity", err: errors.New("boom"), cost: 0.01},
	}, time.Second, nil)

	res, err := o.Compete(context.Background(), competeReq())
	require.ErrorIs(t, err, ErrNoCandidates)
	require.NotNil(t, res, "cost of failed calls is still reported")
	assert.InDelta(t, 0.02, res.Cost, 1e-9)
}

func TestCompetePerModelTimeout(t *testing.T) {
	o := New([]Model{
		&stubModel{name: "a/slow", provider: "anthropic", confidence: 0.9, delay: 2 * time.Second},
		&stubModel{name: "a/fast", provider: "anthropic", confidence: 0.4},
	}, 50*time.Millisecond, nil)

	res, err := o.Compete(context.Background(), competeReq())
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "a/fast", res.Selected.SourceModel)
}

func TestCompeteParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New([]Model{
		&stubModel{name: "a/haiku", provider: "anthropic", confidence: 0.9, delay: 100 * time.Millisecond},
	}, time.Second, rate.NewLimiter(rate.Limit(1), 1))

	_, err := o.Compete(ctx, competeReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimateCost(t *testing.T) {
	models := []Model{
		&stubModel{name: "a/haiku", provider: "anthropic"},
		&stubModel{name: "p/sonar", provider: "perplexity"},
	}
	total := EstimateCost(models, func(provider, name string) float64 {
		if provider == "anthropic" {
			return 0.03
		}
		return 0.01
	})
	assert.InDelta(t, 0.04, total, 1e-9)
}

func TestSortByConfidence(t *testing.T) {
	cands := []model.PromptCandidate{
		{SourceModel: "low", Confidence: 0.2},
		{SourceModel: "high", Confidence: 0.9},
		{SourceModel: "mid", Confidence: 0.5},
	}
	SortByConfidence(cands)
	assert.Equal(t, "high", cands[0].SourceModel)
	assert.Equal(t, "mid", cands[1].SourceModel)
	assert.Equal(t, "low", cands[2].SourceModel)
}
