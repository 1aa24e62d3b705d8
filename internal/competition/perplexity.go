package competition

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assetsmith/internal/cost"
	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/pkg/perplexity"
)

// PerplexityModel competes with a Perplexity chat model.
type PerplexityModel struct {
	client   perplexity.Client
	modelID  string
	priority int
	calc     *cost.Calculator
}

// NewPerplexityModel creates a competitor backed by the Perplexity API.
func NewPerplexityModel(client perplexity.Client, modelID string, priority int, calc *cost.Calculator) *PerplexityModel {
	return &PerplexityModel{client: client, modelID: modelID, priority: priority, calc: calc}
}

func (m *PerplexityModel) Name() string     { return "perplexity/" + m.modelID }
func (m *PerplexityModel) Provider() string { return "perplexity" }
func (m *PerplexityModel) Priority() int    { return m.priority }

func (m *PerplexityModel) Propose(ctx context.Context, req model.GenerationRequest) (*model.PromptCandidate, float64, error) {
	temp := 0.7
	maxTokens := anthropicMaxTokens
	resp, err := m.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: m.modelID,
		Messages: []perplexity.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	// Perplexity bills per query, not per token, so the cost is incurred
	// even when the reply fails to parse.
	spent := m.calc.PerplexityQuery()
	if err != nil {
		return nil, spent, eris.Wrapf(err, "competition: perplexity %s", m.modelID)
	}
	if len(resp.Choices) == 0 {
		return nil, spent, eris.New("competition: perplexity returned no choices")
	}

	cand, err := parseProposal(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, spent, err
	}
	return cand, spent, nil
}
