package competition

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assetsmith/internal/cost"
	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/pkg/anthropic"
)

const anthropicMaxTokens = 1024

// AnthropicModel competes with one Claude model tier. Two entries with
// different model IDs act as independent competitors.
type AnthropicModel struct {
	client   anthropic.Client
	modelID  string
	priority int
	calc     *cost.Calculator
}

// NewAnthropicModel creates a competitor backed by the Anthropic API.
func NewAnthropicModel(client anthropic.Client, modelID string, priority int, calc *cost.Calculator) *AnthropicModel {
	return &AnthropicModel{client: client, modelID: modelID, priority: priority, calc: calc}
}

func (m *AnthropicModel) Name() string     { return "anthropic/" + m.modelID }
func (m *AnthropicModel) Provider() string { return "anthropic" }
func (m *AnthropicModel) Priority() int    { return m.priority }

// Propose asks the model for a final image prompt and prices the call from
// actual token usage.
func (m *AnthropicModel) Propose(ctx context.Context, req model.GenerationRequest) (*model.PromptCandidate, float64, error) {
	temp := 0.7
	resp, err := m.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     m.modelID,
		MaxTokens: anthropicMaxTokens,
		// The system prompt is identical for every request in a run, so a
		// 5m cache TTL covers the whole fan-out.
		System: anthropic.CachedSystem(systemPrompt, "5m"),
		Messages: []anthropic.Message{
			{Role: "user", Content: buildUserPrompt(req)},
		},
		Temperature: &temp,
	})
	if err != nil {
		return nil, 0, eris.Wrapf(err, "competition: anthropic %s", m.modelID)
	}

	spent := m.calc.PromptTokens(m.modelID, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	cand, err := parseProposal(text.String())
	if err != nil {
		return nil, spent, err
	}
	return cand, spent, nil
}
