package competition

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/assetsmith/internal/model"
)

// systemPrompt instructs a prompt model to act as an image-prompt author and
// reply with a single JSON object.
const systemPrompt = `You are an expert prompt engineer for AI image synthesis.
Given a short description of a visual asset, write one final, self-contained
image generation prompt for it.

Respond with ONLY a JSON object in this exact shape:
{"prompt": "<the final image prompt>", "confidence": <0.0-1.0>, "rationale": "<one sentence on your choices>"}

Rules:
- The prompt must fully describe subject, style, composition and palette.
- Match the asset kind: icons are simple and legible at small sizes, covers
  and headers are wide compositions, textures tile seamlessly.
- confidence is your own estimate of how well the prompt will render.
- No markdown, no code fences, no text outside the JSON object.`

// buildUserPrompt renders the per-request instruction.
func buildUserPrompt(req model.GenerationRequest) string {
	return fmt.Sprintf("Asset kind: %s\nAsset ID: %s\nDescription: %s",
		req.Kind, req.AssetID, req.SeedDescription)
}

// proposalPayload is the JSON shape every competing model replies with.
type proposalPayload struct {
	Prompt     string  `json:"prompt"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// parseProposal extracts the JSON proposal from a model reply, tolerating
// stray code fences and surrounding prose.
func parseProposal(raw string) (*model.PromptCandidate, error) {
	text := strings.TrimSpace(raw)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var p proposalPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, eris.Wrap(err, "competition: parse proposal")
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, eris.New("competition: proposal has empty prompt")
	}
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}

	return &model.PromptCandidate{
		ID:         uuid.New().String(),
		PromptText: strings.TrimSpace(p.Prompt),
		Confidence: p.Confidence,
		Rationale:  strings.TrimSpace(p.Rationale),
		CreatedAt:  time.Now().UTC(),
	}, nil
}
