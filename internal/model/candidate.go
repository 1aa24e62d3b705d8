package model

import "time"

// PromptCandidate is one model's proposed final prompt text for a request.
// Multiple candidates exist per request during competition; exactly one is
// marked selected. All candidates, selected or not, are retained for audit.
type PromptCandidate struct {
	ID          string    `json:"id"`
	AssetID     string    `json:"asset_id"`
	SourceModel string    `json:"source_model"`
	PromptText  string    `json:"prompt_text"`
	Confidence  float64   `json:"confidence_score"` // 0..1
	Rationale   string    `json:"rationale"`
	Selected    bool      `json:"selected"`
	CreatedAt   time.Time `json:"created_at"`
}
