package model

import "time"

// RunStatus represents the overall state of a generation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusPaused   RunStatus = "paused"
	RunStatusComplete RunStatus = "complete"
	RunStatusAborted  RunStatus = "aborted"
	RunStatusFailed   RunStatus = "failed"
)

// ItemState is the per-request state machine position.
type ItemState string

const (
	StateDiscovered        ItemState = "discovered"
	StatePromptCompetition ItemState = "prompt_competition"
	StatePendingApproval   ItemState = "pending_approval"
	StateSynthesizing      ItemState = "synthesizing"
	StateSaving            ItemState = "saving"
	StateCommitted         ItemState = "committed"
	StateFailed            ItemState = "failed"
	StateSkipped           ItemState = "skipped"
	StateBudgetExhausted   ItemState = "budget_exhausted"
)

// Terminal reports whether no further transitions are possible from s.
func (s ItemState) Terminal() bool {
	switch s {
	case StateCommitted, StateFailed, StateSkipped, StateBudgetExhausted:
		return true
	}
	return false
}

// Run is a single invocation of the generation pipeline.
type Run struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	Spent     float64   `json:"spent"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checkpoint is the durable per-run completion record used to resume a run.
// The completed set is sparse: concurrent workers finish out of submission
// order.
type Checkpoint struct {
	RunID       string              `json:"run_id"`
	Completed   map[string]struct{} `json:"completed_asset_ids"`
	SpentSoFar  float64             `json:"spent_so_far"`
	LastUpdated time.Time           `json:"last_updated"`
}

// Done reports whether the given asset completed in a prior run segment.
func (c *Checkpoint) Done(assetID string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Completed[assetID]
	return ok
}

// ManifestEntry is the per-request record in the run manifest. The manifest
// is the single source of truth for what happened to each request.
type ManifestEntry struct {
	AssetID        string    `json:"asset_id"`
	FilePath       string    `json:"file_path,omitempty"`
	PublicURL      string    `json:"public_url,omitempty"`
	Cost           float64   `json:"cost"`
	SelectedModel  string    `json:"selected_model,omitempty"`
	SelectedPrompt string    `json:"selected_prompt,omitempty"`
	CacheHit       bool      `json:"cache_hit"`
	FinalState     ItemState `json:"final_state"`
	Error          string    `json:"error,omitempty"`
}
