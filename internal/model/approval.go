package model

import "time"

// BatchState tracks an approval batch through review.
type BatchState string

const (
	BatchPending           BatchState = "pending"
	BatchApproved          BatchState = "approved"
	BatchRejected          BatchState = "rejected"
	BatchPartiallyApproved BatchState = "partially_approved"
	BatchTimedOut          BatchState = "timed_out"
)

// PendingItem is one request inside an approval batch, carrying the prompt
// the reviewer is asked to approve and its estimated cost.
type PendingItem struct {
	AssetID       string    `json:"asset_id"`
	Kind          AssetKind `json:"asset_kind"`
	Prompt        string    `json:"prompt"`
	SourceModel   string    `json:"source_model"`
	EstimatedCost float64   `json:"estimated_cost"`
}

// ApprovalBatch groups pending requests awaiting a single human decision
// before incurring cost.
type ApprovalBatch struct {
	ID            string        `json:"id"`
	RunID         string        `json:"run_id"`
	Items         []PendingItem `json:"items"`
	EstimatedCost float64       `json:"estimated_cost"`
	State         BatchState    `json:"state"`
	CreatedAt     time.Time     `json:"created_at"`
}

// DecisionAction is the reviewer's verdict on a batch.
type DecisionAction string

const (
	DecisionApprove DecisionAction = "approve"
	DecisionReject  DecisionAction = "reject"
	DecisionPartial DecisionAction = "partial"
	DecisionModify  DecisionAction = "modify"
)

// Decision resolves an approval batch. Partial decisions name the subset of
// asset IDs that proceed; modify decisions substitute edited prompts and are
// implicitly approvals.
type Decision struct {
	BatchID       string            `json:"batch_id"`
	Action        DecisionAction    `json:"action"`
	ApprovedIDs   []string          `json:"approved_ids,omitempty"`
	EditedPrompts map[string]string `json:"edited_prompts,omitempty"`
	Actor         string            `json:"actor"`
	TimedOut      bool              `json:"timed_out"`
	DecidedAt     time.Time         `json:"decided_at"`
}

// Allows reports whether the decision lets the given asset proceed, and
// returns the prompt to use (edited prompts take precedence).
func (d Decision) Allows(assetID, originalPrompt string) (bool, string) {
	prompt := originalPrompt
	if edited, ok := d.EditedPrompts[assetID]; ok && edited != "" {
		prompt = edited
	}

	switch d.Action {
	case DecisionApprove, DecisionModify:
		return true, prompt
	case DecisionPartial:
		for _, id := range d.ApprovedIDs {
			if id == assetID {
				return true, prompt
			}
		}
		return false, originalPrompt
	default:
		return false, originalPrompt
	}
}
