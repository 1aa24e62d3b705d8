package model

import "time"

// EventType identifies what a pipeline observation event describes.
type EventType string

const (
	EventStageTransition EventType = "stage_transition"
	EventCostUpdate      EventType = "cost_update"
	EventCandidate       EventType = "candidate"
	EventRetryAttempt    EventType = "retry_attempt"
	EventApprovalRequest EventType = "approval_request"
	EventApprovalResult  EventType = "approval_result"
	EventRunComplete     EventType = "run_complete"
)

// Event is a single observation published by the pipeline. The observation
// channel is advisory and may be lossy; the manifest stays authoritative.
type Event struct {
	Type       EventType        `json:"type"`
	RunID      string           `json:"run_id"`
	AssetID    string           `json:"asset_id,omitempty"`
	Stage      ItemState        `json:"stage,omitempty"`
	CostSoFar  float64          `json:"cost_so_far"`
	Candidate  *PromptCandidate `json:"candidate,omitempty"`
	Attempt    *RetryAttempt    `json:"attempt,omitempty"`
	Batch      *ApprovalBatch   `json:"batch,omitempty"`
	Decision   *Decision        `json:"decision,omitempty"`
	Detail     string           `json:"detail,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
