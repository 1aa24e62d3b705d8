package model

import "time"

// AttemptOutcome records how a single recovery attempt ended.
type AttemptOutcome string

const (
	OutcomeSucceeded AttemptOutcome = "succeeded"
	OutcomeFailed    AttemptOutcome = "failed"
	OutcomeSkipped   AttemptOutcome = "skipped" // strategy not applicable or breaker open
)

// RetryAttempt records one pass through a recovery strategy for a failed
// generation. Attempts are capped per request by the configured maximum.
type RetryAttempt struct {
	ID          string         `json:"id"`
	AssetID     string         `json:"asset_id"`
	Strategy    string         `json:"strategy_name"`
	ErrorKind   string         `json:"error_kind"`
	Outcome     AttemptOutcome `json:"outcome"`
	AttemptedAt time.Time      `json:"attempted_at"`
}
