// Package store persists run, checkpoint, artifact-cache and audit state for
// the asset generation pipeline. Both backends survive process restart;
// checkpoint and cache writes are the pipeline's durability boundary, so any
// failure here is treated as fatal for a run.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assetsmith/internal/model"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = eris.New("store: run not found")

// Store defines the persistence interface for the generation pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, runID string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Checkpoints. MarkComplete atomically records the item and increments
	// the run's spent counter in one transaction.
	MarkComplete(ctx context.Context, runID, assetID string, cost float64) error
	LoadCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error)
	// DailySpend sums completed cost across all runs for the given day (UTC),
	// used as the daily-limit baseline at run start.
	DailySpend(ctx context.Context, day time.Time) (float64, error)

	// Artifact cache, keyed by fingerprint. GetArtifact returns nil on miss.
	// PutArtifact is single-writer-wins: a concurrent duplicate insert keeps
	// the first row.
	GetArtifact(ctx context.Context, fp string) (*model.Artifact, error)
	PutArtifact(ctx context.Context, a model.Artifact) error
	DeleteArtifact(ctx context.Context, fp string) error

	// Audit trail
	SaveCandidates(ctx context.Context, runID string, cands []model.PromptCandidate) error
	SaveDecision(ctx context.Context, runID string, d model.Decision) error
	SaveRetryAttempt(ctx context.Context, runID string, a model.RetryAttempt) error

	// Manifest
	SaveManifestEntry(ctx context.Context, runID string, e model.ManifestEntry) error
	GetManifest(ctx context.Context, runID string) ([]model.ManifestEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
