package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/assetsmith/internal/db"
	"github.com/sells-group/assetsmith/internal/model"
)

// PostgresStore implements Store using pgxpool, for multi-operator
// deployments where several reviewers watch the same run history.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	spent      DOUBLE PRECISION NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	asset_id     TEXT NOT NULL,
	cost         DOUBLE PRECISION NOT NULL DEFAULT 0,
	completed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, asset_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	fingerprint TEXT PRIMARY KEY,
	file_path   TEXT NOT NULL,
	public_url  TEXT NOT NULL DEFAULT '',
	cost        DOUBLE PRECISION NOT NULL DEFAULT 0,
	model       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS candidates (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	asset_id     TEXT NOT NULL,
	source_model TEXT NOT NULL,
	prompt_text  TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	rationale    TEXT NOT NULL DEFAULT '',
	selected     BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS approvals (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	batch_id   TEXT NOT NULL,
	decision   TEXT NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	detail     JSONB,
	decided_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS retry_attempts (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	asset_id     TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	error_kind   TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL,
	attempted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS manifest (
	run_id          TEXT NOT NULL,
	asset_id        TEXT NOT NULL,
	file_path       TEXT NOT NULL DEFAULT '',
	public_url      TEXT NOT NULL DEFAULT '',
	cost            DOUBLE PRECISION NOT NULL DEFAULT 0,
	selected_model  TEXT NOT NULL DEFAULT '',
	selected_prompt TEXT NOT NULL DEFAULT '',
	cache_hit       BOOLEAN NOT NULL DEFAULT false,
	final_state     TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, asset_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_completed_at ON checkpoints(completed_at);
CREATE INDEX IF NOT EXISTS idx_candidates_asset ON candidates(run_id, asset_id);
CREATE INDEX IF NOT EXISTS idx_retry_attempts_asset ON retry_attempts(run_id, asset_id);
CREATE INDEX IF NOT EXISTS idx_approvals_run ON approvals(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, runID string) (*model.Run, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, spent, started_at, updated_at) VALUES ($1, $2, 0, $3, $4)`,
		runID, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run %s", runID)
	}
	return &model.Run{
		ID:        runID,
		Status:    model.RunStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, spent, started_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	var r model.Run
	err := row.Scan(&r.ID, &r.Status, &r.Spent, &r.StartedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, spent, started_at, updated_at FROM runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.Status, &r.Spent, &r.StartedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) MarkComplete(ctx context.Context, runID, assetID string, cost float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin mark complete")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO checkpoints (run_id, asset_id, cost, completed_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, asset_id) DO NOTHING`,
		runID, assetID, cost, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert checkpoint %s/%s", runID, assetID)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE runs SET spent = spent + $1, updated_at = $2 WHERE id = $3`,
		cost, time.Now().UTC(), runID,
	); err != nil {
		return eris.Wrapf(err, "postgres: bump run spent %s", runID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit mark complete")
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		if eris.Is(err, ErrRunNotFound) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, completed_at FROM checkpoints WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", runID)
	}
	defer rows.Close()

	cp := &model.Checkpoint{
		RunID:       runID,
		Completed:   make(map[string]struct{}),
		SpentSoFar:  run.Spent,
		LastUpdated: run.UpdatedAt,
	}
	for rows.Next() {
		var assetID string
		var completedAt time.Time
		if err := rows.Scan(&assetID, &completedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		cp.Completed[assetID] = struct{}{}
		if completedAt.After(cp.LastUpdated) {
			cp.LastUpdated = completedAt
		}
	}
	return cp, eris.Wrap(rows.Err(), "postgres: checkpoint iterate")
}

func (s *PostgresStore) DailySpend(ctx context.Context, day time.Time) (float64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var total *float64
	err := s.pool.QueryRow(ctx,
		`SELECT SUM(cost) FROM checkpoints WHERE completed_at >= $1 AND completed_at < $2`,
		start, end,
	).Scan(&total)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: daily spend")
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, fp string) (*model.Artifact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT fingerprint, file_path, public_url, cost, model, created_at FROM artifacts WHERE fingerprint = $1`,
		fp,
	)
	var a model.Artifact
	err := row.Scan(&a.Fingerprint, &a.FilePath, &a.PublicURL, &a.Cost, &a.GenerationModel, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get artifact")
	}
	return &a, nil
}

func (s *PostgresStore) PutArtifact(ctx context.Context, a model.Artifact) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (fingerprint, file_path, public_url, cost, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		a.Fingerprint, a.FilePath, a.PublicURL, a.Cost, a.GenerationModel, a.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: put artifact %s", a.Fingerprint)
}

func (s *PostgresStore) DeleteArtifact(ctx context.Context, fp string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM artifacts WHERE fingerprint = $1`, fp)
	return eris.Wrapf(err, "postgres: delete artifact %s", fp)
}

func (s *PostgresStore) SaveCandidates(ctx context.Context, runID string, cands []model.PromptCandidate) error {
	if len(cands) == 0 {
		return nil
	}
	rows := make([][]any, len(cands))
	for i, c := range cands {
		rows[i] = []any{c.ID, runID, c.AssetID, c.SourceModel, c.PromptText, c.Confidence, c.Rationale, c.Selected, c.CreatedAt.UTC()}
	}
	_, err := db.CopyRows(ctx, s.pool, "candidates",
		[]string{"id", "run_id", "asset_id", "source_model", "prompt_text", "confidence", "rationale", "selected", "created_at"},
		rows,
	)
	return eris.Wrapf(err, "postgres: save candidates for run %s", runID)
}

func (s *PostgresStore) SaveDecision(ctx context.Context, runID string, d model.Decision) error {
	detail, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal decision")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO approvals (id, run_id, batch_id, decision, actor, detail, decided_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		newID(), runID, d.BatchID, string(d.Action), d.Actor, detail, d.DecidedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save decision for batch %s", d.BatchID)
}

func (s *PostgresStore) SaveRetryAttempt(ctx context.Context, runID string, a model.RetryAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO retry_attempts (id, run_id, asset_id, strategy, error_kind, outcome, attempted_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, runID, a.AssetID, a.Strategy, a.ErrorKind, string(a.Outcome), a.AttemptedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save retry attempt %s/%s", runID, a.AssetID)
}

func (s *PostgresStore) SaveManifestEntry(ctx context.Context, runID string, e model.ManifestEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO manifest (run_id, asset_id, file_path, public_url, cost, selected_model, selected_prompt, cache_hit, final_state, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (run_id, asset_id) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			public_url = EXCLUDED.public_url,
			cost = EXCLUDED.cost,
			selected_model = EXCLUDED.selected_model,
			selected_prompt = EXCLUDED.selected_prompt,
			cache_hit = EXCLUDED.cache_hit,
			final_state = EXCLUDED.final_state,
			error = EXCLUDED.error`,
		runID, e.AssetID, e.FilePath, e.PublicURL, e.Cost, e.SelectedModel, e.SelectedPrompt, e.CacheHit, string(e.FinalState), e.Error,
	)
	return eris.Wrapf(err, "postgres: save manifest entry %s/%s", runID, e.AssetID)
}

func (s *PostgresStore) GetManifest(ctx context.Context, runID string) ([]model.ManifestEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, file_path, public_url, cost, selected_model, selected_prompt, cache_hit, final_state, error
		 FROM manifest WHERE run_id = $1 ORDER BY asset_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get manifest %s", runID)
	}
	defer rows.Close()

	var entries []model.ManifestEntry
	for rows.Next() {
		var e model.ManifestEntry
		if err := rows.Scan(&e.AssetID, &e.FilePath, &e.PublicURL, &e.Cost, &e.SelectedModel, &e.SelectedPrompt, &e.CacheHit, &e.FinalState, &e.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan manifest entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: manifest iterate")
}
