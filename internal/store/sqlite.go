package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/assetsmith/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	spent      REAL NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	asset_id     TEXT NOT NULL,
	cost         REAL NOT NULL DEFAULT 0,
	completed_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, asset_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	fingerprint TEXT PRIMARY KEY,
	file_path   TEXT NOT NULL,
	public_url  TEXT NOT NULL DEFAULT '',
	cost        REAL NOT NULL DEFAULT 0,
	model       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS candidates (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	asset_id     TEXT NOT NULL,
	source_model TEXT NOT NULL,
	prompt_text  TEXT NOT NULL,
	confidence   REAL NOT NULL DEFAULT 0,
	rationale    TEXT NOT NULL DEFAULT '',
	selected     INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS approvals (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	batch_id   TEXT NOT NULL,
	decision   TEXT NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	detail     TEXT,
	decided_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS retry_attempts (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	asset_id     TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	error_kind   TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL,
	attempted_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS manifest (
	run_id          TEXT NOT NULL,
	asset_id        TEXT NOT NULL,
	file_path       TEXT NOT NULL DEFAULT '',
	public_url      TEXT NOT NULL DEFAULT '',
	cost            REAL NOT NULL DEFAULT 0,
	selected_model  TEXT NOT NULL DEFAULT '',
	selected_prompt TEXT NOT NULL DEFAULT '',
	cache_hit       INTEGER NOT NULL DEFAULT 0,
	final_state     TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, asset_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_completed_at ON checkpoints(completed_at);
CREATE INDEX IF NOT EXISTS idx_candidates_asset ON candidates(run_id, asset_id);
CREATE INDEX IF NOT EXISTS idx_retry_attempts_asset ON retry_attempts(run_id, asset_id);
CREATE INDEX IF NOT EXISTS idx_approvals_run ON approvals(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, runID string) (*model.Run, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, spent, started_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		runID, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run %s", runID)
	}
	return &model.Run{
		ID:        runID,
		Status:    model.RunStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, spent, started_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	var r model.Run
	err := row.Scan(&r.ID, &r.Status, &r.Spent, &r.StartedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, spent, started_at, updated_at FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.Status, &r.Spent, &r.StartedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// MarkComplete records a completed item and bumps the run's spent counter in
// one transaction. Re-marking an already-completed asset is a no-op.
func (s *SQLiteStore) MarkComplete(ctx context.Context, runID, assetID string, cost float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin mark complete")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO checkpoints (run_id, asset_id, cost, completed_at) VALUES (?, ?, ?, ?)`,
		runID, assetID, cost, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert checkpoint %s/%s", runID, assetID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		// Already checkpointed; don't double-count the spend.
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET spent = spent + ?, updated_at = ? WHERE id = ?`,
		cost, time.Now().UTC(), runID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: bump run spent %s", runID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit mark complete")
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		if eris.Is(err, ErrRunNotFound) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, completed_at FROM checkpoints WHERE run_id = ?`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", runID)
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
			return nil, eris.Wrap(err, "sqlite: scan checkpoint")
		}
		cp.Completed[assetID] = struct{}{}
		if completedAt.After(cp.LastUpdated) {
			cp.LastUpdated = completedAt
		}
	}
	return cp, eris.Wrap(rows.Err(), "sqlite: checkpoint iterate")
}

func (s *SQLiteStore) DailySpend(ctx context.Context, day time.Time) (float64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(cost) FROM checkpoints WHERE completed_at >= ? AND completed_at < ?`,
		start, end,
	).Scan(&total)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: daily spend")
	}
	return total.Float64, nil
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, fp string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, file_path, public_url, cost, model, created_at FROM artifacts WHERE fingerprint = ?`,
		fp,
	)
	var a model.Artifact
	err := row.Scan(&a.Fingerprint, &a.FilePath, &a.PublicURL, &a.Cost, &a.GenerationModel, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get artifact")
	}
	return &a, nil
}

func (s *SQLiteStore) PutArtifact(ctx context.Context, a model.Artifact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (fingerprint, file_path, public_url, cost, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		a.Fingerprint, a.FilePath, a.PublicURL, a.Cost, a.GenerationModel, a.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put artifact %s", a.Fingerprint)
}

func (s *SQLiteStore) DeleteArtifact(ctx context.Context, fp string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE fingerprint = ?`, fp)
	return eris.Wrapf(err, "sqlite: delete artifact %s", fp)
}

func (s *SQLiteStore) SaveCandidates(ctx context.Context, runID string, cands []model.PromptCandidate) error {
	if len(cands) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save candidates")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO candidates (id, run_id, asset_id, source_model, prompt_text, confidence, rationale, selected, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare candidates insert")
	}
	defer stmt.Close()

	for _, c := range cands {
		if _, err := stmt.ExecContext(ctx,
			c.ID, runID, c.AssetID, c.SourceModel, c.PromptText, c.Confidence, c.Rationale, boolToInt(c.Selected), c.CreatedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert candidate %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit candidates")
}

func (s *SQLiteStore) SaveDecision(ctx context.Context, runID string, d model.Decision) error {
	detail, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal decision")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, run_id, batch_id, decision, actor, detail, decided_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		newID(), runID, d.BatchID, string(d.Action), d.Actor, string(detail), d.DecidedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save decision for batch %s", d.BatchID)
}

func (s *SQLiteStore) SaveRetryAttempt(ctx context.Context, runID string, a model.RetryAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retry_attempts (id, run_id, asset_id, strategy, error_kind, outcome, attempted_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, runID, a.AssetID, a.Strategy, a.ErrorKind, string(a.Outcome), a.AttemptedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save retry attempt %s/%s", runID, a.AssetID)
}

func (s *SQLiteStore) SaveManifestEntry(ctx context.Context, runID string, e model.ManifestEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manifest (run_id, asset_id, file_path, public_url, cost, selected_model, selected_prompt, cache_hit, final_state, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, asset_id) DO UPDATE SET
			file_path = excluded.file_path,
			public_url = excluded.public_url,
			cost = excluded.cost,
			selected_model = excluded.selected_model,
			selected_prompt = excluded.selected_prompt,
			cache_hit = excluded.cache_hit,
			final_state = excluded.final_state,
			error = excluded.error`,
		runID, e.AssetID, e.FilePath, e.PublicURL, e.Cost, e.SelectedModel, e.SelectedPrompt, boolToInt(e.CacheHit), string(e.FinalState), e.Error,
	)
	return eris.Wrapf(err, "sqlite: save manifest entry %s/%s", runID, e.AssetID)
}

func (s *SQLiteStore) GetManifest(ctx context.Context, runID string) ([]model.ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, file_path, public_url, cost, selected_model, selected_prompt, cache_hit, final_state, error
		 FROM manifest WHERE run_id = ? ORDER BY asset_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get manifest %s", runID)
	}
	defer rows.Close()

	var entries []model.ManifestEntry
	for rows.Next() {
		var e model.ManifestEntry
		var cacheHit int
		if err := rows.Scan(&e.AssetID, &e.FilePath, &e.PublicURL, &e.Cost, &e.SelectedModel, &e.SelectedPrompt, &cacheHit, &e.FinalState, &e.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan manifest entry")
		}
		e.CacheHit = cacheHit != 0
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: manifest iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
