package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/propscope/comp-engine/internal/model"
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS artifacts (
	run_id      TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	status      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_artifacts_fingerprint ON artifacts(fingerprint);
CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(status);
CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveArtifact persists a completed run artifact. The run id is the key, so
// replaying a run id overwrites the previous payload.
func (s *SQLiteStore) SaveArtifact(ctx context.Context, artifact *model.RunArtifact) error {
	if artifact == nil || artifact.RunID == "" {
		return eris.New("sqlite: artifact requires a run id")
	}

	payload, err := json.Marshal(artifact)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal artifact")
	}

	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (run_id, fingerprint, status, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   fingerprint = excluded.fingerprint,
		   status      = excluded.status,
		   payload     = excluded.payload,
		   created_at  = excluded.created_at`,
		artifact.RunID, artifact.Fingerprint, string(artifact.Meta.Status), string(payload), createdAt,
	)
	return eris.Wrapf(err, "sqlite: save artifact %s", artifact.RunID)
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, runID string) (*model.RunArtifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM artifacts WHERE run_id = ?`, runID,
	)

	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: artifact not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get artifact %s", runID)
	}
	return unmarshalArtifact(payload)
}

func (s *SQLiteStore) LatestByFingerprint(ctx context.Context, fingerprint string) (*model.RunArtifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM artifacts WHERE fingerprint = ?
		 ORDER BY created_at DESC, run_id DESC LIMIT 1`,
		fingerprint,
	)

	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest by fingerprint")
	}
	return unmarshalArtifact(payload)
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.RunArtifact, error) {
	query := `SELECT payload FROM artifacts WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Fingerprint != "" {
		query += ` AND fingerprint = ?`
		args = append(args, filter.Fingerprint)
	}
	query += ` ORDER BY created_at DESC, run_id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifacts")
	}
	defer rows.Close()

	var artifacts []model.RunArtifact
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact")
		}
		a, err := unmarshalArtifact(payload)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, eris.Wrap(rows.Err(), "sqlite: list artifacts iterate")
}

func unmarshalArtifact(payload string) (*model.RunArtifact, error) {
	var a model.RunArtifact
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal artifact")
	}
	return &a, nil
}
