package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/caribdata/opendata-cli/internal/model"
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
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	files        INTEGER NOT NULL DEFAULT 0,
	rows         INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     TEXT,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_files (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	path       TEXT NOT NULL,
	sha256     TEXT NOT NULL DEFAULT '',
	rows       INTEGER NOT NULL DEFAULT 0,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, path)
);

CREATE TABLE IF NOT EXISTS http_cache (
	url          TEXT PRIMARY KEY,
	body         BLOB,
	etag         TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	fetched_at   DATETIME NOT NULL,
	expires_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_source_status ON runs(source, status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_http_cache_expires_at ON http_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) StartRun(ctx context.Context, source string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		id, source, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for %s", source)
	}

	return &model.Run{
		ID:        id,
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, files, rows int, metadata map[string]any) error {
	var metaJSON sql.NullString
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal metadata")
		}
		metaJSON = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, files = ?, rows = ?, metadata = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), files, rows, metaJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, files, rows, error, metadata, started_at, completed_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, status, files, rows, error, metadata, started_at, completed_at
		 FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY started_at DESC`

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
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) LastSuccess(ctx context.Context, source string) (*time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT completed_at FROM runs
		 WHERE source = ? AND status = ?
		 ORDER BY completed_at DESC LIMIT 1`,
		source, string(model.RunStatusComplete),
	)

	var at time.Time
	err := row.Scan(&at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last success for %s", source)
	}
	return &at, nil
}

func (s *SQLiteStore) RecordFiles(ctx context.Context, runID string, entries []model.ManifestEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_files (run_id, path, sha256, rows, size_bytes) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, path) DO UPDATE SET sha256 = excluded.sha256,
		 rows = excluded.rows, size_bytes = excluded.size_bytes`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare record files")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, runID, e.Path, e.SHA256, e.Rows, e.SizeBytes); err != nil {
			return eris.Wrapf(err, "sqlite: record file %s", e.Path)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit record files")
}

func (s *SQLiteStore) ListFiles(ctx context.Context, runID string) ([]model.ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, sha256, rows, size_bytes FROM run_files WHERE run_id = ? ORDER BY path`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list files for run %s", runID)
	}
	defer rows.Close()

	var entries []model.ManifestEntry
	for rows.Next() {
		var e model.ManifestEntry
		if err := rows.Scan(&e.Path, &e.SHA256, &e.Rows, &e.SizeBytes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run file")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list files iterate")
}

func (s *SQLiteStore) GetCachedResponse(ctx context.Context, url string) (*model.CachedResponse, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, body, etag, content_type, fetched_at, expires_at FROM http_cache
		 WHERE url = ? AND expires_at > ?`,
		url, time.Now().UTC(),
	)

	var cr model.CachedResponse
	err := row.Scan(&cr.URL, &cr.Body, &cr.ETag, &cr.ContentType, &cr.FetchedAt, &cr.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached response")
	}
	return &cr, nil
}

func (s *SQLiteStore) SetCachedResponse(ctx context.Context, resp model.CachedResponse, ttl time.Duration) error {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO http_cache (url, body, etag, content_type, fetched_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET body = excluded.body, etag = excluded.etag,
		 content_type = excluded.content_type, fetched_at = excluded.fetched_at,
		 expires_at = excluded.expires_at`,
		resp.URL, resp.Body, resp.ETag, resp.ContentType, now, expiresAt,
	)
	return eris.Wrap(err, "sqlite: set cached response")
}

func (s *SQLiteStore) DeleteExpiredResponses(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM http_cache WHERE expires_at <= ?`, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired responses")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
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

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var errMsg sql.NullString
	var metaJSON sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Source, &r.Status, &r.Files, &r.Rows, &errMsg, &metaJSON, &r.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}

	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &r.Metadata); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal metadata")
		}
	}
	if completedAt.Valid {
		at := completedAt.Time
		r.CompletedAt = &at
	}
	return &r, nil
}
