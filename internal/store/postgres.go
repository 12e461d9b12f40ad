package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/caribdata/opendata-cli/internal/db"
	"github.com/caribdata/opendata-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":   `INSERT INTO runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
	"complete_run": `UPDATE runs SET status = $1, files = $2, rows = $3, metadata = $4, completed_at = $5 WHERE id = $6`,
	"fail_run":     `UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
	"get_run": `SELECT id, source, status, files, rows, error, metadata, started_at, completed_at
		 FROM runs WHERE id = $1`,
	"last_success": `SELECT completed_at FROM runs
		 WHERE source = $1 AND status = $2
		 ORDER BY completed_at DESC LIMIT 1`,
	"get_cached_response": `SELECT url, body, etag, content_type, fetched_at, expires_at FROM http_cache
		 WHERE url = $1 AND expires_at > now()`,
	"set_cached_response": `INSERT INTO http_cache (url, body, etag, content_type, fetched_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (url) DO UPDATE SET body = $2, etag = $3, content_type = $4, fetched_at = $5, expires_at = $6`,
	"delete_expired_responses": `DELETE FROM http_cache WHERE expires_at <= now()`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	files        INTEGER NOT NULL DEFAULT 0,
	rows         INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     JSONB,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_files (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	path       TEXT NOT NULL,
	sha256     TEXT NOT NULL DEFAULT '',
	rows       INTEGER NOT NULL DEFAULT 0,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, path)
);

CREATE TABLE IF NOT EXISTS http_cache (
	url          TEXT PRIMARY KEY,
	body         BYTEA,
	etag         TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	fetched_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_source_status ON runs(source, status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_http_cache_expires_at ON http_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

func (s *PostgresStore) StartRun(ctx context.Context, source string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, source, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for %s", source)
	}

	return &model.Run{
		ID:        id,
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, files, rows int, metadata map[string]any) error {
	var metaJSON []byte
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal metadata")
		}
		metaJSON = raw
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, files = $2, rows = $3, metadata = $4, completed_at = $5 WHERE id = $6`,
		string(model.RunStatusComplete), files, rows, metaJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source, status, files, rows, error, metadata, started_at, completed_at
		 FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, status, files, rows, error, metadata, started_at, completed_at
		 FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) LastSuccess(ctx context.Context, source string) (*time.Time, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT completed_at FROM runs
		 WHERE source = $1 AND status = $2
		 ORDER BY completed_at DESC LIMIT 1`,
		source, string(model.RunStatusComplete),
	).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: last success for %s", source)
	}
	return &at, nil
}

func (s *PostgresStore) RecordFiles(ctx context.Context, runID string, entries []model.ManifestEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{runID, e.Path, e.SHA256, e.Rows, e.SizeBytes})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "run_files",
		Columns:      []string{"run_id", "path", "sha256", "rows", "size_bytes"},
		ConflictKeys: []string{"run_id", "path"},
	}, rows)
	return eris.Wrapf(err, "postgres: record files for run %s", runID)
}

func (s *PostgresStore) ListFiles(ctx context.Context, runID string) ([]model.ManifestEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path, sha256, rows, size_bytes FROM run_files WHERE run_id = $1 ORDER BY path`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list files for run %s", runID)
	}
	defer rows.Close()

	var entries []model.ManifestEntry
	for rows.Next() {
		var e model.ManifestEntry
		if err := rows.Scan(&e.Path, &e.SHA256, &e.Rows, &e.SizeBytes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run file")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list files iterate")
}

func (s *PostgresStore) GetCachedResponse(ctx context.Context, url string) (*model.CachedResponse, error) {
	var cr model.CachedResponse
	err := s.pool.QueryRow(ctx,
		`SELECT url, body, etag, content_type, fetched_at, expires_at FROM http_cache
		 WHERE url = $1 AND expires_at > now()`,
		url,
	).Scan(&cr.URL, &cr.Body, &cr.ETag, &cr.ContentType, &cr.FetchedAt, &cr.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached response")
	}
	return &cr, nil
}

func (s *PostgresStore) SetCachedResponse(ctx context.Context, resp model.CachedResponse, ttl time.Duration) error {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO http_cache (url, body, etag, content_type, fetched_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (url) DO UPDATE SET body = $2, etag = $3, content_type = $4, fetched_at = $5, expires_at = $6`,
		resp.URL, resp.Body, resp.ETag, resp.ContentType, now, expiresAt,
	)
	return eris.Wrap(err, "postgres: set cached response")
}

func (s *PostgresStore) DeleteExpiredResponses(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM http_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired responses")
	}
	return int(tag.RowsAffected()), nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var errMsg *string
	var metaNull *[]byte
	var completedAt *time.Time

	if err := row.Scan(&r.ID, &r.Source, &r.Status, &r.Files, &r.Rows, &errMsg, &metaNull, &r.StartedAt, &completedAt); err != nil {
		return nil, err
	}

	if errMsg != nil {
		r.Error = *errMsg
	}
	if metaNull != nil && len(*metaNull) > 0 {
		if err := json.Unmarshal(*metaNull, &r.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal metadata")
		}
	}
	r.CompletedAt = completedAt
	return &r, nil
}
