package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caribdata/opendata-cli/internal/model"
)

var runColumns = []string{"id", "source", "status", "files", "rows", "error", "metadata", "started_at", "completed_at"}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_StartRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "worldbank", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.StartRun(context.Background(), "worldbank")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "worldbank", run.Source)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartRun_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "faostat", "running", pgxmock.AnyArg()).
		WillReturnError(eris.New("connection refused"))

	_, err := s.StartRun(context.Background(), "faostat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert run for faostat")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("complete", 12, 3400, pgxmock.AnyArg(), pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteRun(context.Background(), "run-1", 12, 3400, map[string]any{"countries": 14})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("complete", 0, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), "no-such-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "no-such-run", 0, 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", "catalog fetch: timeout", pgxmock.AnyArg(), "run-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FailRun(context.Background(), "run-2", eris.New("catalog fetch: timeout"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Now().Add(-10 * time.Minute).UTC()
	completed := started.Add(8 * time.Minute)
	meta := []byte(`{"countries":14}`)
	errMsg := ""

	mock.ExpectQuery(`SELECT id, source, status, files, rows, error, metadata, started_at, completed_at\s+FROM runs WHERE id = \$1`).
		WithArgs("run-3").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("run-3", "worldbank", "complete", 12, 3400, &errMsg, &meta, started, &completed))

	run, err := s.GetRun(context.Background(), "run-3")
	require.NoError(t, err)
	assert.Equal(t, "run-3", run.ID)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 12, run.Files)
	assert.Equal(t, 3400, run.Rows)
	assert.Equal(t, float64(14), run.Metadata["countries"])
	require.NotNil(t, run.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, source, status, files, rows, error, metadata, started_at, completed_at\s+FROM runs WHERE id = \$1`).
		WithArgs("no-such-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "no-such-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Now().UTC()
	mock.ExpectQuery(`FROM runs WHERE true\s+ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("run-b", "faostat", "running", 0, 0, nil, nil, started, nil).
			AddRow("run-a", "worldbank", "complete", 3, 72, nil, nil, started.Add(-time.Hour), nil))

	runs, err := s.ListRuns(context.Background(), RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID)
	assert.Equal(t, model.RunStatusRunning, runs[0].Status)
	assert.Equal(t, "run-a", runs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_StatusFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`AND status = \$1 ORDER BY started_at DESC LIMIT \$2`).
		WithArgs("failed", 20).
		WillReturnRows(pgxmock.NewRows(runColumns))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusFailed, Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastSuccess(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	doneAt := time.Now().Add(-26 * time.Hour).UTC()
	mock.ExpectQuery(`SELECT completed_at FROM runs`).
		WithArgs("worldbank", "complete").
		WillReturnRows(pgxmock.NewRows([]string{"completed_at"}).AddRow(doneAt))

	at, err := s.LastSuccess(context.Background(), "worldbank")
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.True(t, at.Equal(doneAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastSuccess_NeverRan(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT completed_at FROM runs`).
		WithArgs("messy", "complete").
		WillReturnError(pgx.ErrNoRows)

	at, err := s.LastSuccess(context.Background(), "messy")
	require.NoError(t, err)
	assert.Nil(t, at)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFiles(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cols := []string{"run_id", "path", "sha256", "rows", "size_bytes"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_run_files"}, cols).WillReturnResult(2)
	mock.ExpectExec(`DELETE FROM`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	entries := []model.ManifestEntry{
		{Path: "worldbank/JM/SP.POP.TOTL.csv", SHA256: "aaa", Rows: 24, SizeBytes: 1024},
		{Path: "worldbank/BB/SP.POP.TOTL.csv", SHA256: "bbb", Rows: 24, SizeBytes: 980},
	}
	err := s.RecordFiles(context.Background(), "run-1", entries)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFiles_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.RecordFiles(context.Background(), "run-1", nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFiles(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT path, sha256, rows, size_bytes FROM run_files WHERE run_id = \$1 ORDER BY path`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"path", "sha256", "rows", "size_bytes"}).
			AddRow("faostat/JM/food_balance.csv", "ccc", 410, int64(20480)).
			AddRow("faostat/TT/food_balance.csv", "ddd", 398, int64(19852)))

	files, err := s.ListFiles(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "faostat/JM/food_balance.csv", files[0].Path)
	assert.Equal(t, 410, files[0].Rows)
	assert.Equal(t, int64(19852), files[1].SizeBytes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- HTTP response cache ---

func TestPostgresStore_GetCachedResponse_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT url, body, etag, content_type, fetched_at, expires_at FROM http_cache`).
		WithArgs("https://api.worldbank.org/v2/country/JM/indicator/SP.POP.TOTL").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetCachedResponse(context.Background(), "https://api.worldbank.org/v2/country/JM/indicator/SP.POP.TOTL")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCachedResponse_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	fetched := time.Now().Add(-time.Hour).UTC()
	expires := fetched.Add(24 * time.Hour)
	mock.ExpectQuery(`SELECT url, body, etag, content_type, fetched_at, expires_at FROM http_cache`).
		WithArgs("https://example.org/catalog.json").
		WillReturnRows(pgxmock.NewRows([]string{"url", "body", "etag", "content_type", "fetched_at", "expires_at"}).
			AddRow("https://example.org/catalog.json", []byte(`{"items":[]}`), `"e1"`, "application/json", fetched, expires))

	got, err := s.GetCachedResponse(context.Background(), "https://example.org/catalog.json")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte(`{"items":[]}`), got.Body)
	assert.Equal(t, `"e1"`, got.ETag)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCachedResponse_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs("https://example.org/catalog.json", pgxmock.AnyArg(), `"e2"`, "application/json", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetCachedResponse(context.Background(), model.CachedResponse{
		URL:         "https://example.org/catalog.json",
		Body:        []byte(`{"items":[1]}`),
		ETag:        `"e2"`,
		ContentType: "application/json",
	}, 24*time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredResponses(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM http_cache`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteExpiredResponses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close_NoPool(t *testing.T) {
	s := &PostgresStore{}
	assert.NoError(t, s.Close())
}
