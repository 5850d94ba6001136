package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/repo-analyser/internal/model"
)

// newTestDB returns a migrated in-memory SQLite store. Each call gets its own
// database, so tests never see each other's rows.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err, "opening test store")
	t.Cleanup(func() { db.Close() })
	return db
}

// withClock makes db.now step forward by one second on every call, so rows
// written in sequence get strictly increasing timestamps.
func withClock(db *DB, start time.Time) {
	current := start.UTC()
	db.now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func createTestUser(t *testing.T, db *DB, githubID int64, login string) *model.User {
	t.Helper()
	u := &model.User{GitHubID: githubID, Login: login, SealedToken: "sealed-" + login}
	require.NoError(t, db.Upsert(context.Background(), u))
	return u
}

func createTestRepo(t *testing.T, db *DB, userID string, externalID int64, fullName string) model.Repository {
	t.Helper()
	repos, err := db.UpsertRepositories(context.Background(), userID, []model.Repository{{
		ExternalID: externalID,
		Name:       fullName,
		FullName:   fullName,
		Language:   "Go",
	}})
	require.NoError(t, err)
	require.Len(t, repos, 1)
	return repos[0]
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Migrate(context.Background()))

	var count int
	require.NoError(t, db.conn.Get(&count, `SELECT COUNT(*) FROM schema_migrations`))
	files, err := migrationFiles(DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, len(files), count)
}

// TestMigrate_RecordsVersions drives Migrate against sqlmock to check the
// statement sequence without a real database.
func TestMigrate_RecordsVersions(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	files, err := migrationFiles(DriverPostgres)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	for range files {
		mock.ExpectBegin()
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
	}

	db := newDB(sqlx.NewDb(mockDB, "postgres"), DriverPostgres)
	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_SkipsAppliedVersions(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	files, err := migrationFiles(DriverPostgres)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"version"})
	for _, f := range files {
		rows.AddRow(f[:len(f)-len(".sql")])
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(rows)

	db := newDB(sqlx.NewDb(mockDB, "postgres"), DriverPostgres)
	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"file::memory:?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite",
		sqliteDSN(":memory:"))
	assert.Contains(t, sqliteDSN("data/app.db?mode=rwc"), "data/app.db?mode=rwc&_pragma=foreign_keys(1)")
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, DriverSQLite, db.Driver())
}
