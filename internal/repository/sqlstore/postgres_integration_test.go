//go:build integration

package sqlstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sakif/repo-analyser/internal/model"
)

// startPostgres runs a throwaway postgres container and returns a migrated
// store on it. Needs a working Docker daemon.
func startPostgres(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:16-alpine",
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "analyser",
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "starting postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/analyser?sslmode=disable", host, port.Port())

	// The port can accept connections a moment before postgres is ready.
	var db *DB
	for attempt := 0; attempt < 10; attempt++ {
		db, err = Open(ctx, DriverPostgres, dsn)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "opening postgres store")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgres_EndToEnd(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	u := createTestUser(t, db, 1, "alice")
	repo := createTestRepo(t, db, u.ID, 10, "alice/app")
	a := insertTestAnalysis(t, db, repo.ID, u.ID, model.AnalysisCompleted, 88)

	got, err := db.LatestCompleted(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	require.NotNil(t, got.Report)
	assert.Equal(t, 88, got.Report.OverallScore)

	st, err := db.UserStats(ctx, u.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisStats{Total: 1, ThisWeek: 1, Repositories: 1, AvgDurationSeconds: 1.5}, st)

	updated, err := db.UpdateWebhookConfig(ctx, repo.ID, true, model.EventSet{"push"})
	require.NoError(t, err)
	assert.True(t, updated.WebhookEnabled)

	byExternal, err := db.GetByExternalID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, repo.ID, byExternal.ID)

	// Migrations are recorded, so a second run is a no-op.
	require.NoError(t, db.Migrate(ctx))
}
