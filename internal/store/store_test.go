package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// startStore runs PostgreSQL in a container and returns a migrated Store.
func startStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("tutor_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx, migrationsDir(t)))
	// Migrations are idempotent.
	require.NoError(t, s.Migrate(ctx, migrationsDir(t)))
	return s
}

func TestVersions(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()

	_, err := s.LatestVersion(ctx, "sentiment")
	assert.ErrorIs(t, err, ErrNotFound)

	run := uuid.New()
	acc := 0.5
	v1 := &Version{Skill: "sentiment", Instructions: "v1", RunID: &run, BaseAccuracy: &acc}
	require.NoError(t, s.SaveVersion(ctx, v1))
	assert.Equal(t, 1, v1.Version)
	assert.NotEqual(t, uuid.Nil, v1.ID)

	v2 := &Version{Skill: "sentiment", Instructions: "v2", Descriptor: json.RawMessage(`{"name":"sentiment"}`)}
	require.NoError(t, s.SaveVersion(ctx, v2))
	assert.Equal(t, 2, v2.Version)

	require.NoError(t, s.SaveVersion(ctx, &Version{Skill: "other", Instructions: "x"}))

	all, err := s.ListVersions(ctx, "sentiment")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "v1", all[0].Instructions)
	assert.Equal(t, run, *all[0].RunID)
	assert.InDelta(t, 0.5, *all[0].BaseAccuracy, 1e-9)
	assert.Nil(t, all[1].RunID)

	latest, err := s.LatestVersion(ctx, "sentiment")
	require.NoError(t, err)
	assert.Equal(t, "v2", latest.Instructions)
	assert.JSONEq(t, `{"name":"sentiment"}`, string(latest.Descriptor))
}

func TestAnalyses(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, s.SaveAnalysis(ctx, &Analysis{Skill: "sentiment", Iteration: i, Errors: 3 - i, Report: "report"}))
	}

	got, err := s.ListAnalyses(ctx, "sentiment", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "report", got[0].Report)

	none, err := s.ListAnalyses(ctx, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
