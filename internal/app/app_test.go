package app

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamorm/internal/config"
	"dreamorm/internal/logging"
	"dreamorm/internal/testutil/fixtures"
)

const schemaPath = "/blog.schema.yaml"

func seededSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blog.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range strings.Split(fixtures.BlogSchema+fixtures.BlogData, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func testConfig(dbPath string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:   config.DriverSQLite,
			Database: dbPath,
			Pool:     config.PoolConfig{MaxOpen: 1, MaxIdle: 1},
		},
		Query:  config.QueryConfig{MaxInClause: 2, DefaultPageSize: 10},
		Schema: config.SchemaConfig{Path: schemaPath},
		Observability: config.ObservabilityConfig{
			ServiceName:    "dreamorm-test",
			MetricsEnabled: true,
		},
	}
}

func schemaFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, schemaPath, fixtures.BlogSchemaYAML, 0o644))
	return fs
}

func TestInitBuildsQueryEnvironment(t *testing.T) {
	a, err := New(testConfig(seededSQLite(t)), logging.Discard(), schemaFs(t))
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	require.NoError(t, a.Init(context.Background()), "Init is idempotent")

	assert.NotEmpty(t, a.RunID())
	env := a.Env()
	require.NotNil(t, env)
	assert.Equal(t, 2, env.MaxInClause)
	assert.Equal(t, 10, env.DefaultPageSize)

	ctx := a.Context(context.Background())
	users, err := env.Query("User").Preload("posts", "comments").All(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	posts, err := users[0].Many("posts")
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	engine, ok := a.Sortable("Lion", "position")
	require.True(t, ok, "STI subclasses resolve to the root's sortable")
	assert.Equal(t, "position", engine.Column())
	_, ok = a.Sortable("Comment", "position")
	assert.False(t, ok)

	report, err := a.MetricsReport()
	require.NoError(t, err)
	assert.Contains(t, report, "dreamorm_")
}

func TestInitFailsOnBadSchema(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, schemaPath, []byte("models:\n  - name: User\n    colums: [id]\n"), 0o644))

	a, err := New(testConfig(seededSQLite(t)), logging.Discard(), fs)
	require.NoError(t, err)
	err = a.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load schema")
	assert.Nil(t, a.Env())
}

func TestInitFailsWhenDatabaseIsUnreachable(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing", "blog.db"))
	cfg.Observability.MetricsEnabled = false
	a, err := New(cfg, logging.Discard(), schemaFs(t))
	require.NoError(t, err)
	err = a.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to database")
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, logging.Discard(), nil)
	assert.EqualError(t, err, "config is required")

	_, err = New(&config.Config{}, nil, nil)
	assert.EqualError(t, err, "logger is required")

	_, err = New(&config.Config{Database: config.DatabaseConfig{Driver: "oracle"}}, logging.Discard(), nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestMetricsReportDisabled(t *testing.T) {
	cfg := testConfig(seededSQLite(t))
	cfg.Observability.MetricsEnabled = false
	a, err := New(cfg, logging.Discard(), schemaFs(t))
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	report, err := a.MetricsReport()
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestCleanupStackRunsInReverse(t *testing.T) {
	var order []string
	s := cleanupStack{}
	s.push("first", func(context.Context) error { order = append(order, "first"); return nil })
	s.push("second", func(context.Context) error { order = append(order, "second"); return assert.AnError })
	s.run(context.Background(), logging.Discard())
	assert.Equal(t, []string{"second", "first"}, order)
}
