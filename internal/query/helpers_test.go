package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dreamorm/internal/dbexec"
	"dreamorm/internal/record"
	"dreamorm/internal/sqlutil"
	"dreamorm/internal/testutil/fixtures"
	"dreamorm/internal/testutil/sqlitedb"
)

// newBlogEnv opens a seeded in-memory blog database.
func newBlogEnv(t *testing.T, opts ...Option) (*Env, *sqlitedb.TestDB) {
	t.Helper()
	tdb := sqlitedb.NewTestDB(t)
	tdb.Exec(t, fixtures.BlogSchema)
	tdb.Exec(t, fixtures.BlogData)
	pool := dbexec.Pool{Primary: dbexec.NewStandardExecutor(tdb.DB)}
	return NewEnv(fixtures.Blog(), pool, sqlutil.SQLite, opts...), tdb
}

// sqlEnv builds an Env without a database, for SQL rendering tests.
func sqlEnv(dialect sqlutil.Dialect) *Env {
	return NewEnv(fixtures.Blog(), dbexec.Pool{}, dialect)
}

func ids(t *testing.T, records []*record.Record) []int64 {
	t.Helper()
	out := make([]int64, len(records))
	for i, rec := range records {
		id, ok := rec.PrimaryKey().(int64)
		require.True(t, ok, "primary key %v is %T", rec.PrimaryKey(), rec.PrimaryKey())
		out[i] = id
	}
	return out
}

func models(records []*record.Record) []string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.Model()
	}
	return out
}

func many(t *testing.T, rec *record.Record, association string) []*record.Record {
	t.Helper()
	related, err := rec.Many(association)
	require.NoError(t, err)
	return related
}
