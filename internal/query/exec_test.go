package query

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamorm/internal/dbexec"
	"dreamorm/internal/sqlutil"
	"dreamorm/internal/testutil/fixtures"
)

func mockEnv(t *testing.T, dialect sqlutil.Dialect) (*Env, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewEnv(fixtures.Blog(), dbexec.Pool{Primary: dbexec.NewStandardExecutor(db)}, dialect), mock
}

func TestUpdateAllWithJoinWrapsSubqueryOnMySQL(t *testing.T) {
	env, mock := mockEnv(t, sqlutil.MySQL)
	mock.ExpectExec("UPDATE `users` SET `name` = \\? WHERE `users`.`id` IN \\(SELECT `dream_ids`.`id` FROM \\(SELECT `users`.`id` FROM `users` INNER JOIN `posts` AS `posts` ON .+\\) AS dream_ids\\)").
		WithArgs("Robert", "bob dreams").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := env.Query("User").
		InnerJoin("posts").
		Where(map[string]any{"posts.title": "bob dreams"}).
		UpdateAll(context.Background(), map[string]any{"name": "Robert"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUsesReturningOnPostgres(t *testing.T) {
	env, mock := mockEnv(t, sqlutil.Postgres)
	mock.ExpectQuery(`INSERT INTO "pets" \("name","type","user_id"\) VALUES \(\$1,\$2,\$3\) RETURNING \*`).
		WithArgs("Rex", "Dog", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "user_id"}).AddRow(int64(7), "Rex", "Dog", int64(1)))

	dog, err := env.Query("Dog").Insert(context.Background(), map[string]any{"name": "Rex", "user_id": 1})
	require.NoError(t, err)
	assert.Equal(t, "Dog", dog.Model())
	assert.Equal(t, int64(7), dog.PrimaryKey())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionErrorsAreWrapped(t *testing.T) {
	env, mock := mockEnv(t, sqlutil.Postgres)
	boom := errors.New("connection reset")
	mock.ExpectQuery(`SELECT "users".\* FROM "users"`).WillReturnError(boom)

	_, err := env.Query("User").All(context.Background())
	var qErr *Error
	require.True(t, errors.As(err, &qErr))
	assert.Equal(t, "select", qErr.Op)
	assert.Equal(t, "User", qErr.Model)
	assert.Contains(t, qErr.SQL, `FROM "users"`)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPolymorphicPreloadInsideTransactionIsSequential(t *testing.T) {
	env, mock := mockEnv(t, sqlutil.Postgres)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "likes".\* FROM "likes"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "likeable_id", "likeable_type", "user_id"}).
			AddRow(int64(1), int64(1), "Post", int64(2)).
			AddRow(int64(2), int64(1), "Comment", int64(1)))
	// type values are visited in sorted order
	mock.ExpectQuery(`SELECT "comments".\* FROM "comments" WHERE .*"comments"."id" IN \(\$1\)`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).AddRow(int64(1), "nice"))
	mock.ExpectQuery(`SELECT "posts".\* FROM "posts" WHERE .*"posts"."id" IN \(\$1\)`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(int64(1), "first dream"))
	mock.ExpectCommit()

	exec, ok := env.Pool.Primary.(dbexec.Beginner)
	require.True(t, ok)
	err := dbexec.WithTransaction(context.Background(), exec, func(tx dbexec.TxExecutor) error {
		likes, err := env.Query("Like").Txn(tx).Preload("likeable").All(context.Background())
		if err != nil {
			return err
		}
		post, err := likes[0].One("likeable")
		require.NoError(t, err)
		assert.Equal(t, "Post", post.Model())
		comment, err := likes[1].One("likeable")
		require.NoError(t, err)
		assert.Equal(t, "nice", comment.Get("body"))
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountValueConversion(t *testing.T) {
	for _, v := range []any{int64(4), int32(4), uint64(4), float64(4), "4", []byte("4")} {
		n, err := toInt64(v)
		require.NoError(t, err, "%T", v)
		assert.Equal(t, int64(4), n, "%T", v)
	}
	n, err := toInt64(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = toInt64("many")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected count value")
}
