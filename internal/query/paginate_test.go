package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorPaginate(t *testing.T) {
	env, _ := newBlogEnv(t)
	ctx := context.Background()
	q := env.Query("Post")

	page, err := q.CursorPaginate(ctx, CursorOptions{PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, ids(t, page.Results))
	assert.Equal(t, int64(2), page.Cursor)

	page, err = q.CursorPaginate(ctx, CursorOptions{Cursor: page.Cursor, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(t, page.Results))
	assert.Nil(t, page.Cursor)
}

func TestScrollPaginate(t *testing.T) {
	env, _ := newBlogEnv(t)
	ctx := context.Background()
	q := env.Query("Post").Order(Desc("title"))

	page, err := q.ScrollPaginate(ctx, CursorOptions{PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(t, page.Results), "scrolling ignores the query order")
	assert.Equal(t, int64(2), page.Cursor)

	page, err = q.ScrollPaginate(ctx, CursorOptions{Cursor: page.Cursor, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(t, page.Results))
	assert.Nil(t, page.Cursor)
}

func TestPaginate(t *testing.T) {
	env, _ := newBlogEnv(t)
	ctx := context.Background()

	page, err := env.Query("Comment").Paginate(ctx, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), page.RecordCount)
	assert.Equal(t, int64(2), page.PageCount)
	assert.Equal(t, 2, page.CurrentPage)
	assert.Equal(t, []int64{5, 6}, ids(t, page.Results))

	page, err = env.Query("Comment").Paginate(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.CurrentPage)
	assert.Equal(t, int64(1), page.PageCount)
	assert.Len(t, page.Results, 6)
}

func TestPaginateWithLeftJoinPreload(t *testing.T) {
	env, _ := newBlogEnv(t)
	page, err := env.Query("User").LeftJoinPreload("posts").Paginate(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.RecordCount)
	assert.Equal(t, []int64{1, 2}, ids(t, page.Results))
	assert.Len(t, many(t, page.Results[0], "posts"), 2)
}
