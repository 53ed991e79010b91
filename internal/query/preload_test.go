package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamorm/internal/association"
	"dreamorm/internal/dbexec"
	"dreamorm/internal/record"
	"dreamorm/internal/registry"
	"dreamorm/internal/sqlutil"
	"dreamorm/internal/testutil/sqlitedb"
)

func byID(t *testing.T, records []*record.Record) map[int64]*record.Record {
	t.Helper()
	out := make(map[int64]*record.Record, len(records))
	for i, id := range ids(t, records) {
		out[id] = records[i]
	}
	return out
}

func TestPreloadHasManyAndBelongsTo(t *testing.T) {
	env, _ := newBlogEnv(t)
	ctx := context.Background()

	users, err := env.Query("User").Preload("posts").All(ctx)
	require.NoError(t, err)
	u := byID(t, users)
	assert.Equal(t, []int64{1, 2}, ids(t, many(t, u[1], "posts")))
	assert.Equal(t, []int64{3}, ids(t, many(t, u[2], "posts")), "deleted post is scoped out")
	assert.Empty(t, many(t, u[3], "posts"))

	posts, err := env.Query("Post").Preload("comments", "user").All(ctx)
	require.NoError(t, err)
	p := byID(t, posts)
	comments := many(t, p[1], "comments")
	assert.Equal(t, []int64{1, 2}, ids(t, comments))
	author, err := comments[1].One("user")
	require.NoError(t, err)
	assert.Equal(t, int64(3), author.PrimaryKey())
}

func TestPreloadHasOneLoadsNil(t *testing.T) {
	env, _ := newBlogEnv(t)
	users, err := env.Query("User").Preload("profile").All(context.Background())
	require.NoError(t, err)
	u := byID(t, users)

	profile, err := u[1].One("profile")
	require.NoError(t, err)
	assert.Equal(t, "mathematician", profile.Get("bio"))

	profile, err = u[2].One("profile")
	require.NoError(t, err)
	assert.Nil(t, profile)
	assert.True(t, u[2].IsLoaded("profile"))
}

func TestUnloadedAssociationIsAnError(t *testing.T) {
	env, _ := newBlogEnv(t)
	user, err := env.Query("User").First(context.Background())
	require.NoError(t, err)

	_, err = user.Many("posts")
	var notLoaded *record.NotLoadedError
	require.True(t, errors.As(err, &notLoaded))
	assert.Equal(t, "User", notLoaded.Model)
	assert.Equal(t, "posts", notLoaded.Association)
}

func TestPreloadPolymorphicBelongsTo(t *testing.T) {
	env, _ := newBlogEnv(t)
	comments, err := env.Query("Comment").Preload("commentable", "user").All(context.Background())
	require.NoError(t, err)
	c := byID(t, comments)

	tests := []struct {
		comment    int64
		model      string
		id         int64
		ownerEmail string
	}{
		{comment: 1, model: "Post", id: 1, ownerEmail: "ada@example.com"},
		{comment: 4, model: "Photo", id: 1, ownerEmail: "ada@example.com"},
		{comment: 5, model: "Post", id: 3, ownerEmail: "bob@example.com"},
		{comment: 6, model: "Cat", id: 1, ownerEmail: "ada@example.com"},
	}
	for _, tt := range tests {
		target, err := c[tt.comment].One("commentable")
		require.NoError(t, err)
		require.NotNil(t, target, "comment %d", tt.comment)
		assert.Equal(t, tt.model, target.Model(), "comment %d", tt.comment)
		assert.Equal(t, tt.id, target.PrimaryKey(), "comment %d", tt.comment)
		owner, err := target.One("user")
		require.NoError(t, err)
		assert.Equal(t, tt.ownerEmail, owner.Get("email"))
	}
}

func TestPreloadPolymorphicHasManyFiltersByType(t *testing.T) {
	env, _ := newBlogEnv(t)
	ctx := context.Background()

	photos, err := env.Query("Photo").Preload("comments").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids(t, many(t, photos[0], "comments")))

	// comments on an STI child are stored against the root type
	cats, err := env.Query("Cat").Preload("comments").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{6}, ids(t, many(t, byID(t, cats)[1], "comments")))
}

func TestPreloadThrough(t *testing.T) {
	env, _ := newBlogEnv(t)
	ctx := context.Background()

	users, err := env.Query("User").Preload("comment_likes").Preload("approved_post_comments").All(ctx)
	require.NoError(t, err)
	u := byID(t, users)
	assert.Equal(t, []int64{2, 3}, ids(t, many(t, u[1], "comment_likes")), "likes on comments, not the post like sharing id 3")
	assert.Empty(t, many(t, u[2], "comment_likes"))
	assert.Equal(t, []int64{1, 3}, ids(t, many(t, u[1], "approved_post_comments")))

	posts, err := env.Query("Post").Preload("commenters").All(ctx)
	require.NoError(t, err)
	p := byID(t, posts)
	assert.Equal(t, []int64{2, 3}, ids(t, many(t, p[1], "commenters")))
	assert.Equal(t, []int64{2}, ids(t, many(t, p[2], "commenters")))
	assert.Equal(t, []int64{1}, ids(t, many(t, p[3], "commenters")))
}

func TestPreloadMatchesJoinLeafSet(t *testing.T) {
	env, _ := newBlogEnv(t)
	ctx := context.Background()

	users, err := env.Query("User").Where(map[string]any{"id": 1}).Preload("post_likes").All(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	preloaded := ids(t, many(t, users[0], "post_likes"))

	joined, err := env.Query("User").Where(map[string]any{"id": 1}).InnerJoin("post_likes").Order(Asc("post_likes.id")).Pluck(ctx, "post_likes.id")
	require.NoError(t, err)
	want := make([]int64, len(joined))
	for i, v := range joined {
		want[i] = v.(int64)
	}
	assert.Equal(t, want, preloaded)
	assert.Equal(t, []int64{1, 5}, preloaded)
}

func TestPreloadSTITargets(t *testing.T) {
	env, _ := newBlogEnv(t)
	users, err := env.Query("User").Preload("pets").All(context.Background())
	require.NoError(t, err)
	u := byID(t, users)
	assert.Equal(t, []string{"Cat", "Dog"}, models(many(t, u[1], "pets")))
	assert.Equal(t, []string{"Lion", "Pet"}, models(many(t, u[2], "pets")))
}

func TestPreloadWhereFiltersLastLevel(t *testing.T) {
	env, _ := newBlogEnv(t)
	users, err := env.Query("User").PreloadWhere([]string{"posts"}, map[string]any{"title": "second dream"}).All(context.Background())
	require.NoError(t, err)
	u := byID(t, users)
	assert.Equal(t, []int64{2}, ids(t, many(t, u[1], "posts")))
	assert.Empty(t, many(t, u[2], "posts"))
}

func TestPreloadIsIdempotent(t *testing.T) {
	env, _ := newBlogEnv(t)
	ctx := context.Background()

	q := env.Query("Post").Preload("comments", "likes")
	first, err := q.All(ctx)
	require.NoError(t, err)
	second, err := q.All(ctx)
	require.NoError(t, err)
	for i := range first {
		assert.Equal(t, ids(t, many(t, first[i], "comments")), ids(t, many(t, second[i], "comments")))
	}

	// loading again onto the same records reuses the loaded slots
	before := many(t, first[0], "comments")
	require.NoError(t, q.Load(ctx, first...))
	after := many(t, first[0], "comments")
	require.Len(t, after, len(before))
	for i := range before {
		assert.Same(t, before[i], after[i])
	}
	likes := many(t, before[0], "likes")
	assert.Equal(t, []int64{2, 3}, ids(t, likes))
}

func TestPreloadChunksKeys(t *testing.T) {
	env, _ := newBlogEnv(t, WithMaxInClause(1))
	comments, err := env.Query("Comment").Preload("user").All(context.Background())
	require.NoError(t, err)
	for _, c := range comments {
		user, err := c.One("user")
		require.NoError(t, err)
		assert.Equal(t, c.Get("user_id"), user.PrimaryKey())
	}
}

func TestPreloadErrors(t *testing.T) {
	env, _ := newBlogEnv(t)
	ctx := context.Background()

	_, err := env.Query("User").Preload("posts", "coments").All(ctx)
	var unknown *registry.UnknownAssociationError
	require.True(t, errors.As(err, &unknown), "got %v", err)
	assert.Equal(t, "comments", unknown.Suggestion)

	_, err = env.Query("Like").Preload("likeable", "comments").All(ctx)
	var compErr *association.PolymorphicCompositionError
	assert.True(t, errors.As(err, &compErr), "got %v", err)
}

func TestLeftJoinPreload(t *testing.T) {
	env, _ := newBlogEnv(t)
	ctx := context.Background()

	users, err := env.Query("User").LeftJoinPreload("posts", "comments").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(t, users), "one record per root despite fan-out")

	u := byID(t, users)
	posts := many(t, u[1], "posts")
	assert.Equal(t, []int64{1, 2}, ids(t, posts))
	assert.Equal(t, []int64{1, 2}, ids(t, many(t, posts[0], "comments")))
	assert.Equal(t, []int64{3}, ids(t, many(t, posts[1], "comments")))
	assert.Empty(t, many(t, u[3], "posts"))
}

func TestLeftJoinPreloadFilteredAndWindowed(t *testing.T) {
	env, _ := newBlogEnv(t)
	ctx := context.Background()

	users, err := env.Query("User").LeftJoinPreload("posts").Where(map[string]any{"posts.title": "bob dreams"}).All(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, ids(t, users))
	assert.Equal(t, []int64{3}, ids(t, many(t, users[0], "posts")))

	users, err = env.Query("User").LeftJoinPreload("posts").Limit(1).All(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids(t, users))
	assert.Equal(t, []int64{1, 2}, ids(t, many(t, users[0], "posts")))

	pets, err := env.Query("User").LeftJoinPreload("pets").Preload("profile").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cat", "Dog"}, models(many(t, byID(t, pets)[1], "pets")))
	assert.True(t, byID(t, pets)[1].IsLoaded("profile"))
}

func TestPreloadWhereRefetchesLoadedSlot(t *testing.T) {
	env, _ := newBlogEnv(t)
	users, err := env.Query("User").
		Where(map[string]any{"id": int64(1)}).
		Preload("posts").
		PreloadWhere([]string{"posts"}, map[string]any{"title": "first dream"}).
		All(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, []int64{1}, ids(t, many(t, users[0], "posts")))
}

// newLikesEnv declares likes on posts and notes, whose authors sit behind
// different foreign keys, and tags that only notes have.
func newLikesEnv(t *testing.T) *Env {
	t.Helper()
	b := registry.NewBuilder(nil)
	b.Model(registry.Model{Name: "User", Columns: []string{"id", "name"}})
	b.Model(registry.Model{
		Name:    "Post",
		Columns: []string{"id", "writer_id", "title"},
		Associations: []registry.Association{
			{Name: "author", Type: registry.BelongsTo, Targets: []string{"User"}, ForeignKey: "writer_id"},
		},
	})
	b.Model(registry.Model{
		Name:    "Note",
		Columns: []string{"id", "user_id", "body"},
		Associations: []registry.Association{
			{Name: "author", Type: registry.BelongsTo, Targets: []string{"User"}, ForeignKey: "user_id"},
			{Name: "tags", Type: registry.HasMany, Targets: []string{"Tag"}},
		},
	})
	b.Model(registry.Model{Name: "Tag", Columns: []string{"id", "note_id", "label"}})
	b.Model(registry.Model{
		Name:    "Like",
		Columns: []string{"id", "likeable_id", "likeable_type"},
		Associations: []registry.Association{
			{Name: "likeable", Type: registry.BelongsTo, Targets: []string{"Post", "Note"}},
			{Name: "likeable_author", Type: registry.HasOne, Through: "likeable", Source: "author"},
		},
	})
	reg, err := b.Build()
	require.NoError(t, err)

	tdb := sqlitedb.NewTestDB(t)
	tdb.Exec(t, `
CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE posts (id INTEGER PRIMARY KEY, writer_id INTEGER, title TEXT);
CREATE TABLE notes (id INTEGER PRIMARY KEY, user_id INTEGER, body TEXT);
CREATE TABLE tags (id INTEGER PRIMARY KEY, note_id INTEGER, label TEXT);
CREATE TABLE likes (id INTEGER PRIMARY KEY, likeable_id INTEGER, likeable_type TEXT);
INSERT INTO users (id, name) VALUES (1, 'ada'), (2, 'bob');
INSERT INTO posts (id, writer_id, title) VALUES (1, 1, 'dreams');
INSERT INTO notes (id, user_id, body) VALUES (1, 2, 'remember');
INSERT INTO tags (id, note_id, label) VALUES (1, 1, 'todo'), (2, 1, 'later');
INSERT INTO likes (id, likeable_id, likeable_type) VALUES (1, 1, 'Post'), (2, 1, 'Note');
`)
	return NewEnv(reg, dbexec.Pool{Primary: dbexec.NewStandardExecutor(tdb.DB)}, sqlutil.SQLite)
}

func TestPreloadThroughPolymorphicBelongsToUsesEachTargetsKeys(t *testing.T) {
	env := newLikesEnv(t)
	likes, err := env.Query("Like").Preload("likeable_author").All(context.Background())
	require.NoError(t, err)
	l := byID(t, likes)

	tests := []struct {
		like   int64
		author string
	}{
		{like: 1, author: "ada"},
		{like: 2, author: "bob"},
	}
	for _, tt := range tests {
		author, err := l[tt.like].One("likeable_author")
		require.NoError(t, err)
		require.NotNil(t, author, "like %d", tt.like)
		assert.Equal(t, tt.author, author.Get("name"), "like %d", tt.like)
	}
}

func TestPreloadAfterPolymorphicBelongsToReachesEveryTarget(t *testing.T) {
	env := newLikesEnv(t)
	likes, err := env.Query("Like").Preload("likeable", "tags").All(context.Background())
	require.NoError(t, err)
	l := byID(t, likes)

	note, err := l[2].One("likeable")
	require.NoError(t, err)
	assert.Equal(t, "Note", note.Model())
	assert.Equal(t, []int64{1, 2}, ids(t, many(t, note, "tags")))

	post, err := l[1].One("likeable")
	require.NoError(t, err)
	assert.False(t, post.IsLoaded("tags"))

	_, err = env.Query("Like").Preload("likeable", "tagz").All(context.Background())
	var unknown *registry.UnknownAssociationError
	require.True(t, errors.As(err, &unknown), "got %v", err)
}
