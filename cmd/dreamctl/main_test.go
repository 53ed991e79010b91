package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamorm/internal/testutil/fixtures"
)

type blogFiles struct {
	db     string
	schema string
}

func setupBlog(t *testing.T) blogFiles {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	files := blogFiles{db: filepath.Join(dir, "blog.db"), schema: filepath.Join(dir, "blog.schema.yaml")}
	require.NoError(t, os.WriteFile(files.schema, fixtures.BlogSchemaYAML, 0o644))

	db, err := sql.Open("sqlite", files.db)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range strings.Split(fixtures.BlogSchema+fixtures.BlogData, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return files
}

func (f blogFiles) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand(&out, &errOut)
	cmd.SetArgs(append(args,
		"--database.driver", "sqlite",
		"--database.database", f.db,
		"--schema.path", f.schema,
		"--observability.logging.level", "error",
	))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func decodeOutput(t *testing.T, raw string) queryOutput {
	t.Helper()
	var out queryOutput
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestCheck(t *testing.T) {
	files := setupBlog(t)

	out, _, err := files.run(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 10 models, 10 serializers, 2 sortables")
	assert.Contains(t, out, "approved_post_comments")

	out, _, err = files.run(t, "check", "--db")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 10 models")

	db, err := sql.Open("sqlite", files.db)
	require.NoError(t, err)
	_, err = db.Exec("DROP TABLE profiles")
	require.NoError(t, err)
	require.NoError(t, db.Close())
	out, _, err = files.run(t, "check", "--db")
	require.Error(t, err)
	assert.Contains(t, out, "error: database: Profile (profiles): table does not exist")

	require.NoError(t, os.WriteFile(files.schema, []byte("models:\n  - name: User\n    colums: [id]\n"), 0o644))
	out, _, err = files.run(t, "check")
	require.Error(t, err)
	assert.Contains(t, out, "error: schema:")
}

func TestSerializerPaths(t *testing.T) {
	files := setupBlog(t)

	out, _, err := files.run(t, "serializer-paths", "User")
	require.NoError(t, err)
	assert.Equal(t, "profile\nposts.user\nposts.comments.commentable.user\npets\n", out)

	out, _, err = files.run(t, "serializer-paths", "Cat", "--key", "summary")
	require.NoError(t, err)
	assert.Equal(t, "user\n", out)

	_, _, err = files.run(t, "serializer-paths", "Like")
	assert.Error(t, err)
}

func TestExplain(t *testing.T) {
	files := setupBlog(t)

	out, _, err := files.run(t, "explain", "User", "--join", "posts", "--where", "posts.title=bob dreams", "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, `FROM "users"`)
	assert.Contains(t, out, `INNER JOIN "posts"`)
	assert.Contains(t, out, `"deleted_at" IS NULL`)
	assert.Contains(t, out, "LIMIT 3")
	assert.Contains(t, out, "bob dreams")

	out, _, err = files.run(t, "explain", "Post", "--without-default-scopes")
	require.NoError(t, err)
	assert.NotContains(t, out, "deleted_at")

	_, _, err = files.run(t, "explain", "Post", "--join", "coments")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "comments"?`)
}

func TestQueryRendersSerializer(t *testing.T) {
	files := setupBlog(t)

	raw, _, err := files.run(t, "query", "User", "--where", "id=1")
	require.NoError(t, err)
	out := decodeOutput(t, raw)
	assert.Equal(t, 1, out.Page)
	assert.Equal(t, int64(1), out.RecordCount)
	require.Len(t, out.Results, 1)

	ada := out.Results[0]
	assert.Equal(t, "Ada", ada["name"])
	assert.Equal(t, "mathematician", ada["bio"])
	posts, ok := ada["posts"].([]any)
	require.True(t, ok)
	assert.Len(t, posts, 2)
	first := posts[0].(map[string]any)
	assert.Equal(t, "first dream", first["title"])
	assert.Equal(t, "ada@example.com", first["author_email"])
}

func TestQueryCursorWalk(t *testing.T) {
	files := setupBlog(t)

	raw, _, err := files.run(t, "query", "Post", "--raw", "--cursor", "", "--page-size", "2")
	require.NoError(t, err)
	page := decodeOutput(t, raw)
	require.Len(t, page.Results, 2)
	assert.EqualValues(t, 3, page.Results[0]["id"])
	assert.EqualValues(t, 2, page.Results[1]["id"])
	require.NotNil(t, page.NextCursor)
	require.NotEmpty(t, *page.NextCursor)

	raw, _, err = files.run(t, "query", "Post", "--raw", "--cursor", *page.NextCursor, "--page-size", "2")
	require.NoError(t, err)
	page = decodeOutput(t, raw)
	require.Len(t, page.Results, 1)
	assert.EqualValues(t, 1, page.Results[0]["id"])
	require.NotNil(t, page.NextCursor)
	assert.Empty(t, *page.NextCursor)

	_, _, err = files.run(t, "query", "User", "--raw", "--scroll", "--cursor", "bm90IGpzb24=")
	assert.ErrorContains(t, err, "invalid cursor")
}

func TestQueryMetricsReport(t *testing.T) {
	files := setupBlog(t)

	_, errOut, err := files.run(t, "query", "Comment", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, errOut, "dreamorm_")
	assert.Contains(t, errOut, "model=Comment")
}

func TestReorder(t *testing.T) {
	files := setupBlog(t)

	out, _, err := files.run(t, "reorder", "Pet", "2", "1")
	require.NoError(t, err)
	assert.Equal(t, "Dog 2 is now at position 1\n", out)

	raw, _, err := files.run(t, "query", "Pet", "--raw", "--where", "user_id=1", "--order", "position")
	require.NoError(t, err)
	pets := decodeOutput(t, raw).Results
	require.Len(t, pets, 2)
	assert.Equal(t, "Rex", pets[0]["name"])
	assert.EqualValues(t, 1, pets[0]["position"])
	assert.Equal(t, "Tom", pets[1]["name"])
	assert.EqualValues(t, 2, pets[1]["position"])

	_, _, err = files.run(t, "reorder", "Comment", "1", "1")
	assert.ErrorContains(t, err, "is not declared sortable")
}
