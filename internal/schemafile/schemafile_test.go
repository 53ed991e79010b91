package schemafile

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamorm/internal/ops"
	"dreamorm/internal/registry"
	"dreamorm/internal/serializer"
	"dreamorm/internal/testutil/fixtures"
)

const blogYAML = `
naming:
  plural_overrides:
    person: people
models:
  - name: User
    columns: [id, email, name]
    associations:
      - {name: posts, type: has_many, targets: [Post]}
      - {name: pets, type: has_many, targets: [Pet]}
      - name: post_comments
        type: has_many
        through: posts
        source: comments
        conditions:
          and: {approved: true}
  - name: Person
    columns: [id]
  - name: Post
    columns: [id, user_id, title, position, deleted_at, score]
    default_scopes:
      - name: live
        and: {deleted_at: null}
    associations:
      - {name: user, type: belongs_to, targets: [User]}
      - name: comments
        type: has_many
        targets: [Comment]
        polymorphic: true
        foreign_key: commentable_id
        conditions:
          order: [{column: id, desc: true}]
  - name: Comment
    columns: [id, user_id, commentable_id, commentable_type, body, approved]
    associations:
      - {name: user, type: belongs_to, targets: [User]}
      - {name: commentable, type: belongs_to, targets: [Post, Pet], foreign_key: commentable_id}
  - name: Pet
    columns: [id, user_id, type, name, position]
    associations:
      - {name: user, type: belongs_to, targets: [User]}
  - {name: Cat, extends: Pet}
serializers:
  - model: User
    fields:
      - attribute: name
      - {kind: renders_many, association: posts, key: summary}
  - model: Post
    key: summary
    fields:
      - attribute: title
      - {kind: delegated, name: author, association: user, attribute: name}
sortables:
  - {model: Pet, column: position, scope: [user_id]}
`

func writeFile(t *testing.T, contents string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/schema.yaml", []byte(contents), 0o644))
	return fs
}

func TestLoadBuildsRegistry(t *testing.T) {
	schema, err := Load(writeFile(t, blogYAML), "/schema.yaml")
	require.NoError(t, err)
	reg := schema.Registry

	post, err := reg.Model("Post")
	require.NoError(t, err)
	assert.Equal(t, "posts", post.Table)
	assert.Equal(t, "id", post.PrimaryKey)
	require.Len(t, post.DefaultScopes, 1)
	assert.Equal(t, map[string]any{"deleted_at": nil}, post.DefaultScopes[0].Conditions.And)

	person, err := reg.Model("Person")
	require.NoError(t, err)
	assert.Equal(t, "people", person.Table, "naming overrides apply")

	comments, err := reg.GetAssociation("Post", "comments")
	require.NoError(t, err)
	assert.Equal(t, registry.HasMany, comments.Type)
	assert.Equal(t, "commentable_type", comments.ForeignKeyType)
	assert.Equal(t, []registry.OrderTerm{{Column: "id", Desc: true}}, comments.Conditions.Order)

	through, err := reg.GetAssociation("User", "post_comments")
	require.NoError(t, err)
	assert.Equal(t, []string{"Comment"}, through.Targets)
	assert.Equal(t, true, through.Conditions.And["approved"])

	cat, err := reg.Model("Cat")
	require.NoError(t, err)
	assert.Equal(t, "pets", cat.Table)
	_, err = reg.GetAssociation("Cat", "user")
	assert.NoError(t, err, "STI children inherit associations")
}

func TestLoadBuildsSerializersAndSortables(t *testing.T) {
	schema, err := Load(writeFile(t, blogYAML), "/schema.yaml")
	require.NoError(t, err)

	paths, err := schema.Mapper.PreloadPaths("User", serializer.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"posts", "user"}}, paths)

	require.Len(t, schema.Sortables, 1)
	assert.Equal(t, "Pet", schema.Sortables[0].Model)
	assert.Equal(t, []string{"user_id"}, schema.Sortables[0].Scope)
}

func TestOperatorValues(t *testing.T) {
	f, err := Parse([]byte(`
models:
  - name: Post
    columns: [id, score, title, user_id]
    default_scopes:
      - name: visible
        and:
          score: {gte: 3}
          user_id: {not: {in: [1, 2]}}
          title: {similar: dream}
        and_any:
          - {id: {between: [1, 10]}}
          - {id: [20, 21]}
`))
	require.NoError(t, err)
	schema, err := f.Build()
	require.NoError(t, err)

	post, err := schema.Registry.Model("Post")
	require.NoError(t, err)
	c := post.DefaultScopes[0].Conditions
	assert.Equal(t, ops.GreaterThanOrEqual(3), c.And["score"])
	assert.Equal(t, ops.Not(ops.In(1, 2)), c.And["user_id"])
	assert.True(t, ops.IsSimilarity(c.And["title"]))
	assert.Equal(t, ops.Range(1, 10), c.AndAny[0]["id"])
	assert.Equal(t, []any{20, 21}, c.AndAny[1]["id"])
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "models:\n  - name: User\n    colums: [id]\n", "colums"},
		{"bad association type", "models:\n  - name: User\n    associations:\n      - {name: x, type: has_lots, targets: [User]}\n", "has_lots"},
		{"bad operator", "models:\n  - name: Post\n    default_scopes:\n      - name: s\n        and: {id: {around: 3}}\n", "unknown operator"},
		{"bad field kind", "models:\n  - name: User\nserializers:\n  - model: User\n    fields:\n      - {kind: renders_some, association: x}\n", "renders_some"},
		{"unknown sortable column", "models:\n  - name: Pet\n    columns: [id]\nsortables:\n  - {model: Pet, column: position}\n", "position"},
		{"unknown association in serializer", "models:\n  - name: User\nserializers:\n  - model: User\n    fields:\n      - {kind: renders_many, association: posts}\n", "posts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.yaml), "/schema.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(afero.NewMemMapFs(), "/missing.yaml")
	assert.ErrorContains(t, err, "reading schema file")
}

func TestEmptyDocument(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, f.Models)
}

func TestBlogDeclarationMatchesFixtureModels(t *testing.T) {
	f, err := Parse(fixtures.BlogSchemaYAML)
	require.NoError(t, err)
	schema, err := f.Build()
	require.NoError(t, err)

	want := fixtures.Blog()
	assert.Equal(t, want.Models(), schema.Registry.Models())
	for _, name := range want.Models() {
		expected, err := want.Model(name)
		require.NoError(t, err)
		got, err := schema.Registry.Model(name)
		require.NoError(t, err)
		assert.Equal(t, *expected, *got, name)
	}

	paths, err := schema.Mapper.PreloadPaths("User", serializer.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"profile"},
		{"posts", "user"},
		{"posts", "comments", "commentable", "user"},
		{"pets"},
	}, paths)
	assert.Len(t, schema.Sortables, 2)
}
