package association

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamorm/internal/record"
	"dreamorm/internal/registry"
	"dreamorm/internal/testutil/fixtures"
)

func hopNames(hops []Hop) []string {
	names := make([]string, len(hops))
	for i, h := range hops {
		names[i] = h.Owner.Name + "." + h.Association.Name
	}
	return names
}

func TestExpandThrough(t *testing.T) {
	r := New(fixtures.Blog(), nil)

	hops, err := r.Expand("User", "comment_likes")
	require.NoError(t, err)
	assert.Equal(t, []string{"User.posts", "Post.comments", "Comment.likes"}, hopNames(hops))

	hops, err = r.Expand("User", "posts")
	require.NoError(t, err)
	assert.Equal(t, []string{"User.posts"}, hopNames(hops))
}

func TestExpandCarriesThroughConditionsToFinalHop(t *testing.T) {
	r := New(fixtures.Blog(), nil)

	hops, err := r.Expand("User", "approved_post_comments")
	require.NoError(t, err)
	require.Len(t, hops, 2)
	assert.Empty(t, hops[0].Conditions)
	require.Len(t, hops[1].Conditions, 1)
	assert.Equal(t, true, hops[1].Conditions[0].And["approved"])
}

func TestHopKeys(t *testing.T) {
	reg := fixtures.Blog()
	r := New(reg, nil)
	post, _ := reg.Model("Post")
	user, _ := reg.Model("User")

	hops, err := r.Expand("Post", "user")
	require.NoError(t, err)
	owner, target := hops[0].Keys(user)
	assert.Equal(t, "user_id", owner)
	assert.Equal(t, "id", target)

	hops, err = r.Expand("User", "posts")
	require.NoError(t, err)
	owner, target = hops[0].Keys(post)
	assert.Equal(t, "id", owner)
	assert.Equal(t, "user_id", target)
}

func TestResolveJoinPathRejectsPolymorphicBelongsTo(t *testing.T) {
	r := New(fixtures.Blog(), nil)

	_, err := r.ResolveJoinPath("Post", []string{"comments", "commentable"})
	var joinErr *PolymorphicJoinError
	require.True(t, errors.As(err, &joinErr), "got %v", err)
	assert.Equal(t, "Comment", joinErr.Model)
	assert.Equal(t, "commentable", joinErr.Association)
	assert.Equal(t, []string{"comments", "commentable"}, joinErr.Path)
	assert.Contains(t, err.Error(), "cannot join polymorphic belongs_to")

	// preloading the same association is fine
	_, err = r.ResolvePath("Comment", []string{"commentable"})
	require.NoError(t, err)
}

func TestResolvePathPolymorphicComposition(t *testing.T) {
	r := New(fixtures.Blog(), nil)

	// polymorphic has_many after polymorphic has_many composes
	steps, err := r.ResolvePath("Post", []string{"comments", "likes"})
	require.NoError(t, err)
	assert.Len(t, steps, 2)

	// polymorphic has_many after a polymorphic belongs_to does not
	_, err = r.ResolvePath("Like", []string{"likeable", "comments"})
	var compErr *PolymorphicCompositionError
	require.True(t, errors.As(err, &compErr), "got %v", err)
	assert.Equal(t, "comments", compErr.Association)
	assert.Equal(t, "Like.likeable", compErr.Earlier)

	// nor two polymorphic belongs_to hops
	_, err = r.ResolvePath("Comment", []string{"likes", "likeable"})
	require.True(t, errors.As(err, &compErr), "got %v", err)
}

func TestResolvePathUnknownAssociation(t *testing.T) {
	r := New(fixtures.Blog(), nil)

	_, err := r.ResolvePath("User", []string{"posts", "comentz"})
	var unknown *registry.UnknownAssociationError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "Post", unknown.Model)
	assert.Equal(t, "comments", unknown.Suggestion)

	_, err = r.ResolvePath("User", nil)
	require.Error(t, err)
}

func TestAssignBelongsToUsesSTIRootForType(t *testing.T) {
	reg := fixtures.Blog()
	r := New(reg, nil)
	commentModel, _ := reg.Model("Comment")
	lionModel, _ := reg.Model("Lion")

	comment := record.New(commentModel, map[string]any{"id": int64(10)})
	lion := record.New(lionModel, map[string]any{"id": int64(3), "type": "Lion"})

	require.NoError(t, r.AssignBelongsTo(comment, "commentable", lion))
	assert.Equal(t, int64(3), comment.Get("commentable_id"))
	assert.Equal(t, "Pet", comment.Get("commentable_type"))

	loaded, err := comment.One("commentable")
	require.NoError(t, err)
	assert.Same(t, lion, loaded)

	require.NoError(t, r.AssignBelongsTo(comment, "commentable", nil))
	assert.Nil(t, comment.Get("commentable_id"))
	assert.Nil(t, comment.Get("commentable_type"))
}

func TestAssignBelongsToRejectsWrongTarget(t *testing.T) {
	reg := fixtures.Blog()
	r := New(reg, nil)
	commentModel, _ := reg.Model("Comment")
	likeModel, _ := reg.Model("Like")

	comment := record.New(commentModel, map[string]any{"id": int64(10)})
	like := record.New(likeModel, map[string]any{"id": int64(1)})
	require.Error(t, r.AssignBelongsTo(comment, "commentable", like))
	require.Error(t, r.AssignBelongsTo(comment, "likes", like))
}

func likesRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	b := registry.NewBuilder(nil)
	b.Model(registry.Model{Name: "User", Columns: []string{"id"}})
	b.Model(registry.Model{
		Name:    "Post",
		Columns: []string{"id", "writer_id"},
		Associations: []registry.Association{
			{Name: "author", Type: registry.BelongsTo, Targets: []string{"User"}, ForeignKey: "writer_id"},
		},
	})
	b.Model(registry.Model{
		Name:    "Note",
		Columns: []string{"id", "user_id"},
		Associations: []registry.Association{
			{Name: "author", Type: registry.BelongsTo, Targets: []string{"User"}, ForeignKey: "user_id"},
			{Name: "tags", Type: registry.HasMany, Targets: []string{"Tag"}},
		},
	})
	b.Model(registry.Model{Name: "Tag", Columns: []string{"id", "note_id"}})
	b.Model(registry.Model{
		Name:    "Like",
		Columns: []string{"id", "likeable_id", "likeable_type"},
		Associations: []registry.Association{
			{Name: "likeable", Type: registry.BelongsTo, Targets: []string{"Post", "Note"}},
			{
				Name:       "likeable_author",
				Type:       registry.HasOne,
				Through:    "likeable",
				Source:     "author",
				Conditions: registry.Conditions{And: map[string]any{"id": 1}},
			},
		},
	})
	reg, err := b.Build()
	require.NoError(t, err)
	return reg
}

func TestExpandThroughPolymorphicBelongsToFollowsEveryTarget(t *testing.T) {
	r := New(likesRegistry(t), nil)

	hops, err := r.Expand("Like", "likeable_author")
	require.NoError(t, err)
	assert.Equal(t, []string{"Like.likeable", "Post.author", "Note.author"}, hopNames(hops))
	assert.Equal(t, "writer_id", hops[1].Association.ForeignKey)
	assert.Equal(t, "user_id", hops[2].Association.ForeignKey)
	for _, hop := range hops[1:] {
		require.Len(t, hop.Conditions, 1, hop.Owner.Name)
	}
}

func TestResolvePathAfterPolymorphicBelongsTo(t *testing.T) {
	r := New(likesRegistry(t), nil)

	steps, err := r.ResolvePath("Like", []string{"likeable", "tags"})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "Note", steps[1].Association.Owner)

	_, err = r.ResolvePath("Like", []string{"likeable", "tagz"})
	var unknown *registry.UnknownAssociationError
	require.True(t, errors.As(err, &unknown), "got %v", err)

	_, err = r.ResolveJoinPath("Like", []string{"likeable", "tags"})
	var joinErr *PolymorphicJoinError
	require.True(t, errors.As(err, &joinErr), "got %v", err)
}
