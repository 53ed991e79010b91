package registry_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamorm/internal/registry"
	"dreamorm/internal/testutil/fixtures"
)

func TestBuildAppliesDefaults(t *testing.T) {
	reg := fixtures.Blog()

	post, err := reg.Model("Post")
	require.NoError(t, err)
	assert.Equal(t, "posts", post.Table)
	assert.Equal(t, "id", post.PrimaryKey)

	user, err := reg.GetAssociation("Post", "user")
	require.NoError(t, err)
	assert.Equal(t, "user_id", user.ForeignKey)
	assert.Equal(t, "Post", user.Owner)

	posts, err := reg.GetAssociation("User", "posts")
	require.NoError(t, err)
	assert.Equal(t, "user_id", posts.ForeignKey)

	commentable, err := reg.GetAssociation("Comment", "commentable")
	require.NoError(t, err)
	assert.True(t, commentable.IsPolymorphic())
	assert.Equal(t, "commentable_type", commentable.ForeignKeyType)

	likes, err := reg.GetAssociation("Post", "likes")
	require.NoError(t, err)
	assert.Equal(t, "likeable_type", likes.ForeignKeyType)
}

func TestListAssociationsKeepsDeclarationOrder(t *testing.T) {
	reg := fixtures.Blog()
	assocs, err := reg.ListAssociations("Comment")
	require.NoError(t, err)
	names := make([]string, len(assocs))
	for i, a := range assocs {
		names[i] = a.Name
	}
	assert.Equal(t, []string{"user", "commentable", "likes"}, names)

	assocs[0].Name = "mutated"
	again, _ := reg.ListAssociations("Comment")
	assert.Equal(t, "user", again[0].Name)
}

func TestThroughTargetsResolved(t *testing.T) {
	reg := fixtures.Blog()

	a, err := reg.GetAssociation("User", "comment_likes")
	require.NoError(t, err)
	assert.Equal(t, []string{"Like"}, a.Targets)

	a, err = reg.GetAssociation("Post", "commenters")
	require.NoError(t, err)
	assert.Equal(t, []string{"User"}, a.Targets)
}

func TestUnknownAssociationSuggestsClosestName(t *testing.T) {
	reg := fixtures.Blog()

	_, err := reg.GetAssociation("Post", "coments")
	var unknown *registry.UnknownAssociationError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "Post", unknown.Model)
	assert.Equal(t, "coments", unknown.Association)
	assert.Equal(t, "comments", unknown.Suggestion)
	assert.Contains(t, err.Error(), `did you mean "comments"`)

	_, err = reg.GetAssociation("Post", "zzzzzzzzzz")
	require.True(t, errors.As(err, &unknown))
	assert.Empty(t, unknown.Suggestion)
}

func TestUnknownModel(t *testing.T) {
	reg := fixtures.Blog()
	_, err := reg.GetAssociation("Nope", "posts")
	var unknown *registry.UnknownModelError
	require.True(t, errors.As(err, &unknown))
}

func TestSTIInheritance(t *testing.T) {
	reg := fixtures.Blog()

	pet, err := reg.Model("Pet")
	require.NoError(t, err)
	assert.True(t, pet.STIBase)
	assert.Equal(t, []string{"Cat", "Dog"}, pet.ExtendedBy)

	lion, err := reg.Model("Lion")
	require.NoError(t, err)
	assert.Equal(t, "pets", lion.Table)
	assert.Equal(t, "type", lion.TypeColumn)
	assert.True(t, lion.HasColumn("lives"))
	assert.True(t, reg.HasAssociation("Lion", "user"))

	root, err := reg.Root("Lion")
	require.NoError(t, err)
	assert.Equal(t, "Pet", root.Name)

	assert.Equal(t, []string{"Pet", "Cat", "Lion", "Dog"}, reg.Descendants("Pet"))
	assert.Equal(t, []string{"Cat", "Lion"}, reg.Descendants("Cat"))
}

func TestChildOverridesInheritedAssociation(t *testing.T) {
	b := registry.NewBuilder(nil)
	b.Model(registry.Model{Name: "Owner"})
	b.Model(registry.Model{Name: "Vehicle", Associations: []registry.Association{
		{Name: "owner", Type: registry.BelongsTo, Targets: []string{"Owner"}},
	}})
	b.Model(registry.Model{Name: "Truck", Extends: "Vehicle", Associations: []registry.Association{
		{Name: "owner", Type: registry.BelongsTo, Targets: []string{"Owner"}, ForeignKey: "fleet_owner_id"},
	}})
	reg, err := b.Build()
	require.NoError(t, err)

	a, err := reg.GetAssociation("Truck", "owner")
	require.NoError(t, err)
	assert.Equal(t, "fleet_owner_id", a.ForeignKey)

	a, err = reg.GetAssociation("Vehicle", "owner")
	require.NoError(t, err)
	assert.Equal(t, "owner_id", a.ForeignKey)
}

func TestThroughSourceConditionsRejected(t *testing.T) {
	b := registry.NewBuilder(nil)
	for _, m := range fixtures.BlogModels() {
		if m.Name == "User" {
			m.Associations = append(m.Associations, registry.Association{
				Name:       "approved_comment_likes",
				Type:       registry.HasMany,
				Through:    "posts",
				Source:     "commenters",
				Conditions: registry.Conditions{And: map[string]any{"approved": true}},
			})
		}
		b.Model(m)
	}
	_, err := b.Build()
	var condErr *registry.ThroughSourceConditionsError
	require.True(t, errors.As(err, &condErr), "got %v", err)
	assert.Equal(t, "User", condErr.Model)
	assert.Equal(t, "approved_comment_likes", condErr.Association)
	assert.Equal(t, "commenters", condErr.Source)
}

func TestThroughWithoutConditionsOverThroughSourceIsAllowed(t *testing.T) {
	b := registry.NewBuilder(nil)
	for _, m := range fixtures.BlogModels() {
		if m.Name == "User" {
			m.Associations = append(m.Associations, registry.Association{
				Name: "fans", Type: registry.HasMany, Through: "posts", Source: "commenters",
			})
		}
		b.Model(m)
	}
	reg, err := b.Build()
	require.NoError(t, err)
	a, err := reg.GetAssociation("User", "fans")
	require.NoError(t, err)
	assert.Equal(t, []string{"User"}, a.Targets)
}

func TestBuildRejectsInvalidDeclarations(t *testing.T) {
	tests := []struct {
		name   string
		models []registry.Model
	}{
		{
			name: "unknown target",
			models: []registry.Model{{Name: "A", Associations: []registry.Association{
				{Name: "b", Type: registry.BelongsTo, Targets: []string{"B"}},
			}}},
		},
		{
			name: "through not declared",
			models: []registry.Model{{Name: "A", Associations: []registry.Association{
				{Name: "cs", Type: registry.HasMany, Through: "bs"},
			}}},
		},
		{
			name: "missing source",
			models: []registry.Model{
				{Name: "A", Associations: []registry.Association{
					{Name: "bs", Type: registry.HasMany, Targets: []string{"B"}},
					{Name: "cs", Type: registry.HasMany, Through: "bs"},
				}},
				{Name: "B"},
			},
		},
		{
			name: "cyclic through",
			models: []registry.Model{{Name: "A", Associations: []registry.Association{
				{Name: "x", Type: registry.HasMany, Through: "y"},
				{Name: "y", Type: registry.HasMany, Through: "x"},
			}}},
		},
		{
			name: "polymorphic has_many without foreign key",
			models: []registry.Model{
				{Name: "A", Associations: []registry.Association{
					{Name: "bs", Type: registry.HasMany, Targets: []string{"B"}, Polymorphic: true},
				}},
				{Name: "B"},
			},
		},
		{
			name: "belongs_to through",
			models: []registry.Model{
				{Name: "A", Associations: []registry.Association{
					{Name: "bs", Type: registry.HasMany, Targets: []string{"A"}},
					{Name: "b", Type: registry.BelongsTo, Through: "bs"},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := registry.NewBuilder(nil)
			for _, m := range tt.models {
				b.Model(m)
			}
			_, err := b.Build()
			var invalid *registry.InvalidAssociationError
			require.True(t, errors.As(err, &invalid), "got %v", err)
		})
	}
}

func TestBuildRejectsUnknownParentAndDuplicates(t *testing.T) {
	_, err := registry.NewBuilder(nil).Model(registry.Model{Name: "A", Extends: "Missing"}).Build()
	require.Error(t, err)

	_, err = registry.NewBuilder(nil).Model(registry.Model{Name: "A"}).Model(registry.Model{Name: "A"}).Build()
	require.Error(t, err)
}

func TestParseAssociationType(t *testing.T) {
	for _, typ := range []registry.AssociationType{registry.BelongsTo, registry.HasOne, registry.HasMany} {
		parsed, err := registry.ParseAssociationType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
	_, err := registry.ParseAssociationType("has_few")
	require.Error(t, err)
}
