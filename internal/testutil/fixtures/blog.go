// Package fixtures declares a small blog domain used across package tests:
// users with posts and photos, polymorphic comments and likes, and an STI
// hierarchy of pets.
package fixtures

import (
	"dreamorm/internal/registry"
)

// BlogModels returns the blog declarations.
func BlogModels() []registry.Model {
	return []registry.Model{
		{
			Name:    "User",
			Columns: []string{"id", "email", "name"},
			Associations: []registry.Association{
				{Name: "posts", Type: registry.HasMany, Targets: []string{"Post"}},
				{Name: "photos", Type: registry.HasMany, Targets: []string{"Photo"}},
				{Name: "pets", Type: registry.HasMany, Targets: []string{"Pet"}},
				{Name: "profile", Type: registry.HasOne, Targets: []string{"Profile"}},
				{Name: "post_comments", Type: registry.HasMany, Through: "posts", Source: "comments"},
				{Name: "post_likes", Type: registry.HasMany, Through: "posts", Source: "likes"},
				{Name: "comment_likes", Type: registry.HasMany, Through: "post_comments", Source: "likes"},
				{
					Name:       "approved_post_comments",
					Type:       registry.HasMany,
					Through:    "posts",
					Source:     "comments",
					Conditions: registry.Conditions{And: map[string]any{"approved": true}},
				},
			},
		},
		{
			Name:    "Profile",
			Columns: []string{"id", "user_id", "bio"},
			Associations: []registry.Association{
				{Name: "user", Type: registry.BelongsTo, Targets: []string{"User"}},
			},
		},
		{
			Name:    "Post",
			Columns: []string{"id", "user_id", "title", "body", "position", "deleted_at"},
			DefaultScopes: []registry.Scope{
				{Name: "live", Conditions: registry.Conditions{And: map[string]any{"deleted_at": nil}}},
			},
			Associations: []registry.Association{
				{Name: "user", Type: registry.BelongsTo, Targets: []string{"User"}},
				{
					Name:           "comments",
					Type:           registry.HasMany,
					Targets:        []string{"Comment"},
					Polymorphic:    true,
					ForeignKey:     "commentable_id",
					ForeignKeyType: "commentable_type",
				},
				{
					Name:        "likes",
					Type:        registry.HasMany,
					Targets:     []string{"Like"},
					Polymorphic: true,
					ForeignKey:  "likeable_id",
				},
				{Name: "commenters", Type: registry.HasMany, Through: "comments", Source: "user",
					Conditions: registry.Conditions{Distinct: true}},
				{
					Name:        "recent_comments",
					Type:        registry.HasMany,
					Targets:     []string{"Comment"},
					Polymorphic: true,
					ForeignKey:  "commentable_id",
					Conditions:  registry.Conditions{Order: []registry.OrderTerm{{Column: "id", Desc: true}}},
				},
			},
		},
		{
			Name:    "Photo",
			Columns: []string{"id", "user_id", "title"},
			Associations: []registry.Association{
				{Name: "user", Type: registry.BelongsTo, Targets: []string{"User"}},
				{
					Name:        "comments",
					Type:        registry.HasMany,
					Targets:     []string{"Comment"},
					Polymorphic: true,
					ForeignKey:  "commentable_id",
				},
			},
		},
		{
			Name:    "Comment",
			Columns: []string{"id", "user_id", "commentable_id", "commentable_type", "body", "approved"},
			Associations: []registry.Association{
				{Name: "user", Type: registry.BelongsTo, Targets: []string{"User"}},
				{
					Name:       "commentable",
					Type:       registry.BelongsTo,
					Targets:    []string{"Post", "Photo", "Pet"},
					ForeignKey: "commentable_id",
				},
				{
					Name:        "likes",
					Type:        registry.HasMany,
					Targets:     []string{"Like"},
					Polymorphic: true,
					ForeignKey:  "likeable_id",
				},
			},
		},
		{
			Name:    "Like",
			Columns: []string{"id", "likeable_id", "likeable_type", "user_id"},
			Associations: []registry.Association{
				{Name: "likeable", Type: registry.BelongsTo, Targets: []string{"Post", "Comment"}, ForeignKey: "likeable_id"},
				{Name: "user", Type: registry.BelongsTo, Targets: []string{"User"}},
			},
		},
		{
			Name:    "Pet",
			Columns: []string{"id", "user_id", "type", "name", "position"},
			Associations: []registry.Association{
				{Name: "user", Type: registry.BelongsTo, Targets: []string{"User"}},
				{
					Name:        "comments",
					Type:        registry.HasMany,
					Targets:     []string{"Comment"},
					Polymorphic: true,
					ForeignKey:  "commentable_id",
				},
			},
		},
		{Name: "Cat", Extends: "Pet", Columns: []string{"lives"}},
		{Name: "Lion", Extends: "Cat"},
		{Name: "Dog", Extends: "Pet"},
	}
}

// Blog builds the blog registry or panics.
func Blog() *registry.Registry {
	b := registry.NewBuilder(nil)
	for _, m := range BlogModels() {
		b.Model(m)
	}
	reg, err := b.Build()
	if err != nil {
		panic(err)
	}
	return reg
}

// BlogSchema is SQLite DDL matching BlogModels.
const BlogSchema = `
CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT, name TEXT);
CREATE TABLE profiles (id INTEGER PRIMARY KEY, user_id INTEGER, bio TEXT);
CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER, title TEXT, body TEXT, position INTEGER, deleted_at TEXT);
CREATE TABLE photos (id INTEGER PRIMARY KEY, user_id INTEGER, title TEXT);
CREATE TABLE comments (id INTEGER PRIMARY KEY, user_id INTEGER, commentable_id INTEGER, commentable_type TEXT, body TEXT, approved BOOLEAN NOT NULL DEFAULT 0);
CREATE TABLE likes (id INTEGER PRIMARY KEY, likeable_id INTEGER, likeable_type TEXT, user_id INTEGER);
CREATE TABLE pets (id INTEGER PRIMARY KEY, user_id INTEGER, type TEXT, name TEXT, position INTEGER, lives INTEGER);
`

// BlogData seeds two users with posts, photos, comments, likes and pets.
const BlogData = `
INSERT INTO users (id, email, name) VALUES (1, 'ada@example.com', 'Ada'), (2, 'bob@example.com', 'Bob'), (3, 'cy@example.com', 'Cy');
INSERT INTO profiles (id, user_id, bio) VALUES (1, 1, 'mathematician');
INSERT INTO posts (id, user_id, title, body, position, deleted_at) VALUES
  (1, 1, 'first dream', 'a', 1, NULL),
  (2, 1, 'second dream', 'b', 2, NULL),
  (3, 2, 'bob dreams', 'c', 1, NULL),
  (4, 2, 'deleted dream', 'd', 2, '2024-01-01');
INSERT INTO photos (id, user_id, title) VALUES (1, 1, 'sunset');
INSERT INTO comments (id, user_id, commentable_id, commentable_type, body, approved) VALUES
  (1, 2, 1, 'Post', 'nice', 1),
  (2, 3, 1, 'Post', 'meh', 0),
  (3, 2, 2, 'Post', 'great', 1),
  (4, 1, 1, 'Photo', 'pretty', 1),
  (5, 1, 3, 'Post', 'cool', 1),
  (6, 2, 1, 'Pet', 'good cat', 1);
INSERT INTO likes (id, likeable_id, likeable_type, user_id) VALUES
  (1, 1, 'Post', 2),
  (2, 1, 'Comment', 1),
  (3, 1, 'Comment', 3),
  (4, 3, 'Post', 1),
  (5, 2, 'Post', 3);
INSERT INTO pets (id, user_id, type, name, position, lives) VALUES
  (1, 1, 'Cat', 'Tom', 1, 9),
  (2, 1, 'Dog', 'Rex', 2, NULL),
  (3, 2, 'Lion', 'Leo', 1, 9),
  (4, 2, 'Pet', 'Blob', 2, NULL);
`
