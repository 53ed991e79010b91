package record

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamorm/internal/registry"
)

var postModel = &registry.Model{Name: "Post", Table: "posts", PrimaryKey: "id"}

func TestUnloadedAssociationFailsLoudly(t *testing.T) {
	r := New(postModel, map[string]any{"id": int64(1)})

	_, err := r.Many("comments")
	var notLoaded *NotLoadedError
	require.True(t, errors.As(err, &notLoaded))
	assert.Equal(t, "Post", notLoaded.Model)
	assert.Equal(t, "comments", notLoaded.Association)

	_, err = r.One("user")
	require.True(t, errors.As(err, &notLoaded))
	assert.False(t, r.IsLoaded("user"))
}

func TestLoadedEmptyIsDistinctFromUnloaded(t *testing.T) {
	r := New(postModel, map[string]any{"id": int64(1)})
	r.SetOne("user", nil)
	r.SetMany("comments", nil)

	user, err := r.One("user")
	require.NoError(t, err)
	assert.Nil(t, user)

	comments, err := r.Many("comments")
	require.NoError(t, err)
	assert.NotNil(t, comments)
	assert.Empty(t, comments)
	assert.Equal(t, []string{"comments", "user"}, r.Loaded())

	related, ok := r.Related("user")
	assert.True(t, ok)
	assert.Empty(t, related)
}

func TestWrongCardinalityAccess(t *testing.T) {
	r := New(postModel, map[string]any{"id": int64(1)})
	r.SetMany("comments", []*Record{New(postModel, nil)})
	_, err := r.One("comments")
	require.Error(t, err)

	r.SetOne("user", New(postModel, nil))
	_, err = r.Many("user")
	require.Error(t, err)
}

func TestAttributesNormalizeBytes(t *testing.T) {
	r := New(postModel, map[string]any{"id": int64(1), "title": []byte("hi")})
	assert.Equal(t, "hi", r.Get("title"))
	assert.Equal(t, int64(1), r.PrimaryKey())
	assert.Equal(t, []string{"id", "title"}, r.Columns())

	attrs := r.Attributes()
	attrs["title"] = "changed"
	assert.Equal(t, "hi", r.Get("title"))
	assert.True(t, r.Has("title"))
	assert.False(t, r.Has("body"))
}

func TestKeyCanonicalization(t *testing.T) {
	assert.Equal(t, Key(int64(5)), Key(5))
	assert.Equal(t, Key(int64(5)), Key([]byte("5")))
	assert.Equal(t, Key(int64(5)), Key("5"))
	assert.Equal(t, Key(int32(5)), Key(uint8(5)))
	assert.Equal(t, "5", Key(float64(5)))
	assert.Equal(t, "", Key(nil))

	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Equal(t, Key(id), Key("6BA7B810-9DAD-11D1-80B4-00C04FD430C8"))
	assert.Equal(t, TupleKey(1, "a"), TupleKey(int64(1), []byte("a")))
	assert.NotEqual(t, TupleKey(1, "a"), TupleKey("1a"))
}
