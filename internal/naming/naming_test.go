package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableName(t *testing.T) {
	n := Default()
	assert.Equal(t, "posts", n.TableName("Post"))
	assert.Equal(t, "blog_posts", n.TableName("BlogPost"))
	assert.Equal(t, "people", n.TableName("Person"))
}

func TestTableNameOverride(t *testing.T) {
	n := New(Config{PluralOverrides: map[string]string{"status": "statuses"}})
	assert.Equal(t, "statuses", n.TableName("Status"))
}

func TestForeignKeys(t *testing.T) {
	n := Default()
	assert.Equal(t, "blog_post_id", n.ForeignKeyFor("BlogPost"))
	assert.Equal(t, "author_id", n.BelongsToForeignKey("author"))
	assert.Equal(t, "commentable_type", n.PolymorphicTypeColumn("commentable_id"))
}

func TestSourceCandidates(t *testing.T) {
	n := Default()
	assert.Equal(t, []string{"comments", "comment"}, n.SourceCandidates("comments"))
	assert.Equal(t, []string{"author", "authors"}, n.SourceCandidates("author"))
}

func TestSingularizeOverride(t *testing.T) {
	n := New(Config{SingularOverrides: map[string]string{"data": "datum"}})
	assert.Equal(t, "datum", n.Singularize("data"))
	assert.Equal(t, "user", n.Singularize("users"))
}
