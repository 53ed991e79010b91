package naming

import (
	"strings"

	"github.com/iancoleman/strcase"
)

// Namer derives conventional SQL names from model and association names.
type Namer struct {
	config Config
}

// New creates a Namer with the given configuration
func New(cfg Config) *Namer {
	if cfg.PluralOverrides == nil {
		cfg.PluralOverrides = map[string]string{}
	}
	if cfg.SingularOverrides == nil {
		cfg.SingularOverrides = map[string]string{}
	}
	return &Namer{config: cfg}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig())
}

// TableName converts a model name to its conventional table name.
// Example: "BlogPost" -> "blog_posts"
func (n *Namer) TableName(model string) string {
	return n.Pluralize(strcase.ToSnake(model))
}

// ForeignKeyFor returns the column a child table uses to point at model.
// Example: "BlogPost" -> "blog_post_id"
func (n *Namer) ForeignKeyFor(model string) string {
	return strcase.ToSnake(model) + "_id"
}

// BelongsToForeignKey returns the owner-side column for a belongs-to association.
// Example: "author" -> "author_id"
func (n *Namer) BelongsToForeignKey(association string) string {
	return strcase.ToSnake(association) + "_id"
}

// PolymorphicTypeColumn returns the discriminator column paired with a
// polymorphic foreign key. Example: "commentable_id" -> "commentable_type"
func (n *Namer) PolymorphicTypeColumn(foreignKey string) string {
	base := strings.TrimSuffix(foreignKey, "_id")
	return base + "_type"
}

// SourceCandidates lists the association names tried when following a
// through association whose source was not given explicitly.
func (n *Namer) SourceCandidates(name string) []string {
	candidates := []string{name}
	for _, alt := range []string{n.Singularize(name), n.Pluralize(name)} {
		if alt == "" {
			continue
		}
		dup := false
		for _, c := range candidates {
			if c == alt {
				dup = true
				break
			}
		}
		if !dup {
			candidates = append(candidates, alt)
		}
	}
	return candidates
}
