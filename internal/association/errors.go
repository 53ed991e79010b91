package association

import (
	"fmt"
	"strings"
)

// PolymorphicJoinError is returned when a join path crosses a polymorphic
// belongs-to, whose target table varies per row. Preload the association
// instead, or join each declared target explicitly.
type PolymorphicJoinError struct {
	Model       string
	Association string
	Path        []string
}

func (e *PolymorphicJoinError) Error() string {
	return fmt.Sprintf(
		"cannot join polymorphic belongs_to %s.%s (join path %s); use Preload instead",
		e.Model, e.Association, strings.Join(e.Path, "."),
	)
}

// PolymorphicCompositionError is returned when a path composes two
// polymorphic hops and either of them is a belongs-to.
type PolymorphicCompositionError struct {
	Model       string
	Association string
	// Earlier names the earlier polymorphic hop as Model.association.
	Earlier string
	Path    []string
}

func (e *PolymorphicCompositionError) Error() string {
	return fmt.Sprintf(
		"cannot compose polymorphic association %s.%s after polymorphic %s in path %s",
		e.Model, e.Association, e.Earlier, strings.Join(e.Path, "."),
	)
}
