package registry

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// UnknownModelError is returned for a model name that was never registered.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q", e.Model)
}

// UnknownAssociationError is returned when a path names an association the
// model does not declare.
type UnknownAssociationError struct {
	Model       string
	Association string
	// Suggestion is the closest declared association name, if any is close.
	Suggestion string
}

func (e *UnknownAssociationError) Error() string {
	msg := fmt.Sprintf("model %s has no association %q", e.Model, e.Association)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// ThroughSourceConditionsError is returned for a through association that
// carries conditions while its source is itself a through association.
type ThroughSourceConditionsError struct {
	Model       string
	Association string
	Source      string
}

func (e *ThroughSourceConditionsError) Error() string {
	return fmt.Sprintf(
		"association %s.%s has conditions but its source %q is itself a through association; move the conditions onto the source",
		e.Model, e.Association, e.Source,
	)
}

// InvalidAssociationError reports a declaration that cannot be resolved.
type InvalidAssociationError struct {
	Model       string
	Association string
	Reason      string
}

func (e *InvalidAssociationError) Error() string {
	return fmt.Sprintf("invalid association %s.%s: %s", e.Model, e.Association, e.Reason)
}

// closestName returns the candidate nearest to name, or "" when nothing is
// within a third of the name's length.
func closestName(name string, candidates []string) string {
	best := ""
	bestDistance := -1
	lower := strings.ToLower(name)
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(lower, strings.ToLower(c))
		if bestDistance < 0 || d < bestDistance {
			best, bestDistance = c, d
		}
	}
	if best == "" {
		return ""
	}
	limit := len(name)/3 + 1
	if bestDistance > limit {
		return ""
	}
	return best
}
