package sqlutil

import (
	"fmt"
	"regexp"
	"strings"
)

var aliasPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedKeywords contains SQL keywords that may not be used as bare table or
// column aliases across the supported dialects.
var reservedKeywords = map[string]bool{
	"all": true, "and": true, "any": true, "as": true, "asc": true,
	"between": true, "by": true, "case": true, "check": true, "column": true,
	"constraint": true, "create": true, "cross": true, "default": true,
	"delete": true, "desc": true, "distinct": true, "drop": true, "else": true,
	"end": true, "exists": true, "false": true, "for": true, "foreign": true,
	"from": true, "full": true, "group": true, "having": true, "in": true,
	"index": true, "inner": true, "insert": true, "intersect": true,
	"into": true, "is": true, "join": true, "key": true, "left": true,
	"like": true, "limit": true, "not": true, "null": true, "offset": true,
	"on": true, "or": true, "order": true, "outer": true, "primary": true,
	"references": true, "right": true, "select": true, "set": true,
	"table": true, "then": true, "to": true, "true": true, "union": true,
	"unique": true, "update": true, "using": true,
	"values": true, "when": true, "where": true, "with": true,
}

// InvalidAliasError reports a table or column alias that cannot be used
// safely in generated SQL.
type InvalidAliasError struct {
	Alias  string
	Reason string
}

func (e *InvalidAliasError) Error() string {
	return fmt.Sprintf("invalid alias %q: %s", e.Alias, e.Reason)
}

// IsReservedKeyword reports whether name is a reserved SQL keyword.
func IsReservedKeyword(name string) bool {
	return reservedKeywords[strings.ToLower(name)]
}

// ValidateAlias checks that alias is alphanumeric (underscores allowed, no
// leading digit) and not a reserved keyword.
func ValidateAlias(alias string) error {
	if alias == "" {
		return &InvalidAliasError{Alias: alias, Reason: "alias is empty"}
	}
	if !aliasPattern.MatchString(alias) {
		return &InvalidAliasError{Alias: alias, Reason: "only letters, digits and underscores are allowed"}
	}
	if IsReservedKeyword(alias) {
		return &InvalidAliasError{Alias: alias, Reason: "alias is a reserved SQL keyword"}
	}
	return nil
}
