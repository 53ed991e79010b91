package query

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRecordNotFound is returned by the *OrFail lookups when no row matches.
	ErrRecordNotFound = errors.New("record not found")
	// ErrUnknownAlias is returned when a predicate or order names an alias the query never joined.
	ErrUnknownAlias = errors.New("unknown table alias")
)

// Error wraps a failure to compile or execute a statement.
type Error struct {
	Op    string
	Model string
	SQL   string
	Args  []any
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", e.Op, e.Model, e.Err)
	if e.SQL != "" {
		fmt.Fprintf(&b, " (sql: %s)", e.SQL)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}
