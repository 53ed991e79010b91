package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"dreamorm/internal/dbexec"
	"dreamorm/internal/ops"
	"dreamorm/internal/query"
)

// queryFlags are the composition flags shared by explain and query.
type queryFlags struct {
	where             []string
	not               []string
	joins             []string
	leftJoins         []string
	preloads          []string
	leftJoinPreloads  []string
	order             []string
	limit             int
	offset            int
	distinct          bool
	withoutDefaults   bool
	withoutScopeNames []string
	replica           bool
}

func (f *queryFlags) bind(fs *pflag.FlagSet) {
	fs.StringArrayVar(&f.where, "where", nil, "Condition column=value (repeatable; a,b means IN, null means IS NULL, ~text means similar)")
	fs.StringArrayVar(&f.not, "not", nil, "Negated condition column=value (repeatable)")
	fs.StringArrayVar(&f.joins, "join", nil, "Inner join an association path such as posts.comments (repeatable)")
	fs.StringArrayVar(&f.leftJoins, "left-join", nil, "Left join an association path (repeatable)")
	fs.StringArrayVar(&f.preloads, "preload", nil, "Preload an association path (repeatable)")
	fs.StringArrayVar(&f.leftJoinPreloads, "left-join-preload", nil, "Preload an association path through one joined query (repeatable)")
	fs.StringArrayVar(&f.order, "order", nil, "Order column, prefix with - for descending (repeatable)")
	fs.IntVar(&f.limit, "limit", 0, "Limit")
	fs.IntVar(&f.offset, "offset", 0, "Offset")
	fs.BoolVar(&f.distinct, "distinct", false, "Select distinct rows")
	fs.BoolVar(&f.withoutDefaults, "without-default-scopes", false, "Drop every default scope")
	fs.StringArrayVar(&f.withoutScopeNames, "without-default-scope", nil, "Drop one named default scope (repeatable)")
	fs.BoolVar(&f.replica, "replica", false, "Read from the replica connection")
}

func (f *queryFlags) apply(q query.Query) (query.Query, error) {
	where, err := parseConditions(f.where)
	if err != nil {
		return q, err
	}
	if len(where) > 0 {
		q = q.Where(where)
	}
	not, err := parseConditions(f.not)
	if err != nil {
		return q, err
	}
	if len(not) > 0 {
		q = q.AndNot(not)
	}
	for _, p := range f.joins {
		q = q.InnerJoin(splitPath(p)...)
	}
	for _, p := range f.leftJoins {
		q = q.LeftJoin(splitPath(p)...)
	}
	for _, p := range f.preloads {
		q = q.Preload(splitPath(p)...)
	}
	for _, p := range f.leftJoinPreloads {
		q = q.LeftJoinPreload(splitPath(p)...)
	}
	for _, o := range f.order {
		if column, ok := strings.CutPrefix(o, "-"); ok {
			q = q.Order(query.Desc(column))
		} else {
			q = q.Order(query.Asc(o))
		}
	}
	if f.limit > 0 {
		q = q.Limit(f.limit)
	}
	if f.offset > 0 {
		q = q.Offset(f.offset)
	}
	if f.distinct {
		q = q.Distinct()
	}
	if f.withoutDefaults {
		q = q.WithoutDefaultScopes()
	}
	if len(f.withoutScopeNames) > 0 {
		q = q.WithoutDefaultScope(f.withoutScopeNames...)
	}
	if f.replica {
		q = q.Connection(dbexec.Replica)
	}
	return q, q.Err()
}

func splitPath(p string) []string {
	return strings.Split(strings.TrimSpace(p), ".")
}

func parseConditions(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		column, raw, ok := strings.Cut(pair, "=")
		column = strings.TrimSpace(column)
		if !ok || column == "" {
			return nil, fmt.Errorf("condition %q must look like column=value", pair)
		}
		switch {
		case strings.HasPrefix(raw, "~"):
			out[column] = ops.Similarity(raw[1:])
		case strings.Contains(raw, ","):
			parts := strings.Split(raw, ",")
			values := make([]any, 0, len(parts))
			for _, part := range parts {
				values = append(values, parseValue(part))
			}
			out[column] = values
		default:
			out[column] = parseValue(raw)
		}
	}
	return out, nil
}

// parseValue reads integers, booleans and null; anything else is a string.
func parseValue(raw string) any {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}
