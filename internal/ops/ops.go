// Package ops implements the predicate algebra accepted by query where-clauses:
// equality, set membership, negation, ranges and trigram similarity.
package ops

import (
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"dreamorm/internal/sqlutil"
)

// ErrSimilarityScore is returned when a similarity threshold falls outside [0,1].
var ErrSimilarityScore = errors.New("similarity score must be between 0 and 1")

// ErrSimilarityUnsupported is returned when compiling a similarity predicate
// for a dialect without trigram support.
var ErrSimilarityUnsupported = errors.New("similarity predicates require postgres with pg_trgm")

// Op is a predicate applied to a single column.
type Op interface {
	compile(d sqlutil.Dialect, column string) (sq.Sqlizer, error)
}

type equalOp struct{ value any }

type inOp struct{ values any }

type notOp struct{ inner any }

type compareOp struct {
	operator string
	value    any
}

type rangeOp struct {
	min, max any
}

type similarityOp struct {
	text     string
	score    float64
	hasScore bool
}

// Equal matches rows where the column equals value. A nil value matches NULL.
func Equal(value any) Op { return equalOp{value: value} }

// In matches rows where the column is one of values. An empty list matches nothing.
func In(values ...any) Op { return inOp{values: values} }

// Not negates a value or another Op.
func Not(value any) Op { return notOp{inner: value} }

// GreaterThan matches column > value.
func GreaterThan(value any) Op { return compareOp{operator: ">", value: value} }

// GreaterThanOrEqual matches column >= value.
func GreaterThanOrEqual(value any) Op { return compareOp{operator: ">=", value: value} }

// LessThan matches column < value.
func LessThan(value any) Op { return compareOp{operator: "<", value: value} }

// LessThanOrEqual matches column <= value.
func LessThanOrEqual(value any) Op { return compareOp{operator: "<=", value: value} }

// Range matches min <= column <= max. Either bound may be nil to leave it open.
func Range(min, max any) Op { return rangeOp{min: min, max: max} }

// Similarity matches rows whose column is trigram-similar to text using the
// store's default threshold.
func Similarity(text string) Op { return similarityOp{text: text} }

// SimilarityWithScore matches rows whose similarity to text is at least score.
func SimilarityWithScore(text string, score float64) (Op, error) {
	if !(score >= 0 && score <= 1) {
		return nil, fmt.Errorf("%w: got %v", ErrSimilarityScore, score)
	}
	return similarityOp{text: text, score: score, hasScore: true}, nil
}

// MustSimilarityWithScore is like SimilarityWithScore but panics on an invalid score.
func MustSimilarityWithScore(text string, score float64) Op {
	op, err := SimilarityWithScore(text, score)
	if err != nil {
		panic(err)
	}
	return op
}

// IsSimilarity reports whether value is a similarity predicate.
func IsSimilarity(value any) bool {
	_, ok := value.(similarityOp)
	return ok
}

// Compile turns a where value for column into a squirrel clause. Plain values
// compile to equality, slices to IN, nil to IS NULL.
func Compile(d sqlutil.Dialect, column string, value any) (sq.Sqlizer, error) {
	if op, ok := value.(Op); ok {
		return op.compile(d, column)
	}
	return sq.Eq{column: value}, nil
}

func (o equalOp) compile(_ sqlutil.Dialect, column string) (sq.Sqlizer, error) {
	return sq.Eq{column: o.value}, nil
}

func (o inOp) compile(_ sqlutil.Dialect, column string) (sq.Sqlizer, error) {
	return sq.Eq{column: o.values}, nil
}

func (o notOp) compile(d sqlutil.Dialect, column string) (sq.Sqlizer, error) {
	switch inner := o.inner.(type) {
	case equalOp:
		return sq.NotEq{column: inner.value}, nil
	case inOp:
		return sq.NotEq{column: inner.values}, nil
	case notOp:
		return Compile(d, column, inner.inner)
	case Op:
		clause, err := inner.compile(d, column)
		if err != nil {
			return nil, err
		}
		sql, args, err := clause.ToSql()
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT ("+sql+")", args...), nil
	default:
		return sq.NotEq{column: o.inner}, nil
	}
}

func (o compareOp) compile(_ sqlutil.Dialect, column string) (sq.Sqlizer, error) {
	if o.value == nil {
		return nil, fmt.Errorf("%s comparison on %s requires a non-nil value", o.operator, column)
	}
	switch o.operator {
	case ">":
		return sq.Gt{column: o.value}, nil
	case ">=":
		return sq.GtOrEq{column: o.value}, nil
	case "<":
		return sq.Lt{column: o.value}, nil
	default:
		return sq.LtOrEq{column: o.value}, nil
	}
}

func (o rangeOp) compile(_ sqlutil.Dialect, column string) (sq.Sqlizer, error) {
	switch {
	case o.min == nil && o.max == nil:
		return nil, fmt.Errorf("range on %s requires at least one bound", column)
	case o.min == nil:
		return sq.LtOrEq{column: o.max}, nil
	case o.max == nil:
		return sq.GtOrEq{column: o.min}, nil
	default:
		return sq.And{sq.GtOrEq{column: o.min}, sq.LtOrEq{column: o.max}}, nil
	}
}

func (o similarityOp) compile(d sqlutil.Dialect, column string) (sq.Sqlizer, error) {
	if !d.SupportsSimilarity {
		return nil, fmt.Errorf("%w (dialect %s)", ErrSimilarityUnsupported, d.Name)
	}
	if o.hasScore {
		return sq.Expr(fmt.Sprintf("similarity(%s, ?) >= ?", column), o.text, o.score), nil
	}
	return sq.Expr(fmt.Sprintf("(%s %% ?)", column), o.text), nil
}
