// Package query composes immutable queries over registered models, executes
// them through squirrel and stitches preloaded associations onto the
// resulting records.
package query

import (
	"dreamorm/internal/association"
	"dreamorm/internal/dbexec"
	"dreamorm/internal/logging"
	"dreamorm/internal/observability"
	"dreamorm/internal/registry"
	"dreamorm/internal/sqlutil"
	"dreamorm/internal/typeresolver"
)

const (
	// DefaultMaxInClause bounds the number of keys in one preload IN list.
	DefaultMaxInClause = 1000
	// DefaultPageSize is used by Paginate and the cursor paginators when no page size is given.
	DefaultPageSize = 25
)

// Env bundles what every query needs: metadata, connections and telemetry.
// It is shared by all queries built from it and must not be mutated after use.
type Env struct {
	Registry        *registry.Registry
	Paths           *association.Resolver
	Types           *typeresolver.Resolver
	Pool            dbexec.Pool
	Dialect         sqlutil.Dialect
	Logger          *logging.Logger
	Metrics         *observability.QueryMetrics
	MaxInClause     int
	DefaultPageSize int
}

// Option configures an Env.
type Option func(*Env)

// WithLogger sets the logger used for statement logging.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Env) { e.Logger = logger }
}

// WithMetrics sets the query instruments.
func WithMetrics(metrics *observability.QueryMetrics) Option {
	return func(e *Env) { e.Metrics = metrics }
}

// WithMaxInClause sets the preload chunk size.
func WithMaxInClause(n int) Option {
	return func(e *Env) {
		if n > 0 {
			e.MaxInClause = n
		}
	}
}

// WithDefaultPageSize sets the page size used when callers pass none.
func WithDefaultPageSize(n int) Option {
	return func(e *Env) {
		if n > 0 {
			e.DefaultPageSize = n
		}
	}
}

// NewEnv creates an Env over reg and pool.
func NewEnv(reg *registry.Registry, pool dbexec.Pool, dialect sqlutil.Dialect, opts ...Option) *Env {
	types := typeresolver.New(reg)
	env := &Env{
		Registry:        reg,
		Paths:           association.New(reg, types),
		Types:           types,
		Pool:            pool,
		Dialect:         dialect,
		Logger:          logging.Discard(),
		MaxInClause:     DefaultMaxInClause,
		DefaultPageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(env)
	}
	if env.Logger == nil {
		env.Logger = logging.Discard()
	}
	return env
}

// Query starts a query against model.
func (e *Env) Query(model string) Query {
	return From(e, model)
}
