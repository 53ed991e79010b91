// Package app owns the runtime resources behind dreamctl: telemetry
// providers, primary and replica connections, the materialized schema and the
// query environment built over them.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"dreamorm/internal/config"
	"dreamorm/internal/dbexec"
	"dreamorm/internal/logging"
	"dreamorm/internal/observability"
	"dreamorm/internal/query"
	"dreamorm/internal/schemafile"
	"dreamorm/internal/sortable"
	"dreamorm/internal/sqlutil"
)

// App is initialized once per command invocation and shut down on exit.
type App struct {
	cfg    *config.Config
	logger *logging.Logger
	fs     afero.Fs
	runID  string

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider
	metrics        *observability.QueryMetrics

	primary *sql.DB
	replica *sql.DB
	dialect sqlutil.Dialect

	schema    *schemafile.Schema
	env       *query.Env
	sortables map[string]*sortable.Engine

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	shutdownOnce sync.Once
}

// New creates an App. fs is where the schema file is read from.
func New(cfg *config.Config, logger *logging.Logger, fs afero.Fs) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	dialect, ok := sqlutil.DialectFor(cfg.Database.DriverName())
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	runID := uuid.NewString()
	return &App{
		cfg:     cfg,
		logger:  logger.WithFields(slog.String("run_id", runID)),
		fs:      fs,
		runID:   runID,
		dialect: dialect,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// LoadSchema reads and builds the declaration file without touching the
// database.
func (a *App) LoadSchema() (*schemafile.Schema, error) {
	schema, err := schemafile.Load(a.fs, a.cfg.Schema.Path)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("schema loaded",
		slog.String("path", a.cfg.Schema.Path),
		slog.Int("models", len(schema.Registry.Models())),
		slog.Int("serializers", len(schema.Mapper.Definitions())),
		slog.Int("sortables", len(schema.Sortables)),
	)
	return schema, nil
}

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
			a.stateMu.Lock()
			a.loggerProvider = nil
			a.stateMu.Unlock()
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	schema, err := a.LoadSchema()
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("connecting to database",
		slog.String("driver", a.cfg.Database.DriverName()),
		slog.String("host", a.cfg.Database.Host),
		slog.String("database", a.cfg.Database.Database),
		slog.Bool("replica", a.cfg.Database.ReplicaDSN != ""),
	)

	primaryDSN, err := a.cfg.Database.DSN()
	if err != nil {
		return err
	}
	primary, err := connectDB(ctx, a.cfg, a.logger, "primary", primaryDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("primary database", primary.close)

	var replica *connection
	replicaDSN, err := a.cfg.Database.ReplicaDSNFor()
	if err != nil {
		return err
	}
	if replicaDSN != "" {
		replica, err = connectDB(ctx, a.cfg, a.logger, "replica", replicaDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to replica: %w", err)
		}
		cleanup.push("replica database", replica.close)
	}

	pool := dbexec.Pool{Primary: dbexec.NewStandardExecutor(primary.db)}
	if replica != nil {
		pool.Replica = dbexec.NewStandardExecutor(replica.db)
	}
	env := query.NewEnv(schema.Registry, pool, a.dialect,
		query.WithLogger(a.logger),
		query.WithMetrics(metrics),
		query.WithMaxInClause(a.cfg.Query.MaxInClause),
		query.WithDefaultPageSize(a.cfg.Query.DefaultPageSize),
	)

	sortables := make(map[string]*sortable.Engine, len(schema.Sortables))
	for _, sc := range schema.Sortables {
		engine, err := sortable.New(env, sc)
		if err != nil {
			return err
		}
		sortables[sortableKey(sc.Model, sc.Column)] = engine
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.tracerProvider = tracerProvider
	a.metrics = metrics
	a.primary = primary.db
	if replica != nil {
		a.replica = replica.db
	}
	a.schema = schema
	a.env = env
	a.sortables = sortables
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}

// RunID identifies this invocation in logs.
func (a *App) RunID() string { return a.runID }

// Logger returns the run-scoped logger.
func (a *App) Logger() *logging.Logger { return a.logger }

// Env returns the query environment. It is nil before Init.
func (a *App) Env() *query.Env {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.env
}

// Schema returns the materialized schema. It is nil before Init.
func (a *App) Schema() *schemafile.Schema {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.schema
}

// Sortable returns the engine declared for model and column.
func (a *App) Sortable(model, column string) (*sortable.Engine, bool) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if root, err := a.schema.Registry.Root(model); err == nil {
		model = root.Name
	}
	engine, ok := a.sortables[sortableKey(model, column)]
	return engine, ok
}

// Context attaches the run logger and query metrics to ctx.
func (a *App) Context(ctx context.Context) context.Context {
	ctx = logging.WithLogger(ctx, a.logger)
	if a.metrics != nil {
		ctx = observability.ContextWithQueryMetrics(ctx, a.metrics)
	}
	return ctx
}

// MetricsReport renders the metrics recorded so far, or "" when metrics are
// disabled.
func (a *App) MetricsReport() (string, error) {
	a.stateMu.Lock()
	mp := a.meterProvider
	a.stateMu.Unlock()
	if mp == nil {
		return "", nil
	}
	return observability.MetricsReport(mp.Gatherer())
}

func sortableKey(model, column string) string {
	return model + "." + column
}
