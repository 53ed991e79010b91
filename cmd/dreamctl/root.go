package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"dreamorm/internal/app"
	"dreamorm/internal/config"
	"dreamorm/internal/logging"
)

// cli carries what every subcommand shares.
type cli struct {
	cfg    *config.Config
	fs     afero.Fs
	out    io.Writer
	errOut io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	c := &cli{fs: afero.NewOsFs(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "dreamctl",
		Short:         "Inspect and query dreamorm models",
		Version:       fmt.Sprintf("%s (commit: %s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.Observability.ServiceVersion == "" {
				cfg.Observability.ServiceVersion = Version
			}
			c.cfg = cfg
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	config.DefineFlags(root.PersistentFlags())

	root.AddCommand(
		newCheckCommand(c),
		newExplainCommand(c),
		newSerializerPathsCommand(c),
		newQueryCommand(c),
		newReorderCommand(c),
	)
	return root
}

// validate logs warnings and fails on configuration errors.
func (c *cli) validate(logger *logging.Logger) error {
	result := c.cfg.Validate()
	for _, warn := range result.Warnings {
		logger.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if result.HasErrors() {
		for _, err := range result.Errors {
			logger.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}
	return nil
}

// newApp builds an App without connecting to the database.
func (c *cli) newApp(ctx context.Context) (*app.App, error) {
	logger, loggerProvider, err := app.InitLogger(ctx, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	a, err := app.New(c.cfg, logger, c.fs)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return nil, err
	}
	a.AttachLoggerProvider(loggerProvider)
	return a, nil
}

// withApp validates the configuration, initializes an App and runs fn with
// it, shutting it down afterwards.
func (c *cli) withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := c.newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Shutdown(context.Background()) }()

	if err := c.validate(a.Logger()); err != nil {
		return err
	}
	if err := a.Init(ctx); err != nil {
		return err
	}
	return fn(a.Context(ctx), a)
}
