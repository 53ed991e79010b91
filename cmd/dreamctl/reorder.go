package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"dreamorm/internal/app"
	"dreamorm/internal/dbexec"
)

func newReorderCommand(c *cli) *cobra.Command {
	var column string

	cmd := &cobra.Command{
		Use:   "reorder MODEL ID POSITION",
		Short: "Move a record to a new position within its sortable scope",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("position must be an integer: %w", err)
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				engine, ok := a.Sortable(args[0], column)
				if !ok {
					return fmt.Errorf("%s.%s is not declared sortable", args[0], column)
				}
				env := a.Env()
				rec, err := env.Query(args[0]).FindOrFail(ctx, parseValue(args[1]))
				if err != nil {
					return err
				}
				beginner, err := env.Pool.Begin()
				if err != nil {
					return err
				}
				err = dbexec.WithTransaction(ctx, beginner, func(tx dbexec.TxExecutor) error {
					return engine.Update(ctx, tx, rec, map[string]any{column: position})
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "%s %v is now at %s %v\n", rec.Model(), rec.PrimaryKey(), column, rec.Get(column))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&column, "column", "position", "Sortable column")
	return cmd
}
