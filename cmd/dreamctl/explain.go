package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/cobra"

	"dreamorm/internal/dbexec"
	"dreamorm/internal/query"
	"dreamorm/internal/sqlutil"
)

func newExplainCommand(c *cli) *cobra.Command {
	var qf queryFlags
	var serializerKey string

	cmd := &cobra.Command{
		Use:   "explain MODEL",
		Short: "Print the SQL a query composes to without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(cmd.Context()) }()

			schema, err := a.LoadSchema()
			if err != nil {
				return err
			}
			dialect, ok := sqlutil.DialectFor(c.cfg.Database.DriverName())
			if !ok {
				return fmt.Errorf("unsupported database driver %q", c.cfg.Database.Driver)
			}
			env := query.NewEnv(schema.Registry, dbexec.Pool{}, dialect)

			q, err := qf.apply(env.Query(args[0]))
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("serializer") {
				if q, err = schema.Mapper.Apply(q, serializerKey); err != nil {
					return err
				}
			}
			sql, sqlArgs, err := q.ToSQL()
			if err != nil {
				return err
			}

			fmt.Fprintln(c.out, sql)
			if len(sqlArgs) > 0 {
				w := table.NewWriter()
				w.AppendHeader(table.Row{"#", "Arg", "Type"})
				for i, arg := range sqlArgs {
					w.AppendRow(table.Row{i + 1, fmt.Sprintf("%v", arg), fmt.Sprintf("%T", arg)})
				}
				fmt.Fprintln(c.out, w.Render())
			}
			return nil
		},
	}
	qf.bind(cmd.Flags())
	cmd.Flags().StringVar(&serializerKey, "serializer", "", "Add the preloads of the model's serializer for this key")
	return cmd
}
