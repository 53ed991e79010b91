package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/cobra"

	"dreamorm/internal/introspection"
)

func newCheckCommand(c *cli) *cobra.Command {
	var verifyDB bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and the schema declaration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(cmd.Context()) }()

			result := c.cfg.Validate()
			for _, warn := range result.Warnings {
				fmt.Fprintf(c.out, "warning: %s: %s\n", warn.Field, warn.Message)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(c.out, "error: %s: %s\n", e.Field, e.Message)
			}

			schema, schemaErr := a.LoadSchema()
			if schemaErr != nil {
				fmt.Fprintf(c.out, "error: schema: %v\n", schemaErr)
			}
			if result.HasErrors() || schemaErr != nil {
				return fmt.Errorf("check failed")
			}

			w := table.NewWriter()
			w.AppendHeader(table.Row{"Model", "Table", "Extends", "Associations", "Default scopes"})
			for _, name := range schema.Registry.Models() {
				m, err := schema.Registry.Model(name)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(m.Associations))
				for _, assoc := range m.Associations {
					names = append(names, assoc.Name)
				}
				scopes := make([]string, 0, len(m.DefaultScopes))
				for _, s := range m.DefaultScopes {
					scopes = append(scopes, s.Name)
				}
				w.AppendRow(table.Row{m.Name, m.Table, m.Extends, strings.Join(names, ", "), strings.Join(scopes, ", ")})
			}
			fmt.Fprintln(c.out, w.Render())

			if verifyDB {
				if err := a.Init(cmd.Context()); err != nil {
					return err
				}
				env := a.Env()
				problems, err := introspection.Verify(a.Context(cmd.Context()), env.Pool.Primary, env.Dialect, env.Registry)
				if err != nil {
					return err
				}
				for _, p := range problems {
					fmt.Fprintf(c.out, "error: database: %s\n", p)
				}
				if len(problems) > 0 {
					return fmt.Errorf("check failed: %d database mismatches", len(problems))
				}
			}

			fmt.Fprintf(c.out, "ok: %d models, %d serializers, %d sortables\n",
				len(schema.Registry.Models()), len(schema.Mapper.Definitions()), len(schema.Sortables))
			return nil
		},
	}
	cmd.Flags().BoolVar(&verifyDB, "db", false, "Also verify the declarations against the connected database")
	return cmd
}
