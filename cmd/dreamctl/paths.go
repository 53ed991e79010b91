package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSerializerPathsCommand(c *cli) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "serializer-paths MODEL",
		Short: "List the preload paths a serializer needs",
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
			paths, err := schema.Mapper.PreloadPaths(args[0], key)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(c.out, strings.Join(p, "."))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Serializer key (default serializer when empty)")
	return cmd
}
