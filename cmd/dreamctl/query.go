package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"dreamorm/internal/app"
	"dreamorm/internal/cursor"
	"dreamorm/internal/query"
	"dreamorm/internal/record"
)

type queryOutput struct {
	Model       string           `json:"model"`
	Results     []map[string]any `json:"results"`
	Page        int              `json:"page,omitempty"`
	PageCount   int64            `json:"page_count,omitempty"`
	RecordCount int64            `json:"record_count,omitempty"`
	NextCursor  *string          `json:"next_cursor,omitempty"`
}

type queryOptions struct {
	flags       queryFlags
	serializer  string
	raw         bool
	page        int
	pageSize    int
	cursorToken string
	cursorMode  bool
	scroll      bool
	metrics     bool
}

func newQueryCommand(c *cli) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query MODEL",
		Short: "Run a paginated query and print serialized results as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.cursorMode = cmd.Flags().Changed("cursor")
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := runQuery(ctx, a, args[0], opts)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
				if opts.metrics {
					report, err := a.MetricsReport()
					if err != nil {
						return err
					}
					fmt.Fprint(c.errOut, report)
				}
				return nil
			})
		},
	}
	opts.flags.bind(cmd.Flags())
	cmd.Flags().StringVar(&opts.serializer, "serializer", "", "Serializer key used to render and preload (default serializer when empty)")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print plain attributes instead of a serializer")
	cmd.Flags().IntVar(&opts.page, "page", 1, "Page number")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", 0, "Page size (query.default_page_size when 0)")
	cmd.Flags().StringVar(&opts.cursorToken, "cursor", "", "Cursor token from a previous page; empty starts a cursor walk")
	cmd.Flags().BoolVar(&opts.scroll, "scroll", false, "Walk keys in ascending order with cursor tokens")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "Print recorded query metrics to stderr")
	return cmd
}

func runQuery(ctx context.Context, a *app.App, model string, opts queryOptions) (*queryOutput, error) {
	schema := a.Schema()
	q, err := opts.flags.apply(a.Env().Query(model))
	if err != nil {
		return nil, err
	}
	if !opts.raw {
		if q, err = schema.Mapper.Apply(q, opts.serializer); err != nil {
			return nil, err
		}
	}

	out := &queryOutput{Model: model}
	var records []*record.Record
	if opts.cursorMode || opts.scroll {
		mode := cursor.Cursor
		if opts.scroll {
			mode = cursor.Scroll
		}
		token, err := cursor.Decode(opts.cursorToken)
		if err != nil {
			return nil, err
		}
		if err := token.Validate(model, mode); err != nil {
			return nil, err
		}
		paginate := q.CursorPaginate
		if mode == cursor.Scroll {
			paginate = q.ScrollPaginate
		}
		page, err := paginate(ctx, query.CursorOptions{Cursor: token.Value, PageSize: opts.pageSize})
		if err != nil {
			return nil, err
		}
		next, err := cursor.Encode(model, mode, page.Cursor)
		if err != nil {
			return nil, err
		}
		records = page.Results
		out.NextCursor = &next
	} else {
		page, err := q.Paginate(ctx, opts.page, opts.pageSize)
		if err != nil {
			return nil, err
		}
		records = page.Results
		out.Page = page.CurrentPage
		out.PageCount = page.PageCount
		out.RecordCount = page.RecordCount
	}

	if opts.raw {
		out.Results = make([]map[string]any, 0, len(records))
		for _, rec := range records {
			out.Results = append(out.Results, rec.Attributes())
		}
		return out, nil
	}
	out.Results, err = schema.Mapper.RenderAll(records, opts.serializer)
	if err != nil {
		return nil, err
	}
	return out, nil
}
