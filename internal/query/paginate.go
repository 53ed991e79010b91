package query

import (
	"context"

	"dreamorm/internal/ops"
	"dreamorm/internal/record"
	"dreamorm/internal/registry"
)

// Page is one numbered page of results.
type Page struct {
	Results     []*record.Record
	RecordCount int64
	PageCount   int64
	CurrentPage int
}

// CursorOptions selects a cursor page. A nil Cursor starts at the beginning.
type CursorOptions struct {
	Cursor   any
	PageSize int
}

// CursorPage is one cursor page. Cursor is nil once the collection is exhausted.
type CursorPage struct {
	Results []*record.Record
	Cursor  any
}

func (q Query) pageSize(n int) int {
	if n > 0 {
		return n
	}
	return q.env.DefaultPageSize
}

// Paginate returns page (1-based) of pageSize records together with totals.
func (q Query) Paginate(ctx context.Context, page, pageSize int) (Page, error) {
	if err := q.check(); err != nil {
		return Page{}, err
	}
	if page < 1 {
		page = 1
	}
	pageSize = q.pageSize(pageSize)

	count, err := q.Count(ctx)
	if err != nil {
		return Page{}, err
	}
	results, err := q.Limit(pageSize).Offset((page - 1) * pageSize).All(ctx)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Results:     results,
		RecordCount: count,
		PageCount:   (count + int64(pageSize) - 1) / int64(pageSize),
		CurrentPage: page,
	}, nil
}

// CursorPaginate walks the collection by primary key, newest first. The
// returned cursor is the last record's key, or nil when the page came back
// short.
func (q Query) CursorPaginate(ctx context.Context, opts CursorOptions) (CursorPage, error) {
	return q.cursorPage(ctx, opts, true)
}

// ScrollPaginate is CursorPaginate in ascending key order.
func (q Query) ScrollPaginate(ctx context.Context, opts CursorOptions) (CursorPage, error) {
	return q.cursorPage(ctx, opts, false)
}

func (q Query) cursorPage(ctx context.Context, opts CursorOptions, desc bool) (CursorPage, error) {
	if err := q.check(); err != nil {
		return CursorPage{}, err
	}
	pageSize := q.pageSize(opts.PageSize)
	pk := q.model.PrimaryKey

	paged := q.Unordered().Order(registry.OrderTerm{Column: pk, Desc: desc}).Limit(pageSize).Offset(-1)
	if opts.Cursor != nil {
		if desc {
			paged = paged.Where(map[string]any{pk: ops.LessThan(opts.Cursor)})
		} else {
			paged = paged.Where(map[string]any{pk: ops.GreaterThan(opts.Cursor)})
		}
	}
	results, err := paged.All(ctx)
	if err != nil {
		return CursorPage{}, err
	}
	page := CursorPage{Results: results}
	if len(results) == pageSize {
		page.Cursor = results[len(results)-1].PrimaryKey()
	}
	return page, nil
}
