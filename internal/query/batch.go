package query

import (
	"dreamorm/internal/record"
)

// uniqueValues returns the distinct non-nil values of column across records,
// in first-seen order.
func uniqueValues(records []*record.Record, column string) []any {
	seen := make(map[string]struct{})
	values := make([]any, 0, len(records))
	for _, rec := range records {
		raw := rec.Get(column)
		if raw == nil {
			continue
		}
		key := record.Key(raw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		values = append(values, raw)
	}
	return values
}

// indexBy groups records by the canonical key of column.
func indexBy(records []*record.Record, column string) map[string][]*record.Record {
	grouped := make(map[string][]*record.Record)
	for _, rec := range records {
		key := record.Key(rec.Get(column))
		grouped[key] = append(grouped[key], rec)
	}
	return grouped
}

func chunkValues(values []any, max int) [][]any {
	if len(values) == 0 {
		return nil
	}
	if max <= 0 || len(values) <= max {
		return [][]any{values}
	}
	chunks := make([][]any, 0, (len(values)+max-1)/max)
	for start := 0; start < len(values); start += max {
		end := min(start+max, len(values))
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

// uniqueRecords drops repeated pointers, keeping order.
func uniqueRecords(records []*record.Record) []*record.Record {
	seen := make(map[*record.Record]struct{}, len(records))
	out := make([]*record.Record, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec]; ok {
			continue
		}
		seen[rec] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func identity(rec *record.Record) string {
	return record.TupleKey(rec.Model(), rec.PrimaryKey())
}

// uniqueByIdentity drops records with the same model and primary key.
func uniqueByIdentity(records []*record.Record) []*record.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]*record.Record, 0, len(records))
	for _, rec := range records {
		id := identity(rec)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, rec)
	}
	return out
}

type modelGroup struct {
	model   string
	records []*record.Record
}

// groupByModel splits records by concrete model in first-seen order.
func groupByModel(records []*record.Record) []modelGroup {
	index := map[string]int{}
	var groups []modelGroup
	for _, rec := range records {
		i, ok := index[rec.Model()]
		if !ok {
			i = len(groups)
			index[rec.Model()] = i
			groups = append(groups, modelGroup{model: rec.Model()})
		}
		groups[i].records = append(groups[i].records, rec)
	}
	return groups
}
