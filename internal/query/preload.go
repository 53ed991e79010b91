package query

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"dreamorm/internal/association"
	"dreamorm/internal/record"
	"dreamorm/internal/registry"
)

// Load applies the query's Preload requests to records fetched elsewhere.
// Associations already loaded on every record of a level are reused unless
// the request filters that level.
func (q Query) Load(ctx context.Context, records ...*record.Record) error {
	if err := q.check(); err != nil {
		return err
	}
	for _, req := range q.preloads {
		if err := q.preloadPath(ctx, records, req); err != nil {
			return err
		}
	}
	return nil
}

func (q Query) preloadPath(ctx context.Context, roots []*record.Record, req preloadRequest) (err error) {
	if _, err := q.env.Paths.ResolvePath(q.model.Name, req.path); err != nil {
		return err
	}
	ctx, span := startQuerySpan(ctx, "dreamorm.preload",
		attribute.String("dreamorm.model", q.model.Name),
		attribute.StringSlice("dreamorm.path", req.path),
	)
	defer func() {
		finishQuerySpan(span, err, "")
		span.End()
	}()

	// levels run in order: each one needs the records the previous one loaded
	frontier := uniqueRecords(roots)
	for i, name := range req.path {
		var extra map[string]any
		if i == len(req.path)-1 {
			extra = req.conds
		}
		if frontier, err = q.preloadLevel(ctx, frontier, name, extra); err != nil {
			return err
		}
	}
	return nil
}

// preloadLevel loads association name on every frontier record that declares
// it and returns the loaded records. A polymorphic frontier mixes models, so
// records are grouped by concrete model first.
func (q Query) preloadLevel(ctx context.Context, frontier []*record.Record, name string, extra map[string]any) ([]*record.Record, error) {
	if len(frontier) == 0 {
		return nil, nil
	}
	groups := groupByModel(frontier)
	var next []*record.Record
	found := false
	for _, g := range groups {
		if !q.env.Registry.HasAssociation(g.model, name) {
			continue
		}
		found = true
		loaded, err := q.loadAssociation(ctx, g.model, g.records, name, extra)
		if err != nil {
			return nil, err
		}
		next = append(next, loaded...)
	}
	if !found {
		_, err := q.env.Registry.GetAssociation(groups[0].model, name)
		return nil, err
	}
	return uniqueRecords(next), nil
}

func (q Query) loadAssociation(ctx context.Context, model string, owners []*record.Record, name string, extra map[string]any) ([]*record.Record, error) {
	label := model + "." + name
	// a filtered request never reuses a slot loaded without its filter
	if len(extra) == 0 {
		if loaded, ok := alreadyLoaded(owners, name); ok {
			q.env.Metrics.RecordPreloadReuse(ctx, label)
			return loaded, nil
		}
	}

	a, err := q.env.Registry.GetAssociation(model, name)
	if err != nil {
		return nil, err
	}
	reached, err := q.reach(ctx, model, a, owners, nil, extra)
	if err != nil {
		return nil, err
	}

	var leaves []*record.Record
	for _, owner := range owners {
		targets := uniqueByIdentity(reached[owner])
		if a.Type == registry.HasMany {
			owner.SetMany(name, targets)
		} else {
			var one *record.Record
			if len(targets) > 0 {
				one = targets[0]
			}
			owner.SetOne(name, one)
		}
		leaves = append(leaves, targets...)
	}
	q.env.Logger.Debug("association preloaded",
		slog.String("association", label),
		slog.Int("owners", len(owners)),
		slog.Int("records", len(leaves)),
	)
	return leaves, nil
}

// reach maps every source record to the records association a (declared on
// model) leads to. Through associations walk their through association first
// and then look the source up on each concrete model reached, so the targets
// of a polymorphic belongs-to each use their own keys. scopes are the
// enclosing through associations whose conditions apply to the final hop.
func (q Query) reach(ctx context.Context, model string, a registry.Association, sources []*record.Record, scopes []registry.Association, extra map[string]any) (map[*record.Record][]*record.Record, error) {
	if !a.IsThrough() {
		hop, err := q.env.Paths.DirectHop(model, a)
		if err != nil {
			return nil, err
		}
		for _, enclosing := range scopes {
			association.ApplyThroughScope(&hop, enclosing)
		}
		return q.fetchHop(ctx, hop, uniqueRecords(sources), extra)
	}

	via, err := q.env.Registry.GetAssociation(model, a.Through)
	if err != nil {
		return nil, err
	}
	mid, err := q.reach(ctx, model, via, sources, nil, nil)
	if err != nil {
		return nil, err
	}
	var middle []*record.Record
	for _, src := range sources {
		middle = append(middle, mid[src]...)
	}

	// innermost conditions first, matching Expand
	inner := append([]registry.Association{a}, scopes...)
	ends := map[*record.Record][]*record.Record{}
	for _, g := range groupByModel(uniqueRecords(middle)) {
		source, err := q.env.Registry.Source(g.model, a)
		if err != nil {
			return nil, err
		}
		fetched, err := q.reach(ctx, g.model, source, g.records, inner, extra)
		if err != nil {
			return nil, err
		}
		for rec, targets := range fetched {
			ends[rec] = targets
		}
	}

	out := make(map[*record.Record][]*record.Record, len(sources))
	for _, src := range sources {
		var targets []*record.Record
		for _, m := range mid[src] {
			targets = append(targets, ends[m]...)
		}
		out[src] = targets
	}
	return out, nil
}

func alreadyLoaded(owners []*record.Record, name string) ([]*record.Record, bool) {
	var loaded []*record.Record
	for _, owner := range owners {
		related, ok := owner.Related(name)
		if !ok {
			return nil, false
		}
		loaded = append(loaded, related...)
	}
	return uniqueRecords(loaded), true
}

// fetchHop loads the targets of one direct hop for sources and maps every
// source to its targets.
func (q Query) fetchHop(ctx context.Context, hop association.Hop, sources []*record.Record, extra map[string]any) (map[*record.Record][]*record.Record, error) {
	out := make(map[*record.Record][]*record.Record, len(sources))
	if len(sources) == 0 {
		return out, nil
	}
	if hop.IsPolymorphicBelongsTo() {
		return q.fetchPolymorphicBelongsTo(ctx, hop, sources, extra)
	}

	a := hop.Association
	target, err := q.env.Registry.Model(a.Target())
	if err != nil {
		return nil, err
	}
	ownerCol, targetCol := hop.Keys(target)

	type sourceGroup struct {
		typeValue string
		sources   []*record.Record
	}
	groups := []sourceGroup{{sources: sources}}
	if a.Type != registry.BelongsTo && a.IsPolymorphic() {
		// rows of a polymorphic has-* carry their owner's type; owners of
		// different STI roots need separate filters
		groups = nil
		index := map[string]int{}
		for _, src := range sources {
			typeValue, err := q.env.Types.PolymorphicTypeFor(src.Model())
			if err != nil {
				return nil, err
			}
			i, ok := index[typeValue]
			if !ok {
				i = len(groups)
				index[typeValue] = i
				groups = append(groups, sourceGroup{typeValue: typeValue})
			}
			groups[i].sources = append(groups[i].sources, src)
		}
	}

	for _, g := range groups {
		var typeFilter map[string]any
		if g.typeValue != "" {
			typeFilter = map[string]any{a.ForeignKeyType: g.typeValue}
		}
		targets, err := q.fetchTargets(ctx, hop, target, targetCol, uniqueValues(g.sources, ownerCol), typeFilter, extra)
		if err != nil {
			return nil, err
		}
		index := indexBy(targets, targetCol)
		for _, src := range g.sources {
			if key := src.Get(ownerCol); key != nil {
				out[src] = index[record.Key(key)]
			}
		}
	}
	return out, nil
}

// fetchPolymorphicBelongsTo groups sources by their stored type and queries
// each target table once. Without a transaction the per-type queries run
// concurrently; stitching stays sequential.
func (q Query) fetchPolymorphicBelongsTo(ctx context.Context, hop association.Hop, sources []*record.Record, extra map[string]any) (map[*record.Record][]*record.Record, error) {
	a := hop.Association
	byType := map[string][]*record.Record{}
	for _, src := range sources {
		typeValue := src.Get(a.ForeignKeyType)
		if typeValue == nil || src.Get(a.ForeignKey) == nil {
			continue
		}
		key := record.Key(typeValue)
		byType[key] = append(byType[key], src)
	}
	typeValues := make([]string, 0, len(byType))
	for typeValue := range byType {
		typeValues = append(typeValues, typeValue)
	}
	sort.Strings(typeValues)

	type typeResult struct {
		index    map[string][]*record.Record
		ownerCol string
	}
	results := make([]typeResult, len(typeValues))
	fetch := func(ctx context.Context, i int) error {
		target, err := q.env.Types.PolymorphicTarget(a, typeValues[i])
		if err != nil {
			return err
		}
		ownerCol, targetCol := hop.Keys(target)
		group := byType[typeValues[i]]
		targets, err := q.fetchTargets(ctx, hop, target, targetCol, uniqueValues(group, ownerCol), nil, extra)
		if err != nil {
			return err
		}
		results[i] = typeResult{index: indexBy(targets, targetCol), ownerCol: ownerCol}
		return nil
	}

	if q.tx == nil && len(typeValues) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i := range typeValues {
			g.Go(func() error { return fetch(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range typeValues {
			if err := fetch(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	out := make(map[*record.Record][]*record.Record, len(sources))
	for i, typeValue := range typeValues {
		for _, src := range byType[typeValue] {
			out[src] = results[i].index[record.Key(src.Get(results[i].ownerCol))]
		}
	}
	return out, nil
}

// fetchTargets runs the scoped IN query for one hop, chunked by MaxInClause.
func (q Query) fetchTargets(ctx context.Context, hop association.Hop, target *registry.Model, keyCol string, keys []any, typeFilter, extra map[string]any) ([]*record.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	base := From(q.env, target.Name)
	base.tx, base.conn = q.tx, q.conn
	base.removedScopes = q.removedScopes
	base.removeAllScopes = q.removeAllScopes || hop.WithoutDefaultScopes
	for _, c := range hop.Conditions {
		base = base.Conditions(c)
	}
	base = base.And(typeFilter).And(extra)

	label := hop.Owner.Name + "." + hop.Association.Name
	var out []*record.Record
	for _, chunk := range chunkValues(keys, q.env.MaxInClause) {
		records, err := base.Where(map[string]any{keyCol: chunk}).fetch(ctx, "preload")
		if err != nil {
			return nil, err
		}
		q.env.Metrics.RecordPreload(ctx, int64(len(chunk)), label)
		out = append(out, records...)
	}
	return out, nil
}
