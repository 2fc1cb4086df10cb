package eager

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pay-theory/relorm/pkg/association"
	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/pay-theory/relorm/pkg/query"
)

// ownerKeyColumn carries the join table key in many-to-many fetches
const ownerKeyColumn = "relorm_owner_key"

// groupKey identifies one fetch group
type groupKey struct {
	table      string
	column     string // key column on table, or join_table.column
	typeColumn string
	typeValue  string
	joinTable  string
	joinColumn string // join table column pointing at table's primary key
}

type group struct {
	key    groupKey
	target *model.Type
	values []any
	seen   map[string]bool

	sql   string
	args  []any
	byKey map[string][]*core.Record
}

func (g *group) add(v any) {
	k := core.KeyString(v)
	if g.seen[k] {
		return
	}
	g.seen[k] = true
	g.values = append(g.values, v)
}

// rowKey is the result column holding the key records are matched on
func (g *group) rowKey() string {
	if g.key.joinTable != "" {
		return ownerKeyColumn
	}
	return g.key.column
}

func (g *group) query() *query.Query {
	t := g.target
	q := t.DefaultScope().Apply(query.New(t.Table))
	if g.key.joinTable != "" {
		return q.Reselect(t.Table+".*", g.key.column+" AS "+ownerKeyColumn).
			Joins(query.Join{
				Type:  query.InnerJoin,
				Table: g.key.joinTable,
				On:    condition.ColumnsEqual(g.key.joinTable+"."+g.key.joinColumn, t.Qualified(t.PrimaryColumn())),
			}).
			Where(condition.In(g.key.column, g.values...))
	}
	q = q.Where(condition.In(t.Qualified(g.key.column), g.values...))
	if g.key.typeColumn != "" {
		q = q.Where(condition.Eq(t.Qualified(g.key.typeColumn), g.key.typeValue))
	}
	return q
}

// groupSet collects the fetch groups of one loading round
type groupSet struct {
	groups map[groupKey]*group
	order  []*group
}

func newGroupSet() *groupSet {
	return &groupSet{groups: make(map[groupKey]*group)}
}

func (s *groupSet) get(key groupKey, target *model.Type) *group {
	if g, ok := s.groups[key]; ok {
		return g
	}
	g := &group{key: key, target: target, seen: map[string]bool{}, byKey: map[string][]*core.Record{}}
	s.groups[key] = g
	s.order = append(s.order, g)
	return g
}

// request maps owners of one association to their fetch groups
type request struct {
	assoc  model.Association
	single *group
	byType map[string]*group // polymorphic belongs-to, by discriminator value
}

func (l *Loader) request(set *groupSet, owner *model.Type, owners []*core.Record, a model.Association) (*request, error) {
	req := &request{assoc: a}

	if a.Kind == model.PolymorphicBelongsTo {
		req.byType = map[string]*group{}
		for _, o := range owners {
			typeName := discriminator(o.Values[a.TypeColumn])
			key := o.Values[a.LocalKey]
			if typeName == "" || key == nil || (a.Target != "" && typeName != a.Target) {
				continue
			}
			g, ok := req.byType[typeName]
			if !ok {
				target, err := l.registry.Type(typeName)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", owner.Name, a.Name, err)
				}
				column := a.ForeignKey
				if column == "" {
					column = target.PrimaryColumn()
				}
				g = set.get(groupKey{table: target.Table, column: column}, target)
				req.byType[typeName] = g
			}
			g.add(key)
		}
		return req, nil
	}

	target, err := l.registry.Type(a.Target)
	if err != nil {
		return nil, err
	}
	switch a.Kind {
	case model.HasAndBelongsToMany:
		req.single = set.get(groupKey{
			table:      target.Table,
			column:     a.JoinTable + "." + a.ForeignKey,
			joinTable:  a.JoinTable,
			joinColumn: a.AssociationForeignKey,
		}, target)
	case model.PolymorphicHasMany:
		req.single = set.get(groupKey{
			table:      target.Table,
			column:     a.ForeignKey,
			typeColumn: a.TypeColumn,
			typeValue:  owner.Name,
		}, target)
	default:
		req.single = set.get(groupKey{table: target.Table, column: a.ForeignKey}, target)
	}
	for _, o := range owners {
		if v := o.Values[a.LocalKey]; v != nil {
			req.single.add(v)
		}
	}
	return req, nil
}

// links matches owners to fetched records by key
func (r *request) links(owners []*core.Record) map[*core.Record][]*core.Record {
	out := make(map[*core.Record][]*core.Record, len(owners))
	for _, o := range owners {
		key := o.Values[r.assoc.LocalKey]
		if key == nil {
			continue
		}
		g := r.single
		if r.byType != nil {
			g = r.byType[discriminator(o.Values[r.assoc.TypeColumn])]
		}
		if g == nil {
			continue
		}
		out[o] = g.byKey[core.KeyString(key)]
	}
	return out
}

// links loads the associations named by specs for owners and returns, per
// association name, the records related to each owner. Direct associations
// share one round of queries; through associations add a round per hop.
func (l *Loader) links(ctx context.Context, owner *model.Type, owners []*core.Record, specs []association.Spec) (map[string]map[*core.Record][]*core.Record, error) {
	set := newGroupSet()
	requests := map[string]*request{}
	var order []string
	add := func(a model.Association) error {
		if _, ok := requests[a.Name]; ok {
			return nil
		}
		req, err := l.request(set, owner, owners, a)
		if err != nil {
			return err
		}
		requests[a.Name] = req
		order = append(order, a.Name)
		return nil
	}

	for _, spec := range specs {
		a, _ := owner.Association(spec.Name)
		if a.Kind == model.HasManyThrough {
			through, _ := owner.Association(a.Through)
			if through.Kind == model.HasManyThrough {
				continue
			}
			a = through
		}
		if err := add(a); err != nil {
			return nil, err
		}
	}
	if err := l.fetch(ctx, set); err != nil {
		return nil, err
	}

	out := make(map[string]map[*core.Record][]*core.Record, len(specs))
	for _, name := range order {
		out[name] = requests[name].links(owners)
	}

	for _, spec := range specs {
		a, _ := owner.Association(spec.Name)
		if a.Kind != model.HasManyThrough {
			continue
		}
		mids, ok := out[a.Through]
		if !ok {
			nested, err := l.links(ctx, owner, owners, []association.Spec{{Name: a.Through}})
			if err != nil {
				return nil, err
			}
			mids = nested[a.Through]
		}
		through, err := l.throughLinks(ctx, owners, mids, a)
		if err != nil {
			return nil, err
		}
		out[a.Name] = through
	}
	return out, nil
}

// throughLinks loads the source association on the intermediate records and
// collects, per owner, the distinct records reached through them
func (l *Loader) throughLinks(ctx context.Context, owners []*core.Record, mids map[*core.Record][]*core.Record, a model.Association) (map[*core.Record][]*core.Record, error) {
	out := make(map[*core.Record][]*core.Record, len(owners))

	byType := map[string][]*core.Record{}
	seen := map[*core.Record]bool{}
	for _, o := range owners {
		for _, m := range mids[o] {
			if !seen[m] {
				seen[m] = true
				byType[m.Type] = append(byType[m.Type], m)
			}
		}
	}

	reached := map[*core.Record][]*core.Record{}
	for _, typeName := range sortedKeys(byType) {
		middle, err := l.registry.Type(typeName)
		if err != nil {
			return nil, err
		}
		source, err := association.SourceOf(middle, a)
		if err != nil {
			return nil, err
		}
		nested, err := l.links(ctx, middle, byType[typeName], []association.Spec{{Name: source.Name}})
		if err != nil {
			return nil, err
		}
		for m, rs := range nested[source.Name] {
			reached[m] = rs
		}
	}

	for _, o := range owners {
		dedup := map[string]bool{}
		for _, m := range mids[o] {
			for _, r := range reached[m] {
				k := l.identity(r)
				if dedup[k] {
					continue
				}
				dedup[k] = true
				out[o] = append(out[o], r)
			}
		}
	}
	return out, nil
}

// identity keys a record by type and primary key
func (l *Loader) identity(r *core.Record) string {
	typ, err := l.registry.Type(r.Type)
	if err != nil {
		return fmt.Sprintf("%s:%p", r.Type, r)
	}
	values := make([]any, len(typ.PrimaryKey))
	for i, col := range typ.PrimaryKey {
		values[i] = r.Values[col]
	}
	return r.Type + ":" + core.KeyString(values...)
}

// fetch renders every pending group, then runs them. Groups without key
// values issue no query.
func (l *Loader) fetch(ctx context.Context, set *groupSet) error {
	var pending []*group
	for _, g := range set.order {
		if len(g.values) == 0 {
			continue
		}
		sql, args, err := g.query().ToSQL()
		if err != nil {
			return err
		}
		g.sql, g.args = sql, args
		pending = append(pending, g)
	}

	if !l.parallel || len(pending) < 2 {
		for _, g := range pending {
			if err := l.run(ctx, g); err != nil {
				return err
			}
		}
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, g := range pending {
		eg.Go(func() error { return l.run(egCtx, g) })
	}
	return eg.Wait()
}

// run executes one group and indexes its records. It only writes to g.
func (l *Loader) run(ctx context.Context, g *group) error {
	rows, err := l.exec.Query(ctx, g.sql, g.args)
	if err != nil {
		return err
	}
	keyColumn := g.rowKey()
	for _, row := range rows {
		key := core.KeyString(row[keyColumn])
		if g.key.joinTable != "" {
			row = row.Clone()
			delete(row, ownerKeyColumn)
		}
		g.byKey[key] = append(g.byKey[key], core.NewRecord(g.target.Name, row))
	}
	return nil
}

func discriminator(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}
