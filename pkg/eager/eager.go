// Package eager loads associations for a query's records without issuing one
// query per record.
//
// Each requested association is either joined into the base query or fetched
// with one IN query per fetch group after the base query ran. A fetch group
// is the target table, the key column and the polymorphic discriminator, so
// the separate path costs one query plus one per distinct associated type no
// matter how many records the base query returns.
package eager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pay-theory/relorm/pkg/association"
	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/logger"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/pay-theory/relorm/pkg/query"
)

// Mode selects how associations are loaded
type Mode int

const (
	// Auto joins an association when the query's conditions reference its
	// tables and loads it separately otherwise
	Auto Mode = iota
	// Separate always loads with separate queries
	Separate
	// Join always joins into the base query
	Join
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Separate:
		return "separate"
	case Join:
		return "join"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Strategy is the decision taken for one association
type Strategy string

// Strategies
const (
	StrategyJoin     Strategy = "join"
	StrategySeparate Strategy = "separate"
)

// Decision records how one root-level association will be loaded
type Decision struct {
	Spec        association.Spec
	Association model.Association
	Strategy    Strategy
	Tables      []string // tables a join would add, empty when it cannot be joined
}

// Loader runs eager loads against an executor
type Loader struct {
	registry *model.Registry
	resolver *association.Resolver
	exec     core.Executor
	logger   *slog.Logger
	parallel bool
}

// Option configures a Loader
type Option func(*Loader)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(loader *Loader) { loader.logger = l }
}

// WithParallel runs the queries of one loading round concurrently
func WithParallel(enabled bool) Option {
	return func(loader *Loader) { loader.parallel = enabled }
}

// NewLoader creates a loader
func NewLoader(registry *model.Registry, exec core.Executor, opts ...Option) *Loader {
	l := &Loader{
		registry: registry,
		resolver: association.NewResolver(registry),
		exec:     exec,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logger.Or(l.logger)
	return l
}

// Plan validates the requested associations and decides a strategy for each
// root-level one. Nothing is executed.
func (l *Loader) Plan(root string, q *query.Query, mode Mode, input any) ([]Decision, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	typ, err := l.registry.Type(root)
	if err != nil {
		return nil, err
	}
	specs, err := association.Parse(input)
	if err != nil {
		return nil, err
	}

	decisions := make([]Decision, 0, len(specs))
	for _, spec := range specs {
		a, err := l.validate(typ, spec, nil)
		if err != nil {
			return nil, err
		}

		d := Decision{Spec: spec, Association: a, Strategy: StrategySeparate}
		steps, stepErr := l.resolver.Steps(root, query.LeftJoin, nil, association.Spec{Name: spec.Name})
		if stepErr == nil {
			for _, s := range steps {
				for _, j := range s.Joins {
					d.Tables = append(d.Tables, j.Table)
				}
			}
		}

		switch mode {
		case Separate:
		case Join:
			if stepErr != nil {
				return nil, stepErr
			}
			d.Strategy = StrategyJoin
		case Auto:
			for _, table := range d.Tables {
				if q.ReferencesTable(table) {
					d.Strategy = StrategyJoin
					break
				}
			}
		default:
			return nil, fmt.Errorf("eager: unknown mode %v", mode)
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// validate checks spec and its children against owner. Children of a
// polymorphic belongs-to without a fixed target are checked once the
// concrete types are known.
func (l *Loader) validate(owner *model.Type, spec association.Spec, path []string) (model.Association, error) {
	a, ok := owner.Association(spec.Name)
	if !ok {
		return model.Association{}, &errors.UnknownAssociationError{Name: spec.Name, Parent: owner.Name, Path: path}
	}
	target, err := l.targetOf(owner, a)
	if err != nil || target == nil {
		return a, err
	}
	childPath := append(append([]string(nil), path...), spec.Name)
	for _, child := range spec.Children {
		if _, err := l.validate(target, child, childPath); err != nil {
			return a, err
		}
	}
	return a, nil
}

// targetOf returns the type an association yields, or nil when the type is
// only known per record
func (l *Loader) targetOf(owner *model.Type, a model.Association) (*model.Type, error) {
	switch a.Kind {
	case model.PolymorphicBelongsTo:
		if a.Target == "" {
			return nil, nil
		}
	case model.HasManyThrough:
		through, ok := owner.Association(a.Through)
		if !ok {
			return nil, &errors.UnknownAssociationError{Name: a.Through, Parent: owner.Name}
		}
		middle, err := l.targetOf(owner, through)
		if err != nil || middle == nil {
			return nil, err
		}
		source, err := association.SourceOf(middle, a)
		if err != nil {
			return nil, err
		}
		return l.targetOf(middle, source)
	}
	return l.registry.Type(a.Target)
}

// Load runs q and loads the requested associations onto its records. Unknown
// names fail before any query runs.
func (l *Loader) Load(ctx context.Context, root string, q *query.Query, mode Mode, input any) ([]*core.Record, error) {
	decisions, err := l.Plan(root, q, mode, input)
	if err != nil {
		return nil, err
	}
	typ, err := l.registry.Type(root)
	if err != nil {
		return nil, err
	}

	var joined, separate []Decision
	for _, d := range decisions {
		l.logger.DebugContext(ctx, "eager plan", "type", root, "association", d.Spec.String(), "strategy", d.Strategy)
		if d.Strategy == StrategyJoin {
			joined = append(joined, d)
		} else {
			separate = append(separate, d)
		}
	}

	var records []*core.Record
	if len(joined) > 0 {
		records, err = l.loadJoined(ctx, typ, q, joined)
	} else {
		records, err = l.loadBase(ctx, typ, q)
	}
	if err != nil {
		return nil, err
	}

	for _, d := range joined {
		if len(d.Spec.Children) == 0 {
			continue
		}
		if err := l.preloadRelated(ctx, related(records, d.Association.Name), d.Spec.Children); err != nil {
			return nil, err
		}
	}

	specs := make([]association.Spec, len(separate))
	for i, d := range separate {
		specs[i] = d.Spec
	}
	if err := l.Preload(ctx, typ, records, specs...); err != nil {
		return nil, err
	}
	return records, nil
}

func (l *Loader) loadBase(ctx context.Context, typ *model.Type, q *query.Query) ([]*core.Record, error) {
	sql, args, err := q.ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := l.exec.Query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	records := make([]*core.Record, len(rows))
	for i, row := range rows {
		records[i] = core.NewRecord(typ.Name, row)
	}
	return records, nil
}

// Preload loads specs onto records of owner with separate queries
func (l *Loader) Preload(ctx context.Context, owner *model.Type, records []*core.Record, specs ...association.Spec) error {
	for _, spec := range specs {
		if _, err := l.validate(owner, spec, nil); err != nil {
			return err
		}
	}
	if len(records) == 0 || len(specs) == 0 {
		return nil
	}

	links, err := l.links(ctx, owner, records, specs)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		a, _ := owner.Association(spec.Name)
		byOwner := links[a.Name]
		for _, r := range records {
			found := byOwner[r]
			if a.Kind.Collection() {
				r.SetMany(a.Name, append([]*core.Record(nil), found...))
				continue
			}
			var one *core.Record
			if len(found) > 0 {
				one = found[0]
			}
			r.SetOne(a.Name, one)
		}
		if len(spec.Children) > 0 {
			if err := l.preloadRelated(ctx, related(records, a.Name), spec.Children); err != nil {
				return err
			}
		}
	}
	return nil
}

// preloadRelated loads specs onto records that may be of several types
func (l *Loader) preloadRelated(ctx context.Context, records []*core.Record, specs []association.Spec) error {
	byType := map[string][]*core.Record{}
	for _, r := range records {
		byType[r.Type] = append(byType[r.Type], r)
	}
	for _, name := range sortedKeys(byType) {
		typ, err := l.registry.Type(name)
		if err != nil {
			return err
		}
		if err := l.Preload(ctx, typ, byType[name], specs...); err != nil {
			return err
		}
	}
	return nil
}

// related returns the distinct records loaded under name on owners
func related(owners []*core.Record, name string) []*core.Record {
	seen := map[*core.Record]bool{}
	var out []*core.Record
	add := func(r *core.Record) {
		if r != nil && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, o := range owners {
		add(o.One(name))
		for _, r := range o.Many(name) {
			add(r)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
