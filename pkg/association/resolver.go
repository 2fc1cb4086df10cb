package association

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/pay-theory/relorm/pkg/naming"
	"github.com/pay-theory/relorm/pkg/query"
)

// Step is one resolved spec node: the association, the types on each side
// and the joins that reach the target. Through and many-to-many
// associations contribute two joins.
type Step struct {
	Path        []string
	Association model.Association
	Owner       *model.Type
	OwnerAlias  string
	Target      *model.Type
	Alias       string // name of the target table in the statement
	Joins       []query.Join
}

// Resolver expands specs against a registry
type Resolver struct {
	registry *model.Registry
}

// NewResolver creates a resolver over registry
func NewResolver(registry *model.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// state tracks the table names already used in the statement
type state struct {
	joinType query.JoinType
	used     map[string]bool
	steps    []Step
}

// alias returns table the first time it is used, otherwise base, then
// base_2, base_3 and so on
func (s *state) alias(table, base string) string {
	if !s.used[table] {
		s.used[table] = true
		return table
	}
	alias := base
	for i := 2; s.used[alias]; i++ {
		alias = base + "_" + strconv.Itoa(i)
	}
	s.used[alias] = true
	return alias
}

// Resolve returns the joins for specs in depth-first order. Nothing is
// returned unless every name resolves.
func (r *Resolver) Resolve(root string, joinType query.JoinType, specs ...Spec) ([]query.Join, error) {
	steps, err := r.Steps(root, joinType, nil, specs...)
	if err != nil {
		return nil, err
	}
	var joins []query.Join
	for _, s := range steps {
		joins = append(joins, s.Joins...)
	}
	return joins, nil
}

// Steps resolves specs into steps. used lists table names or aliases the
// statement already contains; the root table is always added.
func (r *Resolver) Steps(root string, joinType query.JoinType, used []string, specs ...Spec) ([]Step, error) {
	owner, err := r.registry.Type(root)
	if err != nil {
		return nil, err
	}
	if joinType == "" {
		joinType = query.InnerJoin
	}

	st := &state{joinType: joinType, used: map[string]bool{owner.Table: true}}
	for _, u := range used {
		st.used[strings.ToLower(u)] = true
	}
	if err := r.walk(st, owner, owner.Table, specs, nil); err != nil {
		return nil, err
	}
	return st.steps, nil
}

func (r *Resolver) walk(st *state, owner *model.Type, ownerAlias string, specs []Spec, path []string) error {
	for _, spec := range specs {
		a, ok := owner.Association(spec.Name)
		if !ok {
			return &errors.UnknownAssociationError{Name: spec.Name, Parent: owner.Name, Path: append([]string(nil), path...)}
		}

		stepPath := append(append([]string(nil), path...), spec.Name)
		joins, target, alias, err := r.join(st, owner, ownerAlias, a)
		if err != nil {
			return err
		}
		st.steps = append(st.steps, Step{
			Path:        stepPath,
			Association: a,
			Owner:       owner,
			OwnerAlias:  ownerAlias,
			Target:      target,
			Alias:       alias,
			Joins:       joins,
		})

		if len(spec.Children) > 0 {
			if err := r.walk(st, target, alias, spec.Children, stepPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// join builds the joins from ownerAlias to the association's target
func (r *Resolver) join(st *state, owner *model.Type, ownerAlias string, a model.Association) ([]query.Join, *model.Type, string, error) {
	switch a.Kind {
	case model.HasManyThrough:
		return r.joinThrough(st, owner, ownerAlias, a)

	case model.HasAndBelongsToMany:
		target, err := r.registry.Type(a.Target)
		if err != nil {
			return nil, nil, "", err
		}
		joinAlias := st.alias(a.JoinTable, a.JoinTable+"_join")
		alias := st.alias(target.Table, naming.Plural(a.Name)+"_"+ownerAlias)
		joins := []query.Join{
			{
				Type:  st.joinType,
				Table: a.JoinTable,
				Alias: aliasOrEmpty(joinAlias, a.JoinTable),
				On:    condition.ColumnsEqual(joinAlias+"."+a.ForeignKey, ownerAlias+"."+a.LocalKey),
			},
			{
				Type:  st.joinType,
				Table: target.Table,
				Alias: aliasOrEmpty(alias, target.Table),
				On:    condition.ColumnsEqual(alias+"."+target.PrimaryColumn(), joinAlias+"."+a.AssociationForeignKey),
			},
		}
		on, err := withDefaultScope(joins[1].On, target, alias)
		if err != nil {
			return nil, nil, "", err
		}
		joins[1].On = on
		return joins, target, alias, nil

	case model.PolymorphicBelongsTo:
		if a.Target == "" {
			return nil, nil, "", fmt.Errorf("%w: %s.%s", errors.ErrPolymorphicJoin, owner.Name, a.Name)
		}
	}

	target, err := r.registry.Type(a.Target)
	if err != nil {
		return nil, nil, "", err
	}
	alias := st.alias(target.Table, naming.Plural(a.Name)+"_"+ownerAlias)
	foreignKey := a.ForeignKey
	if foreignKey == "" {
		foreignKey = target.PrimaryColumn()
	}

	on := condition.ColumnsEqual(alias+"."+foreignKey, ownerAlias+"."+a.LocalKey)
	switch a.Kind {
	case model.PolymorphicHasMany:
		on = condition.And(on, condition.Eq(alias+"."+a.TypeColumn, owner.Name))
	case model.PolymorphicBelongsTo:
		on = condition.And(on, condition.Eq(ownerAlias+"."+a.TypeColumn, target.Name))
	}
	on, err = withDefaultScope(on, target, alias)
	if err != nil {
		return nil, nil, "", err
	}

	return []query.Join{{
		Type:  st.joinType,
		Table: target.Table,
		Alias: aliasOrEmpty(alias, target.Table),
		On:    on,
	}}, target, alias, nil
}

func (r *Resolver) joinThrough(st *state, owner *model.Type, ownerAlias string, a model.Association) ([]query.Join, *model.Type, string, error) {
	through, ok := owner.Association(a.Through)
	if !ok {
		return nil, nil, "", &errors.UnknownAssociationError{Name: a.Through, Parent: owner.Name}
	}
	throughJoins, middle, middleAlias, err := r.join(st, owner, ownerAlias, through)
	if err != nil {
		return nil, nil, "", err
	}

	source, err := SourceOf(middle, a)
	if err != nil {
		return nil, nil, "", err
	}
	sourceJoins, target, alias, err := r.join(st, middle, middleAlias, source)
	if err != nil {
		return nil, nil, "", err
	}
	if a.Target != "" && a.Target != target.Name {
		return nil, nil, "", fmt.Errorf("%w: %s.%s resolves to %s, not %s", errors.ErrInvalidAssociation, owner.Name, a.Name, target.Name, a.Target)
	}
	return append(throughJoins, sourceJoins...), target, alias, nil
}

// SourceOf finds the association on the through target that yields the
// records of a through association: the explicit source, the association's
// own name, or its singular form.
func SourceOf(middle *model.Type, a model.Association) (model.Association, error) {
	candidates := []string{a.Source}
	if a.Source == "" {
		candidates = []string{a.Name, naming.Singular(a.Name)}
	}
	for _, name := range candidates {
		if src, ok := middle.Association(name); ok {
			return src, nil
		}
	}
	return model.Association{}, &errors.UnknownAssociationError{Name: candidates[0], Parent: middle.Name, Path: []string{a.Name}}
}

// withDefaultScope ANDs the target's default scope conditions onto a join
// predicate, rewritten for the alias the target is joined under
func withDefaultScope(on condition.Condition, target *model.Type, alias string) (condition.Condition, error) {
	if target.DefaultScope() == nil {
		return on, nil
	}
	scoped := target.DefaultScope().Apply(query.New(target.Table)).Narrow()
	if err := scoped.Err(); err != nil {
		return condition.Condition{}, err
	}
	conds := scoped.Conditions()
	if len(conds) == 0 {
		return on, nil
	}
	all := []condition.Condition{on}
	for _, c := range conds {
		all = append(all, c.Requalify(target.Table, alias))
	}
	return condition.And(all...), nil
}

func aliasOrEmpty(alias, table string) string {
	if alias == table {
		return ""
	}
	return alias
}

// Join applies the spec's joins to q, which must select from root's table.
// Tables q already joins are taken into account when aliasing.
func (r *Resolver) Join(q *query.Query, root string, joinType query.JoinType, input any) (*query.Query, error) {
	specs, err := Parse(input)
	if err != nil {
		return nil, err
	}
	var used []string
	for _, j := range q.JoinClauses() {
		used = append(used, j.Name())
	}
	steps, err := r.Steps(root, joinType, used, specs...)
	if err != nil {
		return nil, err
	}
	for _, s := range steps {
		q = q.Joins(s.Joins...)
	}
	return q, nil
}
