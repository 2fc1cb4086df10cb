package eager

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pay-theory/relorm/pkg/association"
	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/pay-theory/relorm/pkg/query"
)

// columnAlias names column j of table i in a joined eager load
func columnAlias(i, j int) string {
	return "t" + strconv.Itoa(i) + "_r" + strconv.Itoa(j)
}

func aliasedColumns(table string, typ *model.Type, i int) []string {
	out := make([]string, len(typ.Columns))
	for j, col := range typ.Columns {
		out[j] = table + "." + col + " AS " + columnAlias(i, j)
	}
	return out
}

// loadJoined merges LEFT OUTER JOINs for the decided associations into q and
// folds the joined rows back into one record per parent
func (l *Loader) loadJoined(ctx context.Context, root *model.Type, q *query.Query, decisions []Decision) ([]*core.Record, error) {
	specs := make([]association.Spec, len(decisions))
	for i, d := range decisions {
		specs[i] = association.Spec{Name: d.Spec.Name}
	}
	var used []string
	for _, j := range q.JoinClauses() {
		used = append(used, j.Name())
	}
	steps, err := l.resolver.Steps(root.Name, query.LeftJoin, used, specs...)
	if err != nil {
		return nil, err
	}

	selects := aliasedColumns(root.Table, root, 0)
	joined := q
	for i, s := range steps {
		selects = append(selects, aliasedColumns(s.Alias, s.Target, i+1)...)
		joined = joined.Joins(s.Joins...)
	}
	joined = joined.Reselect(selects...)

	_, hasLimit := q.LimitValue()
	_, hasOffset := q.OffsetValue()
	if hasLimit || hasOffset {
		joined, err = l.limitParents(ctx, root, joined)
		if err != nil {
			return nil, err
		}
		if joined == nil {
			return []*core.Record{}, nil
		}
	}

	sql, args, err := joined.ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := l.exec.Query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	return stitchJoined(root, steps, decisions, rows), nil
}

// limitParents runs the limited query for distinct parent keys so LIMIT and
// OFFSET count parents rather than joined rows. It returns the unlimited
// query restricted to those parents, or nil when there are none. ORDER BY
// columns are selected too since SELECT DISTINCT must project them.
func (l *Loader) limitParents(ctx context.Context, root *model.Type, joined *query.Query) (*query.Query, error) {
	keys := make([]string, 0, len(root.PrimaryKey))
	projected := map[string]bool{}
	for i, col := range root.PrimaryKey {
		keys = append(keys, root.Qualified(col)+" AS "+columnAlias(0, i))
		projected[root.Qualified(col)] = true
	}
	for i, term := range joined.Orders() {
		if projected[term.Column] {
			continue
		}
		projected[term.Column] = true
		keys = append(keys, term.Column+" AS relorm_order_"+strconv.Itoa(i))
	}
	ids := joined.Except(query.ClauseSelect).Select(keys...).Distinct()
	unlimited := joined.Except(query.ClauseLimit, query.ClauseOffset)

	sql, args, err := ids.ToSQL()
	if err != nil {
		return nil, err
	}
	if _, _, err := unlimited.ToSQL(); err != nil {
		return nil, err
	}
	rows, err := l.exec.Query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// rows repeat a parent when it sorts under several order values
	seen := map[string]bool{}
	var parents []core.Row
	for _, row := range rows {
		values := make(core.Row, len(root.PrimaryKey))
		for j, col := range root.PrimaryKey {
			values[col] = row[columnAlias(0, j)]
		}
		pk, _ := keyOf(values, root.PrimaryKey)
		if seen[pk] {
			continue
		}
		seen[pk] = true
		parents = append(parents, values)
	}

	if len(root.PrimaryKey) == 1 {
		col := root.PrimaryColumn()
		values := make([]any, len(parents))
		for i, p := range parents {
			values[i] = p[col]
		}
		return unlimited.Narrow(condition.In(root.Qualified(col), values...)), nil
	}
	alternatives := make([]condition.Condition, len(parents))
	for i, p := range parents {
		parts := make([]condition.Condition, len(root.PrimaryKey))
		for j, col := range root.PrimaryKey {
			parts[j] = condition.Eq(root.Qualified(col), p[col])
		}
		alternatives[i] = condition.And(parts...)
	}
	return unlimited.Narrow(condition.Or(alternatives...)), nil
}

func extract(row core.Row, i int, typ *model.Type) core.Row {
	out := make(core.Row, len(typ.Columns))
	for j, col := range typ.Columns {
		out[col] = row[columnAlias(i, j)]
	}
	return out
}

func keyOf(values core.Row, columns []string) (string, bool) {
	parts := make([]any, len(columns))
	present := false
	for i, col := range columns {
		parts[i] = values[col]
		if parts[i] != nil {
			present = true
		}
	}
	return core.KeyString(parts...), present
}

// stitchJoined groups rows by parent key in first-seen order and attaches
// each association row once per parent
func stitchJoined(root *model.Type, steps []association.Step, decisions []Decision, rows []core.Row) []*core.Record {
	parents := []*core.Record{}
	byKey := map[string]*core.Record{}
	seen := map[string]bool{}

	for _, row := range rows {
		values := extract(row, 0, root)
		pk, _ := keyOf(values, root.PrimaryKey)
		parent, ok := byKey[pk]
		if !ok {
			parent = core.NewRecord(root.Name, values)
			for _, d := range decisions {
				if d.Association.Kind.Collection() {
					parent.SetMany(d.Association.Name, nil)
				} else {
					parent.SetOne(d.Association.Name, nil)
				}
			}
			byKey[pk] = parent
			parents = append(parents, parent)
		}

		for i, s := range steps {
			child := extract(row, i+1, s.Target)
			ck, present := keyOf(child, s.Target.PrimaryKey)
			if !present {
				continue
			}
			dedup := fmt.Sprintf("%s\x1e%d\x1e%s", pk, i, ck)
			if seen[dedup] {
				continue
			}
			seen[dedup] = true

			rec := core.NewRecord(s.Target.Name, child)
			a := decisions[i].Association
			if a.Kind.Collection() {
				parent.AppendMany(a.Name, rec)
			} else if parent.One(a.Name) == nil {
				parent.SetOne(a.Name, rec)
			}
		}
	}
	return parents
}
