package query

import (
	"fmt"
	"strings"

	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/restrict"
)

const (
	InnerJoin = "INNER JOIN"
	LeftJoin  = "LEFT OUTER JOIN"
)

// JoinPredicate renders the ON condition of one column pair. Array relations
// implement it to compare a key with an array of keys.
type JoinPredicate interface {
	JoinOn(parentAlias, lhsCol, tableAlias, rhsCol string) string
}

// Restriction adds a condition to a join. alias is the joined table and
// relatedAlias the table it is joined from.
type Restriction interface {
	ExtraRestriction(alias, relatedAlias string) (expr.Expression, error)
}

// Join is one JOIN clause of a select.
type Join struct {
	Type        string
	Table       string
	Alias       string
	ParentAlias string
	// Columns pairs a parent column with a column of the joined table.
	Columns [][2]string
	// Field renders array predicates while the array switch is on.
	Field       JoinPredicate
	Restriction Restriction
	// Name describes the relation in errors.
	Name string
}

func (j *Join) alias() string {
	if j.Alias == "" {
		return j.Table
	}
	return j.Alias
}

func (j *Join) ToSql() (string, []any, error) {
	conds := make([]string, 0, len(j.Columns)+1)
	var args []any
	for _, c := range j.Columns {
		if j.Field != nil && ArrayM2MEnabled() {
			conds = append(conds, j.Field.JoinOn(j.ParentAlias, c[0], j.alias(), c[1]))
			continue
		}
		conds = append(conds, fmt.Sprintf("%s = %s",
			expr.QuoteName(j.ParentAlias)+"."+expr.QuoteName(c[0]),
			expr.QuoteName(j.alias())+"."+expr.QuoteName(c[1])))
	}
	if j.Restriction != nil {
		e, err := j.Restriction.ExtraRestriction(j.alias(), j.ParentAlias)
		if err != nil {
			return "", nil, fmt.Errorf("join %s: %w", j.Name, err)
		}
		if e != nil {
			sql, rargs, err := e.ToSql()
			if err != nil {
				return "", nil, fmt.Errorf("join %s: %w", j.Name, err)
			}
			if sql != "" {
				conds = append(conds, "("+sql+")")
				args = append(args, rargs...)
			}
		}
	}
	if len(conds) == 0 {
		return "", nil, fmt.Errorf("join generated an empty ON clause: %s did not yield either joining columns or extra restrictions", j.Name)
	}
	var b strings.Builder
	typ := j.Type
	if typ == "" {
		typ = InnerJoin
	}
	b.WriteString(typ)
	b.WriteString(" ")
	b.WriteString(expr.QuoteName(j.Table))
	if j.Alias != "" && j.Alias != j.Table {
		b.WriteString(" ")
		b.WriteString(expr.QuoteName(j.Alias))
	}
	b.WriteString(" ON (")
	b.WriteString(strings.Join(conds, " AND "))
	b.WriteString(")")
	return b.String(), args, nil
}

// relRestriction compiles a relation's JoinRestriction against the target
// model. forward joins reach the target as the joined table; reverse joins
// start from it.
type relRestriction struct {
	rel     *model.Rel
	forward bool
}

func (r relRestriction) ExtraRestriction(alias, relatedAlias string) (expr.Expression, error) {
	if r.rel.JoinRestriction == "" {
		return nil, nil
	}
	target := alias
	if !r.forward {
		target = relatedAlias
	}
	return restrict.Compile(r.rel.Target, r.rel.JoinRestriction, target)
}

func restrictionFor(rel *model.Rel, forward bool) Restriction {
	if rel.JoinRestriction == "" {
		return nil
	}
	return relRestriction{rel: rel, forward: forward}
}
