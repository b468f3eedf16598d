package query

import (
	"strings"

	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/model"
)

func (qs *QuerySet) condition(name string, value any) (expr.Expression, error) {
	cond, err := qs.resolve(qs.model, qs.model.Table, strings.Split(name, "__"), value)
	if err != nil {
		return nil, err
	}
	sql, args, err := cond.ToSql()
	if err != nil {
		return nil, err
	}
	return expr.Raw{SQL: sql, Args: args}, nil
}

// resolve walks parts starting at model m, reachable in the query as alias.
// Field names win over lookup names; a relation followed by a field of the
// related model adds a join.
func (qs *QuerySet) resolve(m *model.Model, alias string, parts []string, value any) (expr.Expression, error) {
	head, rest := parts[0], parts[1:]
	if head == "pk" && m.PK() != nil {
		head = m.PK().Name()
	}
	outer := isNullLookup(rest, value)
	if f, ok := m.Field(head); ok {
		owner := qs.aliasFor(m, alias, f)
		switch f := f.(type) {
		case *model.ArrayManyToManyField:
			rel := f.Rel()
			if rel == nil {
				return nil, &model.FieldError{Model: m.Name, Field: head, Msg: "related model " + f.To() + " is not registered"}
			}
			if len(rest) > 0 && hasField(rel.Target, rest[0]) {
				j := qs.joinForward(f, owner, outer)
				return qs.resolve(rel.Target, j.alias(), rest, value)
			}
			return qs.lookups.Related(f, expr.Col{Name: owner + "." + f.Column()}, strings.Join(rest, "__"), value)
		case *model.ManyToManyField:
			return nil, &model.FieldError{Model: m.Name, Field: head, Msg: "join table relations cannot be filtered"}
		}
		return qs.lookups.Build(f, expr.Col{Name: owner + "." + f.Column()}, rest, value)
	}
	if rel, ok := m.ReverseRelation(head); ok {
		j := qs.joinReverse(rel, qs.aliasFor(m, alias, rel.ToField), outer)
		if len(rest) > 0 && hasField(rel.Model, rest[0]) {
			return qs.resolve(rel.Model, j.alias(), rest, value)
		}
		pk := rel.Model.PK()
		lhs := expr.Col{Name: qs.aliasFor(rel.Model, j.alias(), pk) + "." + pk.Column()}
		return qs.lookups.Reverse(rel, lhs, strings.Join(rest, "__"), value)
	}
	return nil, &model.FieldError{Model: m.Name, Field: head, Msg: "cannot resolve keyword into field"}
}

func hasField(m *model.Model, name string) bool {
	if name == "pk" {
		return true
	}
	if _, ok := m.Field(name); ok {
		return true
	}
	_, ok := m.ReverseRelation(name)
	return ok
}

// isNullLookup reports "__isnull=true", which needs outer joins.
func isNullLookup(rest []string, value any) bool {
	if len(rest) == 0 || rest[len(rest)-1] != "isnull" {
		return false
	}
	b, _ := value.(bool)
	return b
}

// joinForward joins the target of f, aliased by the relation path.
func (qs *QuerySet) joinForward(f *model.ArrayManyToManyField, parentAlias string, outer bool) *Join {
	rel := f.Rel()
	lhs, rhs := f.JoinColumns()
	j := qs.join(&Join{
		Type:        joinType(outer),
		Table:       rel.Target.Table,
		Alias:       qs.pathAlias(parentAlias, f.Name()),
		ParentAlias: parentAlias,
		Columns:     [][2]string{{lhs, rhs}},
		Field:       f,
		Restriction: restrictionFor(rel, true),
		Name:        f.Model().Name + "." + f.Name(),
	})
	qs.addParents(rel.Target, j.alias())
	return j
}

// joinReverse joins the model declaring rel from its target.
func (qs *QuerySet) joinReverse(rel *model.Rel, parentAlias string, outer bool) *Join {
	lhs, rhs := rel.JoinColumns()
	j := qs.join(&Join{
		Type:        joinType(outer),
		Table:       rel.Model.Table,
		Alias:       qs.pathAlias(parentAlias, rel.QueryName()),
		ParentAlias: parentAlias,
		Columns:     [][2]string{{lhs, rhs}},
		Field:       rel,
		Restriction: restrictionFor(rel, false),
		Name:        rel.Target.Name + "." + rel.QueryName(),
	})
	qs.addParents(rel.Model, j.alias())
	return j
}

func joinType(outer bool) string {
	if outer {
		return LeftJoin
	}
	return InnerJoin
}

// pathAlias names a relation join after its path from the queried model.
func (qs *QuerySet) pathAlias(parentAlias, name string) string {
	if parentAlias == qs.model.Table {
		return name
	}
	return parentAlias + "__" + name
}

// join adds j unless a join with the same alias exists. An outer join
// request promotes an existing inner join.
func (qs *QuerySet) join(j *Join) *Join {
	for i, existing := range qs.joins {
		if existing.alias() != j.alias() {
			continue
		}
		if j.Type == LeftJoin && existing.Type != LeftJoin {
			promoted := *existing
			promoted.Type = LeftJoin
			qs.joins[i] = &promoted
			return &promoted
		}
		return existing
	}
	qs.joins = append(qs.joins, j)
	return j
}

// addParents joins the ancestor tables of m, which is reachable as alias.
func (qs *QuerySet) addParents(m *model.Model, alias string) {
	for child, parent := m, m.Parent; parent != nil; child, parent = parent, parent.Parent {
		if child.PK() == nil || parent.PK() == nil {
			return
		}
		qs.join(&Join{
			Type:        InnerJoin,
			Table:       parent.Table,
			Alias:       ancestorAlias(m, alias, parent),
			ParentAlias: ancestorAlias(m, alias, child),
			Columns:     [][2]string{{child.PK().Column(), parent.PK().Column()}},
			Name:        child.Name + " parent " + parent.Name,
		})
	}
}

func ancestorAlias(m *model.Model, alias string, ancestor *model.Model) string {
	switch {
	case ancestor == m:
		return alias
	case alias == m.Table:
		return ancestor.Table
	}
	return alias + "__" + ancestor.Table
}

// aliasFor returns the alias of the table holding f when m is reachable as
// alias.
func (qs *QuerySet) aliasFor(m *model.Model, alias string, f model.Field) string {
	owner := f.Model()
	if owner == nil || owner == m || !m.IsSubclassOf(owner) {
		return alias
	}
	return ancestorAlias(m, alias, owner)
}
