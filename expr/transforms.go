package expr

import (
	"fmt"
	"strings"
)

// IndexExpr reads one array element. Index is zero based; SQL is one based.
type IndexExpr struct {
	LHS   Expression
	Index int
	name  string
}

// Index reads field[i+1], aliased "field__i".
func Index(field any, i int) IndexExpr {
	lhs := asField(field)
	return IndexExpr{LHS: lhs, Index: i, name: nameOf(lhs)}
}

func (ix IndexExpr) ToSql() (string, []any, error) {
	sql, args, err := subscriptBase(ix.LHS)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s[%d]", sql, ix.Index+1), args, nil
}

func (ix IndexExpr) DefaultAlias() string { return fmt.Sprintf("%s__%d", ix.name, ix.Index) }

// SliceExpr reads field[from+1:to+1]. Slicing a slice reads the next dimension.
type SliceExpr struct {
	LHS              Expression
	From, To         int
	Multidimensional bool
	name             string
}

func SliceArray(field any, from, to int) SliceExpr {
	lhs := asField(field)
	_, multi := lhs.(SliceExpr)
	return SliceExpr{LHS: lhs, From: from, To: to, Multidimensional: multi, name: nameOf(lhs)}
}

func (s SliceExpr) ToSql() (string, []any, error) {
	sql, args, err := subscriptBase(s.LHS)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s[%d:%d]", sql, s.From+1, s.To+1), args, nil
}

func (s SliceExpr) DefaultAlias() string {
	return fmt.Sprintf("%s__%d_%d", s.name, s.From, s.To)
}

// Key reads an hstore/jsonb key ("->"), or a path when keys contains "__" ("#>").
func Key(field string, keys string) Alias {
	var e Operand
	if strings.Contains(keys, "__") {
		e = F(field).Path(ArrayV(strings.Split(keys, "__"), "text"))
	} else {
		e = F(field).Key(TypedV(keys, "text"))
	}
	return As(e, field+"__"+keys)
}

// Keys selects several hstore values as an array.
func Keys(field string, keys []string) Alias {
	return As(F(field).Key(ArrayV(keys, "text")), field+"__selected")
}

func subscriptBase(e Expression) (string, []any, error) {
	sql, args, err := e.ToSql()
	if err != nil {
		return "", nil, err
	}
	switch e.(type) {
	case Col, IndexExpr, SliceExpr:
		return sql, args, nil
	}
	return "(" + sql + ")", args, nil
}

func nameOf(e Expression) string {
	if a, ok := e.(Aliased); ok {
		return a.DefaultAlias()
	}
	return "expr"
}
