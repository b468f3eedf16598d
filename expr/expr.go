// Package expr provides PostgreSQL expressions and functions for arrays, hstore
// and jsonb. Every value implements squirrel's Sqlizer contract and renders
// with ? placeholders.
package expr

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Expression compiles to a SQL fragment and its flat parameter list.
type Expression interface {
	ToSql() (string, []any, error)
}

// Aliased expressions carry a default annotation name.
type Aliased interface {
	Expression
	DefaultAlias() string
}

// Col references a column, optionally qualified ("products.tags").
type Col struct {
	Name string
}

func (c Col) ToSql() (string, []any, error) {
	if c.Name == "" {
		return "", nil, fmt.Errorf("empty column name")
	}
	return QuoteName(c.Name), nil, nil
}

func (c Col) DefaultAlias() string {
	if i := strings.LastIndexByte(c.Name, '.'); i >= 0 {
		return c.Name[i+1:]
	}
	return c.Name
}

// QuoteName quotes each dot separated part of name.
func QuoteName(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// Value is a bound parameter, optionally cast ("?::text[]").
type Value struct {
	V    any
	Cast string
}

func (v Value) ToSql() (string, []any, error) {
	if v.Cast != "" {
		return "?::" + v.Cast, []any{v.V}, nil
	}
	return "?", []any{v.V}, nil
}

// Raw is literal SQL with ? placeholders.
type Raw struct {
	SQL  string
	Args []any
}

func (r Raw) ToSql() (string, []any, error) {
	return r.SQL, r.Args, nil
}

// Alias attaches a name to an expression for Annotate and Values.
type Alias struct {
	Expression
	Name string
}

func (a Alias) DefaultAlias() string { return a.Name }

func As(e Expression, name string) Alias {
	return Alias{Expression: unwrap(e), Name: name}
}

// AliasOf returns the default alias of e, or "" when it has none.
func AliasOf(e Expression) string {
	if a, ok := e.(Aliased); ok {
		return a.DefaultAlias()
	}
	if o, ok := e.(Operand); ok {
		return AliasOf(o.Expression)
	}
	return ""
}

// asField treats strings as column names.
func asField(v any) Expression {
	switch t := v.(type) {
	case string:
		return Col{Name: t}
	case Expression:
		return unwrap(t)
	default:
		return Value{V: v}
	}
}

// asValue treats everything that is not an Expression as a parameter.
func asValue(v any) Expression {
	if e, ok := v.(Expression); ok {
		return unwrap(e)
	}
	return Value{V: v}
}

func unwrap(e Expression) Expression {
	for {
		o, ok := e.(Operand)
		if !ok {
			return e
		}
		e = o.Expression
	}
}

// textParam casts string and []string parameters so overloaded hstore and
// jsonb operators resolve.
func textParam(v any) Expression {
	switch v.(type) {
	case []string:
		return Value{V: v, Cast: "text[]"}
	case string:
		return Value{V: v, Cast: "text"}
	}
	return asValue(v)
}

// render compiles e, wrapping operator expressions in parentheses when nested.
func render(e Expression, nested bool) (string, []any, error) {
	e = unwrap(e)
	sql, args, err := e.ToSql()
	if err != nil {
		return "", nil, err
	}
	if _, ok := e.(Combined); ok && nested {
		return "(" + sql + ")", args, nil
	}
	return sql, args, nil
}

// Nest renders e as the operand of another operator, parenthesizing operator
// expressions.
func Nest(e Expression) (string, []any, error) {
	return render(e, true)
}
