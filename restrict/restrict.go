// Package restrict compiles CEL expressions into parametrized PostgreSQL
// conditions. Relation fields use it for LimitChoicesTo and for extra join
// restrictions; columns are qualified with the alias of the table they
// belong to and every literal is bound as a ? parameter.
package restrict

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/model"
)

// Env checks restrictions against a fixed set of columns.
type Env struct {
	env     *cel.Env
	columns map[string]Column
}

// NewEnv declares one CEL variable per column.
func NewEnv(columns []Column) (*Env, error) {
	opts := make([]cel.EnvOption, 0, len(columns))
	byName := make(map[string]Column, len(columns))
	for _, c := range columns {
		if c.Column == "" {
			c.Column = c.Name
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate restriction variable %q", c.Name)
		}
		byName[c.Name] = c
		opts = append(opts, cel.Variable(c.Name, celType(c.Type)))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating restriction environment: %w", err)
	}
	return &Env{env: env, columns: byName}, nil
}

var envs sync.Map // *model.Model -> *Env

// ForModel returns the environment of m's fields, built once per model.
func ForModel(m *model.Model) (*Env, error) {
	if e, ok := envs.Load(m); ok {
		return e.(*Env), nil
	}
	e, err := NewEnv(ColumnsOf(m))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}
	actual, _ := envs.LoadOrStore(m, e)
	return actual.(*Env), nil
}

// Compile checks src against m's fields and renders it over alias.
func Compile(m *model.Model, src, alias string) (expr.Raw, error) {
	e, err := ForModel(m)
	if err != nil {
		return expr.Raw{}, err
	}
	return e.Compile(src, alias)
}

// Compile checks src and renders it. Column references are qualified with
// alias unless it is empty.
func (e *Env) Compile(src, alias string) (expr.Raw, error) {
	ast, iss := e.env.Compile(src)
	if iss.Err() != nil {
		return expr.Raw{}, fmt.Errorf("compiling restriction %q: %w", src, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return expr.Raw{}, fmt.Errorf("restriction %q must be boolean, got %s", src, ast.OutputType())
	}
	checked, err := cel.AstToCheckedExpr(ast)
	if err != nil {
		return expr.Raw{}, err
	}
	con := &converter{
		typeMap:  checked.TypeMap,
		columns:  e.columns,
		alias:    alias,
		iterVars: map[string]int{},
	}
	if err := con.visit(checked.Expr); err != nil {
		return expr.Raw{}, fmt.Errorf("converting restriction %q: %w", src, err)
	}
	return expr.Raw{SQL: con.str.String(), Args: con.args}, nil
}

type converter struct {
	str      strings.Builder
	args     []any
	typeMap  map[int64]*exprpb.Type
	columns  map[string]Column
	alias    string
	iterVars map[string]int
	// cast is applied to the next json text access.
	cast string
}

func (con *converter) param(v any) {
	con.str.WriteString("?")
	con.args = append(con.args, v)
}

func (con *converter) visit(e *exprpb.Expr) error {
	switch e.GetExprKind().(type) {
	case *exprpb.Expr_CallExpr:
		return con.visitCall(e)
	case *exprpb.Expr_ComprehensionExpr:
		return con.visitComprehension(e)
	case *exprpb.Expr_ConstExpr:
		return con.visitConst(e)
	case *exprpb.Expr_IdentExpr:
		return con.visitIdent(e)
	case *exprpb.Expr_ListExpr:
		return con.visitList(e)
	case *exprpb.Expr_SelectExpr:
		return con.visitSelect(e)
	}
	return fmt.Errorf("unsupported expression: %v", e)
}

func (con *converter) visitCall(e *exprpb.Expr) error {
	switch e.GetCallExpr().GetFunction() {
	case operators.Conditional:
		return con.visitCallConditional(e)
	case operators.Index:
		return con.visitCallIndex(e)
	case operators.LogicalNot, operators.Negate:
		return con.visitCallUnary(e)
	case operators.Add,
		operators.Divide,
		operators.Equals,
		operators.Greater,
		operators.GreaterEquals,
		operators.In,
		operators.Less,
		operators.LessEquals,
		operators.LogicalAnd,
		operators.LogicalOr,
		operators.Modulo,
		operators.Multiply,
		operators.NotEquals,
		operators.OldIn,
		operators.Subtract:
		return con.visitCallBinary(e)
	default:
		return con.visitCallFunc(e)
	}
}

var sqlBinaryOperators = map[string]string{
	operators.LogicalAnd: "AND",
	operators.LogicalOr:  "OR",
	operators.Equals:     "=",
	operators.NotEquals:  "<>",
}

func (con *converter) visitCallBinary(e *exprpb.Expr) error {
	c := e.GetCallExpr()
	fun := c.GetFunction()
	lhs, rhs := c.GetArgs()[0], c.GetArgs()[1]
	lhsType, rhsType := con.getType(lhs), con.getType(rhs)

	if fun == operators.In || fun == operators.OldIn {
		return con.callIn(lhs, rhs, rhsType)
	}
	if fun == operators.Equals || fun == operators.NotEquals {
		if lit, ok := isLiteral(rhs); ok {
			if err := con.visitMaybeNested(lhs, isComplexOperatorWithRespectTo(fun, lhs)); err != nil {
				return err
			}
			if fun == operators.Equals {
				con.str.WriteString(" IS ")
			} else {
				con.str.WriteString(" IS NOT ")
			}
			con.str.WriteString(lit)
			return nil
		}
	}

	lhsParen := isComplexOperatorWithRespectTo(fun, lhs)
	rhsParen := isComplexOperatorWithRespectTo(fun, rhs)
	if !rhsParen && isLeftRecursive(fun) {
		rhsParen = isSamePrecedence(fun, rhs)
	}

	var operator string
	switch {
	case fun == operators.Add && isPrimitive(lhsType, exprpb.Type_STRING) && isPrimitive(rhsType, exprpb.Type_STRING),
		fun == operators.Add && isPrimitive(lhsType, exprpb.Type_BYTES) && isPrimitive(rhsType, exprpb.Type_BYTES),
		fun == operators.Add && isListType(lhsType) && isListType(rhsType):
		operator = "||"
	default:
		if op, ok := sqlBinaryOperators[fun]; ok {
			operator = op
		} else if op, ok := operators.FindReverseBinaryOperator(fun); ok {
			operator = op
		} else {
			return fmt.Errorf("cannot unmangle operator: %s", fun)
		}
	}

	if isKeyAccess(lhs) {
		con.cast = castFor(rhsType)
	}
	err := con.visitMaybeNested(lhs, lhsParen)
	con.cast = ""
	if err != nil {
		return err
	}
	con.str.WriteString(" ")
	con.str.WriteString(operator)
	con.str.WriteString(" ")
	if isKeyAccess(rhs) {
		con.cast = castFor(lhsType)
	}
	err = con.visitMaybeNested(rhs, rhsParen)
	con.cast = ""
	return err
}

// callIn renders membership in a list (= ANY) or key presence in a map.
func (con *converter) callIn(lhs, rhs *exprpb.Expr, rhsType *exprpb.Type) error {
	if isMapType(rhsType) {
		fn := "EXIST"
		if isJSONMap(rhsType) {
			fn = "JSONB_EXISTS"
		}
		con.str.WriteString(fn)
		con.str.WriteString("(")
		if err := con.visitJSONValue(rhs); err != nil {
			return err
		}
		con.str.WriteString(", ")
		if err := con.visit(lhs); err != nil {
			return err
		}
		con.str.WriteString(")")
		return nil
	}
	if !isListType(rhsType) {
		return fmt.Errorf("unsupported membership test on %v", rhsType)
	}
	if err := con.visitMaybeNested(lhs, isComplexOperator(lhs)); err != nil {
		return err
	}
	con.str.WriteString(" = ANY(")
	if err := con.visit(rhs); err != nil {
		return err
	}
	con.str.WriteString(")")
	return nil
}

func (con *converter) visitCallConditional(e *exprpb.Expr) error {
	args := e.GetCallExpr().GetArgs()
	con.str.WriteString("CASE WHEN ")
	if err := con.visit(args[0]); err != nil {
		return err
	}
	con.str.WriteString(" THEN ")
	if err := con.visit(args[1]); err != nil {
		return err
	}
	con.str.WriteString(" ELSE ")
	if err := con.visit(args[2]); err != nil {
		return err
	}
	con.str.WriteString(" END")
	return nil
}

func (con *converter) visitCallIndex(e *exprpb.Expr) error {
	args := e.GetCallExpr().GetArgs()
	if isMapType(con.getType(args[0])) || (isKeyed(con.getType(args[0])) && args[1].GetConstExpr().GetStringValue() != "") {
		return con.visitKeyAccess(e)
	}
	l := args[0]
	if err := con.visitMaybeNested(l, isBinaryOrTernaryOperator(l)); err != nil {
		return err
	}
	con.str.WriteString("[")
	index := args[1]
	// SQL arrays are one based.
	if c := index.GetConstExpr(); c != nil {
		con.str.WriteString(strconv.FormatInt(c.GetInt64Value()+1, 10))
	} else {
		if err := con.visit(index); err != nil {
			return err
		}
		con.str.WriteString(" + 1")
	}
	con.str.WriteString("]")
	return nil
}

var sqlUnaryOperators = map[string]string{
	operators.LogicalNot: "NOT ",
	operators.Negate:     "-",
}

func (con *converter) visitCallUnary(e *exprpb.Expr) error {
	c := e.GetCallExpr()
	op, ok := sqlUnaryOperators[c.GetFunction()]
	if !ok {
		return fmt.Errorf("cannot unmangle operator: %s", c.GetFunction())
	}
	con.str.WriteString(op)
	return con.visitMaybeNested(c.GetArgs()[0], isComplexOperator(c.GetArgs()[0]))
}

func (con *converter) visitConst(e *exprpb.Expr) error {
	c := e.GetConstExpr()
	switch c.GetConstantKind().(type) {
	case *exprpb.Constant_BoolValue:
		if c.GetBoolValue() {
			con.str.WriteString("TRUE")
		} else {
			con.str.WriteString("FALSE")
		}
	case *exprpb.Constant_NullValue:
		con.str.WriteString("NULL")
	case *exprpb.Constant_BytesValue:
		con.param(c.GetBytesValue())
	case *exprpb.Constant_DoubleValue:
		con.param(c.GetDoubleValue())
	case *exprpb.Constant_Int64Value:
		con.param(c.GetInt64Value())
	case *exprpb.Constant_Uint64Value:
		con.param(int64(c.GetUint64Value()))
	case *exprpb.Constant_StringValue:
		con.param(c.GetStringValue())
	default:
		return fmt.Errorf("unsupported constant: %v", c)
	}
	return nil
}

func (con *converter) visitIdent(e *exprpb.Expr) error {
	name := e.GetIdentExpr().GetName()
	if con.iterVars[name] > 0 {
		con.str.WriteString(expr.QuoteName(name))
		return nil
	}
	col, ok := con.columns[name]
	if !ok {
		return fmt.Errorf("unknown identifier %q", name)
	}
	if con.alias != "" {
		con.str.WriteString(expr.QuoteName(con.alias))
		con.str.WriteString(".")
	}
	con.str.WriteString(expr.QuoteName(col.Column))
	return nil
}

func (con *converter) visitList(e *exprpb.Expr) error {
	elems := e.GetListExpr().GetElements()
	con.str.WriteString("ARRAY[")
	for i, elem := range elems {
		if i > 0 {
			con.str.WriteString(", ")
		}
		if err := con.visit(elem); err != nil {
			return err
		}
	}
	con.str.WriteString("]")
	return nil
}

func (con *converter) visitSelect(e *exprpb.Expr) error {
	sel := e.GetSelectExpr()
	if sel.GetTestOnly() {
		return con.visitHas(e)
	}
	if !isKeyed(con.getType(sel.GetOperand())) {
		return fmt.Errorf("field selection on %v is not supported", con.getType(sel.GetOperand()))
	}
	return con.visitKeyAccess(e)
}

// visitHas renders has(m.k) as a key presence test.
func (con *converter) visitHas(e *exprpb.Expr) error {
	sel := e.GetSelectExpr()
	operand := sel.GetOperand()
	typ := con.getType(operand)
	if !isMapType(typ) {
		return fmt.Errorf("has() on %v is not supported", typ)
	}
	fn := "EXIST"
	if isJSONMap(typ) {
		fn = "JSONB_EXISTS"
	}
	con.str.WriteString(fn)
	con.str.WriteString("(")
	if err := con.visitJSONValue(operand); err != nil {
		return err
	}
	con.str.WriteString(", ")
	con.param(sel.GetField())
	con.str.WriteString(")")
	return nil
}

// keyPath walks nested key accesses down to the column they start from.
func (con *converter) keyPath(e *exprpb.Expr) (*exprpb.Expr, []string, error) {
	var keys []string
	for {
		switch {
		case e.GetSelectExpr() != nil && !e.GetSelectExpr().GetTestOnly():
			keys = append(keys, e.GetSelectExpr().GetField())
			e = e.GetSelectExpr().GetOperand()
		case e.GetCallExpr().GetFunction() == operators.Index && isKeyed(con.getType(e.GetCallExpr().GetArgs()[0])):
			k := e.GetCallExpr().GetArgs()[1].GetConstExpr()
			if k == nil {
				return nil, nil, errors.New("map keys must be string literals")
			}
			keys = append(keys, k.GetStringValue())
			e = e.GetCallExpr().GetArgs()[0]
		default:
			for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
				keys[i], keys[j] = keys[j], keys[i]
			}
			return e, keys, nil
		}
	}
}

// visitKeyAccess renders a key read as text: "col" -> ? for hstore,
// ->> or #>> for json.
func (con *converter) visitKeyAccess(e *exprpb.Expr) error {
	root, keys, err := con.keyPath(e)
	if err != nil {
		return err
	}
	cast := con.cast
	con.cast = ""
	con.str.WriteString("(")
	if err := con.visit(root); err != nil {
		return err
	}
	rootType := con.getType(root)
	switch {
	case !isJSONMap(rootType):
		if len(keys) != 1 {
			return errors.New("hstore values have no nested keys")
		}
		con.str.WriteString(" -> ")
		con.param(keys[0])
	case len(keys) == 1:
		con.str.WriteString(" ->> ")
		con.param(keys[0])
	default:
		con.str.WriteString(" #>> ")
		con.param(keys)
	}
	con.str.WriteString(")")
	if cast != "" && isJSONMap(rootType) {
		con.str.WriteString("::")
		con.str.WriteString(cast)
	}
	return nil
}

// visitJSONValue renders e keeping json values as jsonb (-> and #>).
func (con *converter) visitJSONValue(e *exprpb.Expr) error {
	root, keys, err := con.keyPath(e)
	if err != nil {
		return err
	}
	if len(keys) == 0 || !isJSONMap(con.getType(root)) {
		return con.visit(e)
	}
	con.str.WriteString("(")
	if err := con.visit(root); err != nil {
		return err
	}
	if len(keys) == 1 {
		con.str.WriteString(" -> ")
		con.param(keys[0])
	} else {
		con.str.WriteString(" #> ")
		con.param(keys)
	}
	con.str.WriteString(")")
	return nil
}

func (con *converter) visitMaybeNested(e *exprpb.Expr, nested bool) error {
	if nested {
		con.str.WriteString("(")
	}
	if err := con.visit(e); err != nil {
		return err
	}
	if nested {
		con.str.WriteString(")")
	}
	return nil
}

func (con *converter) getType(node *exprpb.Expr) *exprpb.Type {
	return con.typeMap[node.GetId()]
}

// castFor names the SQL type json text is cast to when compared with a
// value of typ.
func castFor(typ *exprpb.Type) string {
	switch typ.GetPrimitive() {
	case exprpb.Type_INT64, exprpb.Type_UINT64, exprpb.Type_DOUBLE:
		return "numeric"
	case exprpb.Type_BOOL:
		return "boolean"
	}
	return ""
}

func isKeyAccess(e *exprpb.Expr) bool {
	if sel := e.GetSelectExpr(); sel != nil {
		return !sel.GetTestOnly()
	}
	return e.GetCallExpr().GetFunction() == operators.Index
}

// isLiteral reports null and bool constants, which compare with IS.
func isLiteral(node *exprpb.Expr) (string, bool) {
	c := node.GetConstExpr()
	if c == nil {
		return "", false
	}
	switch c.GetConstantKind().(type) {
	case *exprpb.Constant_NullValue:
		return "NULL", true
	case *exprpb.Constant_BoolValue:
		if c.GetBoolValue() {
			return "TRUE", true
		}
		return "FALSE", true
	}
	return "", false
}

func isStringLiteral(node *exprpb.Expr) (string, bool) {
	c := node.GetConstExpr()
	if c == nil {
		return "", false
	}
	if _, ok := c.GetConstantKind().(*exprpb.Constant_StringValue); !ok {
		return "", false
	}
	return c.GetStringValue(), true
}

// isLeftRecursive reports whether the parser nests the operator to the left,
// in which case a right operand of equal precedence needs parentheses.
func isLeftRecursive(op string) bool {
	return op != operators.LogicalAnd && op != operators.LogicalOr
}

func isSamePrecedence(op string, e *exprpb.Expr) bool {
	c := e.GetCallExpr()
	if c == nil {
		return false
	}
	return operators.Precedence(op) == operators.Precedence(c.GetFunction())
}

func isLowerPrecedence(op string, e *exprpb.Expr) bool {
	c := e.GetCallExpr()
	if c == nil {
		return false
	}
	return operators.Precedence(op) < operators.Precedence(c.GetFunction())
}

// isComplexOperator is a call with two or more arguments.
func isComplexOperator(e *exprpb.Expr) bool {
	return e.GetCallExpr() != nil && len(e.GetCallExpr().GetArgs()) >= 2
}

func isComplexOperatorWithRespectTo(op string, e *exprpb.Expr) bool {
	if !isComplexOperator(e) {
		return false
	}
	return isLowerPrecedence(op, e)
}

func isBinaryOrTernaryOperator(e *exprpb.Expr) bool {
	if !isComplexOperator(e) {
		return false
	}
	_, isBinary := operators.FindReverseBinaryOperator(e.GetCallExpr().GetFunction())
	return isBinary || isSamePrecedence(operators.Conditional, e)
}
