package expr

// PostgreSQL operators for arrays, hstore and jsonb.
const (
	OpCat      = "||"
	OpReplace  = "#="
	OpDelete   = "#-"
	OpKey      = "->"
	OpKeyText  = "->>"
	OpPath     = "#>"
	OpPathText = "#>>"
	OpMinus    = "-"
	OpPlus     = "+"
)

// Combined is "lhs op rhs".
type Combined struct {
	LHS Expression
	Op  string
	RHS Expression
}

func (c Combined) ToSql() (string, []any, error) {
	lhs, largs, err := render(c.LHS, true)
	if err != nil {
		return "", nil, err
	}
	rhs, rargs, err := render(c.RHS, true)
	if err != nil {
		return "", nil, err
	}
	return lhs + " " + c.Op + " " + rhs, append(largs, rargs...), nil
}

// Operand adds operator methods to an expression.
type Operand struct {
	Expression
}

// F references a column.
func F(name string) Operand { return Operand{Col{Name: name}} }

// V binds a parameter.
func V(v any) Operand { return Operand{Value{V: v}} }

// TypedV binds a parameter with an explicit cast.
func TypedV(v any, cast string) Operand { return Operand{Value{V: v, Cast: cast}} }

// ArrayV binds an array parameter cast to base[].
func ArrayV(v any, base string) Operand { return Operand{Value{V: v, Cast: base + "[]"}} }

// Wrap gives any expression the operator methods.
func Wrap(e Expression) Operand { return Operand{unwrap(e)} }

func (o Operand) combine(op string, other any) Operand {
	return Operand{Combined{LHS: o.Expression, Op: op, RHS: asValue(other)}}
}

func (o Operand) Cat(other any) Operand        { return o.combine(OpCat, other) }
func (o Operand) Replace(other any) Operand    { return o.combine(OpReplace, other) }
func (o Operand) DeletePath(other any) Operand { return o.combine(OpDelete, other) }
func (o Operand) Key(other any) Operand        { return o.combine(OpKey, other) }
func (o Operand) KeyText(other any) Operand    { return o.combine(OpKeyText, other) }
func (o Operand) Path(other any) Operand       { return o.combine(OpPath, other) }
func (o Operand) PathText(other any) Operand   { return o.combine(OpPathText, other) }
func (o Operand) Minus(other any) Operand      { return o.combine(OpMinus, other) }
func (o Operand) Plus(other any) Operand       { return o.combine(OpPlus, other) }
