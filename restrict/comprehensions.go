package restrict

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/common/operators"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/spandigital/pgext/expr"
)

// ComprehensionKind is the macro a comprehension was expanded from.
type ComprehensionKind int

const (
	ComprehensionUnknown ComprehensionKind = iota
	ComprehensionAll
	ComprehensionExists
	ComprehensionExistsOne
	ComprehensionMap
	ComprehensionFilter
)

func (k ComprehensionKind) String() string {
	switch k {
	case ComprehensionAll:
		return "all"
	case ComprehensionExists:
		return "exists"
	case ComprehensionExistsOne:
		return "exists_one"
	case ComprehensionMap:
		return "map"
	case ComprehensionFilter:
		return "filter"
	}
	return "unknown"
}

type comprehensionInfo struct {
	Kind      ComprehensionKind
	IterVar   string
	Predicate *exprpb.Expr
	Transform *exprpb.Expr
	Filter    *exprpb.Expr
}

// identifyComprehension recognizes the loop shapes the CEL macros expand to.
func identifyComprehension(e *exprpb.Expr) (*comprehensionInfo, error) {
	comp := e.GetComprehensionExpr()
	if comp == nil {
		return nil, errors.New("expression is not a comprehension")
	}
	if comp.GetIterVar2() != "" {
		return nil, errors.New("two-variable comprehensions are not supported")
	}
	info := &comprehensionInfo{IterVar: comp.GetIterVar()}
	accu := comp.GetAccuVar()
	init := comp.GetAccuInit().GetConstExpr()
	step := comp.GetLoopStep().GetCallExpr()

	switch {
	case init != nil && isBoolConst(init, true) && step.GetFunction() == operators.LogicalAnd:
		info.Kind = ComprehensionAll
		info.Predicate = otherThan(step.GetArgs(), accu)
	case init != nil && isBoolConst(init, false) && step.GetFunction() == operators.LogicalOr:
		info.Kind = ComprehensionExists
		info.Predicate = otherThan(step.GetArgs(), accu)
	case init != nil && isIntZero(init) && step.GetFunction() == operators.Conditional &&
		comp.GetResult().GetCallExpr().GetFunction() == operators.Equals:
		info.Kind = ComprehensionExistsOne
		info.Predicate = step.GetArgs()[0]
	case comp.GetAccuInit().GetListExpr() != nil && step.GetFunction() == operators.Add:
		info.Kind = ComprehensionMap
		info.Transform = appended(step)
	case comp.GetAccuInit().GetListExpr() != nil && step.GetFunction() == operators.Conditional && len(step.GetArgs()) == 3:
		then := step.GetArgs()[1].GetCallExpr()
		if then.GetFunction() != operators.Add {
			break
		}
		t := appended(then)
		if id := t.GetIdentExpr(); id != nil && id.GetName() == info.IterVar {
			info.Kind = ComprehensionFilter
			info.Predicate = step.GetArgs()[0]
		} else {
			info.Kind = ComprehensionMap
			info.Filter = step.GetArgs()[0]
			info.Transform = t
		}
	}
	if info.Kind == ComprehensionUnknown || (info.Predicate == nil && info.Transform == nil) {
		return nil, fmt.Errorf("unrecognized comprehension over %q", info.IterVar)
	}
	return info, nil
}

func isBoolConst(c *exprpb.Constant, want bool) bool {
	_, ok := c.GetConstantKind().(*exprpb.Constant_BoolValue)
	return ok && c.GetBoolValue() == want
}

func isIntZero(c *exprpb.Constant) bool {
	_, ok := c.GetConstantKind().(*exprpb.Constant_Int64Value)
	return ok && c.GetInt64Value() == 0
}

// otherThan returns the step argument that is not the accumulator.
func otherThan(args []*exprpb.Expr, accu string) *exprpb.Expr {
	for _, a := range args {
		if id := a.GetIdentExpr(); id == nil || id.GetName() != accu {
			return a
		}
	}
	return nil
}

// appended returns x from "accu + [x]".
func appended(step *exprpb.Expr_Call) *exprpb.Expr {
	for _, a := range step.GetArgs() {
		if l := a.GetListExpr(); l != nil && len(l.GetElements()) == 1 {
			return l.GetElements()[0]
		}
	}
	return nil
}

func (con *converter) visitComprehension(e *exprpb.Expr) error {
	info, err := identifyComprehension(e)
	if err != nil {
		return err
	}
	iterRange := e.GetComprehensionExpr().GetIterRange()

	con.iterVars[info.IterVar]++
	defer func() { con.iterVars[info.IterVar]-- }()

	switch info.Kind {
	case ComprehensionAll:
		con.str.WriteString("NOT EXISTS (SELECT 1 FROM ")
		if err := con.unnest(iterRange, info.IterVar); err != nil {
			return err
		}
		con.str.WriteString(" WHERE NOT (")
		if err := con.visit(info.Predicate); err != nil {
			return err
		}
		con.str.WriteString("))")
	case ComprehensionExists:
		con.str.WriteString("EXISTS (SELECT 1 FROM ")
		if err := con.unnest(iterRange, info.IterVar); err != nil {
			return err
		}
		con.str.WriteString(" WHERE ")
		if err := con.visit(info.Predicate); err != nil {
			return err
		}
		con.str.WriteString(")")
	case ComprehensionExistsOne:
		con.str.WriteString("(SELECT COUNT(*) FROM ")
		if err := con.unnest(iterRange, info.IterVar); err != nil {
			return err
		}
		con.str.WriteString(" WHERE ")
		if err := con.visit(info.Predicate); err != nil {
			return err
		}
		con.str.WriteString(") = 1")
	case ComprehensionMap:
		con.str.WriteString("ARRAY(SELECT ")
		if err := con.visit(info.Transform); err != nil {
			return err
		}
		con.str.WriteString(" FROM ")
		if err := con.unnest(iterRange, info.IterVar); err != nil {
			return err
		}
		if info.Filter != nil {
			con.str.WriteString(" WHERE ")
			if err := con.visit(info.Filter); err != nil {
				return err
			}
		}
		con.str.WriteString(")")
	case ComprehensionFilter:
		con.str.WriteString("ARRAY(SELECT ")
		con.str.WriteString(expr.QuoteName(info.IterVar))
		con.str.WriteString(" FROM ")
		if err := con.unnest(iterRange, info.IterVar); err != nil {
			return err
		}
		con.str.WriteString(" WHERE ")
		if err := con.visit(info.Predicate); err != nil {
			return err
		}
		con.str.WriteString(")")
	}
	return nil
}

// unnest renders the row source of a comprehension. The range is rendered
// before the iteration variable is bound, so a shadowing name still reads
// the outer column.
func (con *converter) unnest(iterRange *exprpb.Expr, iterVar string) error {
	con.iterVars[iterVar]--
	defer func() { con.iterVars[iterVar]++ }()

	root, keys, err := con.keyPath(iterRange)
	if err != nil {
		return err
	}
	if len(keys) > 0 && isJSONMap(con.getType(root)) {
		con.str.WriteString("JSONB_ARRAY_ELEMENTS_TEXT(")
		if err := con.visitJSONValue(iterRange); err != nil {
			return err
		}
	} else {
		con.str.WriteString("UNNEST(")
		if err := con.visit(iterRange); err != nil {
			return err
		}
	}
	con.str.WriteString(") AS ")
	con.str.WriteString(expr.QuoteName(iterVar))
	return nil
}
