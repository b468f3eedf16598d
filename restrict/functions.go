package restrict

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/common/overloads"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

func (con *converter) visitCallFunc(e *exprpb.Expr) error {
	c := e.GetCallExpr()
	fun := c.GetFunction()
	target := c.GetTarget()
	args := c.GetArgs()
	switch fun {
	case overloads.Contains:
		return con.callContains(target, args)
	case overloads.StartsWith:
		return con.callLike(target, args, "", "%")
	case overloads.EndsWith:
		return con.callLike(target, args, "%", "")
	case overloads.Matches:
		return con.callMatches(target, args)
	case overloads.Size:
		return con.callSize(target, args)
	case overloads.TypeConvertDuration:
		return con.callDuration(args)
	case overloads.TypeConvertTimestamp:
		return con.callTimestamp(args)
	case overloads.TimeGetFullYear,
		overloads.TimeGetMonth,
		overloads.TimeGetDate,
		overloads.TimeGetHours,
		overloads.TimeGetMinutes,
		overloads.TimeGetSeconds,
		overloads.TimeGetMilliseconds,
		overloads.TimeGetDayOfYear,
		overloads.TimeGetDayOfMonth,
		overloads.TimeGetDayOfWeek:
		return con.callExtract(fun, target, args)
	case overloads.TypeConvertBool,
		overloads.TypeConvertBytes,
		overloads.TypeConvertDouble,
		overloads.TypeConvertInt,
		overloads.TypeConvertString,
		overloads.TypeConvertUint:
		return con.callCasting(fun, args)
	}
	return fmt.Errorf("unsupported function: %s", fun)
}

// subject is the receiver of a member call or the first argument of a
// global one.
func subject(target *exprpb.Expr, args []*exprpb.Expr) (*exprpb.Expr, []*exprpb.Expr, error) {
	if target != nil {
		return target, args, nil
	}
	if len(args) == 0 {
		return nil, nil, errors.New("missing argument")
	}
	return args[0], args[1:], nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// callLike renders startsWith and endsWith. Literal arguments become LIKE
// patterns; other arguments are compared with STARTS_WITH or RIGHT.
func (con *converter) callLike(target *exprpb.Expr, args []*exprpb.Expr, prefix, suffix string) error {
	s, rest, err := subject(target, args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("expected one argument")
	}
	if lit, ok := isStringLiteral(rest[0]); ok {
		if err := con.visitMaybeNested(s, isBinaryOrTernaryOperator(s)); err != nil {
			return err
		}
		con.str.WriteString(" LIKE ")
		con.param(prefix + likeEscaper.Replace(lit) + suffix)
		return nil
	}
	if suffix != "" {
		con.str.WriteString("STARTS_WITH(")
		if err := con.visit(s); err != nil {
			return err
		}
		con.str.WriteString(", ")
		if err := con.visit(rest[0]); err != nil {
			return err
		}
		con.str.WriteString(")")
		return nil
	}
	con.str.WriteString("RIGHT(")
	if err := con.visit(s); err != nil {
		return err
	}
	con.str.WriteString(", LENGTH(")
	if err := con.visit(rest[0]); err != nil {
		return err
	}
	con.str.WriteString(")) = ")
	return con.visit(rest[0])
}

func (con *converter) callContains(target *exprpb.Expr, args []*exprpb.Expr) error {
	s, rest, err := subject(target, args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("expected one argument")
	}
	if lit, ok := isStringLiteral(rest[0]); ok {
		if err := con.visitMaybeNested(s, isBinaryOrTernaryOperator(s)); err != nil {
			return err
		}
		con.str.WriteString(" LIKE ")
		con.param("%" + likeEscaper.Replace(lit) + "%")
		return nil
	}
	con.str.WriteString("POSITION(")
	if err := con.visit(rest[0]); err != nil {
		return err
	}
	con.str.WriteString(" IN ")
	if err := con.visitMaybeNested(s, isBinaryOrTernaryOperator(s)); err != nil {
		return err
	}
	con.str.WriteString(") > 0")
	return nil
}

var re2ToPOSIX = strings.NewReplacer(
	`\d`, `[[:digit:]]`,
	`\D`, `[^[:digit:]]`,
	`\w`, `[[:alnum:]_]`,
	`\W`, `[^[:alnum:]_]`,
	`\s`, `[[:space:]]`,
	`\S`, `[^[:space:]]`,
	`\b`, `\y`,
)

func (con *converter) callMatches(target *exprpb.Expr, args []*exprpb.Expr) error {
	s, rest, err := subject(target, args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("expected one argument")
	}
	if err := con.visitMaybeNested(s, isBinaryOrTernaryOperator(s)); err != nil {
		return err
	}
	con.str.WriteString(" ~ ")
	if lit, ok := isStringLiteral(rest[0]); ok {
		con.param(re2ToPOSIX.Replace(lit))
		return nil
	}
	return con.visit(rest[0])
}

func (con *converter) callSize(target *exprpb.Expr, args []*exprpb.Expr) error {
	s, _, err := subject(target, args)
	if err != nil {
		return err
	}
	typ := con.getType(s)
	var head, tail string
	switch {
	case isPrimitive(typ, exprpb.Type_STRING):
		head, tail = "LENGTH(", ")"
	case isPrimitive(typ, exprpb.Type_BYTES):
		head, tail = "OCTET_LENGTH(", ")"
	case isListType(typ):
		head, tail = "COALESCE(CARDINALITY(", "), 0)"
	case isJSONMap(typ):
		head, tail = "(SELECT COUNT(*) FROM JSONB_OBJECT_KEYS(", "))"
	case isMapType(typ):
		head, tail = "COALESCE(CARDINALITY(AKEYS(", ")), 0)"
	default:
		return fmt.Errorf("size() of %v is not supported", typ)
	}
	con.str.WriteString(head)
	if isJSONMap(typ) {
		err = con.visitJSONValue(s)
	} else {
		err = con.visit(s)
	}
	if err != nil {
		return err
	}
	con.str.WriteString(tail)
	return nil
}

// callDuration binds a literal duration as an interval.
func (con *converter) callDuration(args []*exprpb.Expr) error {
	if len(args) != 1 {
		return errors.New("duration() takes one argument")
	}
	lit, ok := isStringLiteral(args[0])
	if !ok {
		return errors.New("duration() requires a string literal")
	}
	d, err := time.ParseDuration(lit)
	if err != nil {
		return err
	}
	con.param(intervalText(d))
	con.str.WriteString("::interval")
	return nil
}

func intervalText(d time.Duration) string {
	switch d {
	case d.Round(time.Hour):
		return fmt.Sprintf("%d hours", int64(d.Hours()))
	case d.Round(time.Minute):
		return fmt.Sprintf("%d minutes", int64(d.Minutes()))
	case d.Round(time.Second):
		return fmt.Sprintf("%d seconds", int64(d.Seconds()))
	case d.Round(time.Millisecond):
		return fmt.Sprintf("%d milliseconds", d.Milliseconds())
	}
	return fmt.Sprintf("%d microseconds", d.Microseconds())
}

func (con *converter) callTimestamp(args []*exprpb.Expr) error {
	if len(args) != 1 {
		return errors.New("timestamp() takes one argument")
	}
	con.str.WriteString("CAST(")
	if err := con.visit(args[0]); err != nil {
		return err
	}
	con.str.WriteString(" AS TIMESTAMP WITH TIME ZONE)")
	return nil
}

var extractFields = map[string]string{
	overloads.TimeGetFullYear:     "YEAR",
	overloads.TimeGetMonth:        "MONTH",
	overloads.TimeGetDate:         "DAY",
	overloads.TimeGetHours:        "HOUR",
	overloads.TimeGetMinutes:      "MINUTE",
	overloads.TimeGetSeconds:      "SECOND",
	overloads.TimeGetMilliseconds: "MILLISECONDS",
	overloads.TimeGetDayOfYear:    "DOY",
	overloads.TimeGetDayOfMonth:   "DAY",
	overloads.TimeGetDayOfWeek:    "DOW",
}

// callExtract maps the timestamp getters onto EXTRACT. CEL counts months,
// days of the month and days of the year from zero.
func (con *converter) callExtract(fun string, target *exprpb.Expr, args []*exprpb.Expr) error {
	if target == nil {
		return fmt.Errorf("%s must be called on a timestamp", fun)
	}
	con.str.WriteString("EXTRACT(")
	con.str.WriteString(extractFields[fun])
	con.str.WriteString(" FROM ")
	if err := con.visit(target); err != nil {
		return err
	}
	if len(args) == 1 && isTimestampType(con.getType(target)) {
		con.str.WriteString(" AT TIME ZONE ")
		if err := con.visit(args[0]); err != nil {
			return err
		}
	}
	con.str.WriteString(")")
	switch fun {
	case overloads.TimeGetMonth, overloads.TimeGetDayOfYear, overloads.TimeGetDayOfMonth:
		con.str.WriteString(" - 1")
	}
	return nil
}

var castTypes = map[string]string{
	overloads.TypeConvertBool:   "BOOLEAN",
	overloads.TypeConvertBytes:  "BYTEA",
	overloads.TypeConvertDouble: "DOUBLE PRECISION",
	overloads.TypeConvertInt:    "BIGINT",
	overloads.TypeConvertString: "TEXT",
	overloads.TypeConvertUint:   "BIGINT",
}

func (con *converter) callCasting(fun string, args []*exprpb.Expr) error {
	if len(args) != 1 {
		return fmt.Errorf("%s() takes one argument", fun)
	}
	arg := args[0]
	if fun == overloads.TypeConvertInt && isTimestampType(con.getType(arg)) {
		con.str.WriteString("EXTRACT(EPOCH FROM ")
		if err := con.visit(arg); err != nil {
			return err
		}
		con.str.WriteString(")::bigint")
		return nil
	}
	con.str.WriteString("CAST(")
	if err := con.visit(arg); err != nil {
		return err
	}
	con.str.WriteString(" AS ")
	con.str.WriteString(castTypes[fun])
	con.str.WriteString(")")
	return nil
}
