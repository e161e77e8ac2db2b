// Package filter parses AIP-160 filter expressions over task fields and
// turns them into a SQL condition and an equivalent in-memory predicate.
package filter

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Fields maps a filterable field name to its value: a string, or an int64
// of unix nanoseconds for timestamp fields. Absent keys behave like SQL NULL.
type Fields map[string]any

// Condition is a compiled filter.
type Condition struct {
	// Clause is a SQL WHERE fragment, e.g. "(status = ? AND priority = ?)".
	Clause string
	// Params are the positional parameters for Clause.
	Params []any

	match func(Fields) bool
}

// Empty reports whether the condition filters nothing.
func (c Condition) Empty() bool { return c.Clause == "" }

// Match evaluates the condition against fields. An empty condition matches
// everything.
func (c Condition) Match(f Fields) bool {
	if c.match == nil {
		return true
	}
	return c.match(f)
}

var timestampFields = map[string]bool{
	"created_at": true,
	"due_date":   true,
}

// columns maps filter identifiers to SQL columns.
var columns = map[string]string{
	"status":      "status",
	"priority":    "priority",
	"category":    "category",
	"location_id": "location_id",
	"created_by":  "created_by",
	"assigned_to": "assigned_to",
	"created_at":  "created_at",
	"due_date":    "due_date",
}

// Declarations returns the identifiers a task filter may reference.
func Declarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("status", filtering.TypeString),
		filtering.DeclareIdent("priority", filtering.TypeString),
		filtering.DeclareIdent("category", filtering.TypeString),
		filtering.DeclareIdent("location_id", filtering.TypeString),
		filtering.DeclareIdent("created_by", filtering.TypeString),
		filtering.DeclareIdent("assigned_to", filtering.TypeString),
		filtering.DeclareIdent("created_at", filtering.TypeTimestamp),
		filtering.DeclareIdent("due_date", filtering.TypeTimestamp),
	)
}

// Parse compiles an AIP-160 expression. An empty string yields an empty
// condition.
func Parse(s string) (Condition, error) {
	if strings.TrimSpace(s) == "" {
		return Condition{}, nil
	}
	decls, err := Declarations()
	if err != nil {
		return Condition{}, fmt.Errorf("create declarations: %w", err)
	}
	f, err := filtering.ParseFilterString(s, decls)
	if err != nil {
		return Condition{}, fmt.Errorf("parse filter: %w", err)
	}
	return translateExpr(f.CheckedExpr.GetExpr())
}

func translateExpr(e *expr.Expr) (Condition, error) {
	if e == nil {
		return Condition{}, nil
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr)
	default:
		return Condition{}, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

func translateCall(call *expr.Expr_Call) (Condition, error) {
	switch call.Function {
	case "_&&_", "AND":
		return translateJunction(call.Args, "AND")
	case "_||_", "OR":
		return translateJunction(call.Args, "OR")
	case "_==_", "=":
		return translateComparison(call.Args, "=")
	case "_!=_", "!=":
		return translateComparison(call.Args, "!=")
	case "_<_", "<":
		return translateComparison(call.Args, "<")
	case "_<=_", "<=":
		return translateComparison(call.Args, "<=")
	case "_>_", ">":
		return translateComparison(call.Args, ">")
	case "_>=_", ">=":
		return translateComparison(call.Args, ">=")
	default:
		return Condition{}, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func translateJunction(args []*expr.Expr, op string) (Condition, error) {
	if len(args) != 2 {
		return Condition{}, fmt.Errorf("%s requires 2 arguments", op)
	}
	left, err := translateExpr(args[0])
	if err != nil {
		return Condition{}, err
	}
	right, err := translateExpr(args[1])
	if err != nil {
		return Condition{}, err
	}

	match := func(f Fields) bool { return left.Match(f) && right.Match(f) }
	if op == "OR" {
		match = func(f Fields) bool { return left.Match(f) || right.Match(f) }
	}
	return Condition{
		Clause: fmt.Sprintf("(%s %s %s)", left.Clause, op, right.Clause),
		Params: append(append([]any{}, left.Params...), right.Params...),
		match:  match,
	}, nil
}

func translateComparison(args []*expr.Expr, op string) (Condition, error) {
	if len(args) != 2 {
		return Condition{}, fmt.Errorf("comparison requires 2 arguments")
	}
	field, err := extractFieldName(args[0])
	if err != nil {
		return Condition{}, err
	}
	column, ok := columns[field]
	if !ok {
		return Condition{}, fmt.Errorf("unknown field: %s", field)
	}
	value, err := extractValue(args[1], timestampFields[field])
	if err != nil {
		return Condition{}, err
	}

	return Condition{
		Clause: fmt.Sprintf("%s %s ?", column, op),
		Params: []any{value},
		match: func(f Fields) bool {
			got, ok := f[field]
			if !ok {
				return false
			}
			c, ok := compare(got, value)
			if !ok {
				return false
			}
			return holds(c, op)
		},
	}, nil
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.Name, nil
	default:
		return "", fmt.Errorf("expected identifier, got %T", kind)
	}
}

func extractValue(e *expr.Expr, timestamp bool) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		if s, ok := kind.ConstExpr.ConstantKind.(*expr.Constant_StringValue); ok && timestamp {
			return parseTimestamp(s.StringValue)
		}
		return extractConstValue(kind.ConstExpr)
	case *expr.Expr_CallExpr:
		if kind.CallExpr.Function == "timestamp" && len(kind.CallExpr.Args) == 1 {
			arg, ok := kind.CallExpr.Args[0].ExprKind.(*expr.Expr_ConstExpr)
			if !ok {
				return nil, fmt.Errorf("timestamp argument must be a constant string")
			}
			s, ok := arg.ConstExpr.ConstantKind.(*expr.Constant_StringValue)
			if !ok {
				return nil, fmt.Errorf("timestamp argument must be a string")
			}
			return parseTimestamp(s.StringValue)
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.Function)
	default:
		return nil, fmt.Errorf("expected constant or timestamp, got %T", kind)
	}
}

func extractConstValue(c *expr.Constant) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("nil constant")
	}
	switch kind := c.ConstantKind.(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}

func parseTimestamp(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp format: %s", s)
	}
	return t.UTC().UnixNano(), nil
}

// compare orders a against b; ok is false when the types differ.
func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case int64:
		bv, ok := b.(int64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func holds(c int, op string) bool {
	switch op {
	case "=":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}
