package guard

import (
	"fmt"

	"github.com/lyzr/planrunner/common/resolver"
)

// Expr is a node of the compiled guard AST (spec.md §4.3's closed grammar):
// Literal, PathExpr, UnaryExpr, BinaryExpr. There is deliberately no call
// expression and no arbitrary attribute accessor — the grammar is closed by
// construction, not by a runtime blocklist.
type Expr interface {
	Eval(scope resolver.Scope) (any, error)
}

// Literal is an integer, float, string, boolean, or null constant.
type Literal struct{ Value any }

func (l Literal) Eval(resolver.Scope) (any, error) { return l.Value, nil }

// PathExpr is an identifier optionally followed by member (`.b`) or index
// (`[0]`) accessors, flattened to a dotted path and resolved through the
// same vars/env/config/node-id namespaces as the Resolver (spec.md §4.3:
// "Identifiers: resolved via the same scope rules").
type PathExpr struct{ Path string }

func (p PathExpr) Eval(scope resolver.Scope) (any, error) {
	return resolver.New().Lookup(scope, p.Path, false)
}

// UnaryExpr is either numeric negation ("-") or boolean negation ("not").
type UnaryExpr struct {
	Op string
	X  Expr
}

func (u UnaryExpr) Eval(scope resolver.Scope) (any, error) {
	v, err := u.X.Eval(scope)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case "-":
		n, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("guard: unary - requires a number, got %T", v)
		}
		return -n, nil
	case "not":
		return !Truthy(v), nil
	default:
		return nil, fmt.Errorf("guard: unknown unary operator %q", u.Op)
	}
}

// BinaryExpr covers both the boolean connectives ("and", "or") and the
// comparison operators ("==", "!=", "<", "<=", ">", ">=").
type BinaryExpr struct {
	Op   string
	L, R Expr
}

func (b BinaryExpr) Eval(scope resolver.Scope) (any, error) {
	switch b.Op {
	case "and":
		l, err := b.L.Eval(scope)
		if err != nil {
			return nil, err
		}
		if !Truthy(l) {
			return false, nil
		}
		r, err := b.R.Eval(scope)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	case "or":
		l, err := b.L.Eval(scope)
		if err != nil {
			return nil, err
		}
		if Truthy(l) {
			return true, nil
		}
		r, err := b.R.Eval(scope)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	default:
		l, err := b.L.Eval(scope)
		if err != nil {
			return nil, err
		}
		r, err := b.R.Eval(scope)
		if err != nil {
			return nil, err
		}
		return compare(b.Op, l, r)
	}
}

// Truthy implements "null on a guard is falsy" (spec.md §4.3) plus the
// usual zero-value falsiness for the other literal types.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func compare(op string, l, r any) (bool, error) {
	if lf, lok := asFloat(l); lok {
		if rf, rok := asFloat(r); rok {
			return compareOrdered(op, lf, rf)
		}
	}
	if ls, lok := l.(string); lok {
		if rs, rok := r.(string); rok {
			return compareOrdered(op, ls, rs)
		}
	}
	switch op {
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	default:
		return false, fmt.Errorf("guard: operator %q requires comparable operands, got %T and %T", op, l, r)
	}
}

type ordered interface{ ~float64 | ~string }

func compareOrdered[T ordered](op string, l, r T) (bool, error) {
	switch op {
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	default:
		return false, fmt.Errorf("guard: unknown comparison operator %q", op)
	}
}
