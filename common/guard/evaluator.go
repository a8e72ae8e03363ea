// Package guard implements the Expression Evaluator used by `when.expr` and
// `while.condition.expr` (spec.md §4.3): a hand-rolled recursive-descent
// parser over a closed grammar, shaped after the teacher's
// condition.Evaluator (a struct holding a compiled-program cache behind a
// sync.RWMutex, with NewEvaluator/Evaluate/ClearCache/CacheSize) but
// compiling to our own AST rather than a cel.Program. See DESIGN.md for why
// google/cel-go — the teacher's actual library for this concern — cannot be
// configured to reject what spec.md requires rejecting.
package guard

import (
	"fmt"
	"sync"

	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/resolver"
)

// Evaluator compiles and caches guard expressions by source text.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]Expr
}

// NewEvaluator creates an empty Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]Expr)}
}

// Evaluate resolves and evaluates g against scope, returning the guard's
// truthiness (spec.md §4.3: "A falsy guard causes node_skip... null on a
// guard is falsy"). A nil Guard is always truthy (no guard means run).
func (e *Evaluator) Evaluate(g *planmodel.Guard, scope resolver.Scope) (bool, error) {
	if g == nil {
		return true, nil
	}
	if g.Structured() {
		return e.evaluateStructured(g, scope)
	}
	return e.evaluateExpr(g.Expr, scope)
}

func (e *Evaluator) evaluateExpr(raw string, scope resolver.Scope) (bool, error) {
	resolved, err := e.resolveEmbedded(raw, scope)
	if err != nil {
		return false, err
	}

	ast, err := e.compile(resolved)
	if err != nil {
		return false, err
	}

	v, err := ast.Eval(scope)
	if err != nil {
		return false, planerr.Wrap(planerr.CodeUnsafeExpression, err, fmt.Sprintf("evaluating guard expression %q", raw))
	}
	return Truthy(v), nil
}

// resolveEmbedded substitutes `${...}` placeholders textually before the
// grammar parser ever sees the expression (spec.md §4.3: "The evaluator
// first resolves embedded ${...} placeholders against the current scope").
func (e *Evaluator) resolveEmbedded(raw string, scope resolver.Scope) (string, error) {
	v, err := resolver.New().Resolve(scope, raw, false)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	if v == nil {
		return "null", nil
	}
	// A sole placeholder resolving to a non-string native value (bool,
	// number) is stringified back into grammar-parseable literal text.
	return fmt.Sprintf("%v", v), nil
}

func (e *Evaluator) compile(expr string) (Expr, error) {
	e.mu.RLock()
	ast, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return ast, nil
	}

	ast, err := Parse(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expr] = ast
	e.mu.Unlock()
	return ast, nil
}

var structuredOps = map[string]string{
	"eq":  "==",
	"ne":  "!=",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

func (e *Evaluator) evaluateStructured(g *planmodel.Guard, scope resolver.Scope) (bool, error) {
	op, ok := structuredOps[g.Op]
	if !ok {
		return false, planerr.New(planerr.CodeUnsafeExpression, fmt.Sprintf("unknown structured guard operator %q", g.Op))
	}

	r := resolver.New()
	left, err := r.Resolve(scope, g.Left, false)
	if err != nil {
		return false, err
	}
	right, err := r.Resolve(scope, g.Right, false)
	if err != nil {
		return false, err
	}

	v, err := compare(op, left, right)
	if err != nil {
		return false, planerr.Wrap(planerr.CodeUnsafeExpression, err, "evaluating structured guard")
	}
	return v, nil
}

// ClearCache discards all compiled expressions.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]Expr)
}

// CacheSize reports how many distinct expressions are currently compiled.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
