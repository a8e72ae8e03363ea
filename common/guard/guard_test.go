package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/resolver"
)

func testScope() resolver.Scope {
	return resolver.Scope{
		Vars: map[string]any{"threshold": 10, "enabled": true},
		Outputs: func(nodeID string) (map[string]any, bool) {
			if nodeID == "a" {
				return map[string]any{"count": 7, "items": []any{1, 2, 3}}, true
			}
			return nil, false
		},
	}
}

func TestEvaluateComparison(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate(&planmodel.Guard{Expr: "a.count > 5"}, testScope())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateBooleanConnectives(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate(&planmodel.Guard{Expr: "vars.enabled and a.count == 7"}, testScope())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(&planmodel.Guard{Expr: "not vars.enabled or a.count < 0"}, testScope())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateIndexAccess(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate(&planmodel.Guard{Expr: "a.items[1] == 2"}, testScope())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateUnaryMinus(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate(&planmodel.Guard{Expr: "-a.count < 0"}, testScope())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateNilGuardIsTruthy(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate(nil, testScope())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateStructuredGuard(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate(&planmodel.Guard{Left: "${a.count}", Op: "gte", Right: 7}, testScope())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnsafeExpressionRejected(t *testing.T) {
	cases := []string{
		`a.count.toString()`,
		`size(a.items)`,
		`a.count + 1`,
		`a in a.items`,
	}
	e := NewEvaluator()
	for _, expr := range cases {
		_, err := e.Evaluate(&planmodel.Guard{Expr: expr}, testScope())
		assert.Error(t, err, expr)
	}
}

func TestCompileCacheReused(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate(&planmodel.Guard{Expr: "vars.enabled"}, testScope())
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	_, err = e.Evaluate(&planmodel.Guard{Expr: "vars.enabled"}, testScope())
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	e.ClearCache()
	assert.Equal(t, 0, e.CacheSize())
}
