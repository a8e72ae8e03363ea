package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/planrunner/common/blockspec"
	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	r.RegisterFactory("builtin", func(spec *blockspec.Spec) (registry.Block, error) {
		return nil, nil
	})
	require.NoError(t, r.AddSpec(&blockspec.Spec{
		ID: "double", Version: "1.0.0", Entrypoint: "builtin://double",
		Inputs:  map[string]blockspec.Field{"x": {Type: blockspec.TypeNumber, Required: true}},
		Outputs: map[string]blockspec.Field{"y": {Type: blockspec.TypeNumber}},
	}))
	return r
}

func validPlan() *planmodel.Plan {
	return &planmodel.Plan{
		APIVersion: "v1",
		ID:         "p1",
		Vars:       map[string]any{"x": 1},
		Policy:     planmodel.DefaultPolicy(),
		Graph: []planmodel.Node{
			{ID: "a", Block: "double", In: map[string]any{"x": "${vars.x}"}, Out: map[string]string{"y": "y"}},
		},
	}
}

func TestValidatePlanPasses(t *testing.T) {
	err := Validate(validPlan(), testRegistry(t), Options{})
	assert.NoError(t, err)
}

func TestValidateCatchesUnknownBlock(t *testing.T) {
	p := validPlan()
	p.Graph[0].Block = "missing"
	err := Validate(p, testRegistry(t), Options{})
	require.Error(t, err)
	ve := err.(*planerr.ValidationError)
	assert.NotEmpty(t, ve.Messages)
}

func TestValidateCatchesCycle(t *testing.T) {
	p := validPlan()
	p.Graph = []planmodel.Node{
		{ID: "a", Block: "double", In: map[string]any{"x": "${b.y}"}},
		{ID: "b", Block: "double", In: map[string]any{"x": "${a.y}"}},
	}
	err := Validate(p, testRegistry(t), Options{})
	require.Error(t, err)
}

func TestValidateCatchesDuplicateNodeIDs(t *testing.T) {
	p := validPlan()
	p.Graph = append(p.Graph, p.Graph[0])
	err := Validate(p, testRegistry(t), Options{})
	require.Error(t, err)
}

func TestValidateCatchesUndefinedVar(t *testing.T) {
	p := validPlan()
	p.Graph[0].In["x"] = "${vars.missing}"
	err := Validate(p, testRegistry(t), Options{})
	require.Error(t, err)
}

func TestValidateCatchesBadGuardSyntax(t *testing.T) {
	p := validPlan()
	p.Graph[0].Guard = &planmodel.Guard{Expr: "a + 1"}
	err := Validate(p, testRegistry(t), Options{})
	require.Error(t, err)
}

func TestValidateCatchesWhileMaxIterations(t *testing.T) {
	p := validPlan()
	p.Graph = append(p.Graph, planmodel.Node{
		ID:    "loop1",
		Kind:  planmodel.NodeKindLoop,
		While: &planmodel.WhileSpec{Condition: planmodel.Guard{Expr: "true"}, MaxIterations: 0},
		Body:  &planmodel.BodyPlan{},
	})
	err := Validate(p, testRegistry(t), Options{})
	require.Error(t, err)
}

func TestValidateUILayoutUnknownNode(t *testing.T) {
	p := validPlan()
	p.UI.Layout = []string{"nope"}
	err := Validate(p, testRegistry(t), Options{})
	require.Error(t, err)
}
