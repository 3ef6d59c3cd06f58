package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/state"
)

func lit(v cty.Value) ir.Expr { return ir.Literal{Value: v} }

func ref(name string, index int, attr string) ir.Expr {
	return ir.Reference{Ref: ir.Ref{Name: name, Index: index, Attribute: attr}}
}

func decl(typ, name string, attrs map[string]ir.Expr) *ir.Declaration {
	if attrs == nil {
		attrs = map[string]ir.Expr{}
	}
	return &ir.Declaration{Type: typ, Name: name, Provider: "test", Attributes: attrs}
}

func build(t *testing.T, decls ...*ir.Declaration) *graph.Graph {
	t.Helper()
	g, err := graph.Build(decls)
	require.NoError(t, err)
	return g
}

func entry(addr, typ, id string, attrs map[string]cty.Value) *ir.StateEntry {
	name, index := ir.SplitIndex(addr)
	return &ir.StateEntry{
		Address:    addr,
		Type:       typ,
		Name:       name,
		Index:      index,
		Provider:   "test",
		ProviderID: id,
		Attributes: attrs,
	}
}

func TestDiffClassifiesCreates(t *testing.T) {
	vpc := decl("test_vpc", "vpc", map[string]ir.Expr{
		"cidr": lit(cty.StringVal("10.0.0.0/16")),
	})
	subnet := decl("test_subnet", "subnet", map[string]ir.Expr{
		"vpc_id": ref("vpc", -1, "id"),
	})

	plan, err := New(Options{}).Diff(build(t, vpc, subnet), state.Snapshot{})
	require.NoError(t, err)

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, 2, plan.Summary.Create)
	assert.Equal(t, 2, plan.Summary.Changes())

	create := plan.Actions[0]
	assert.Equal(t, ir.ActionCreate, create.Kind)
	assert.Nil(t, create.Before)
	require.Contains(t, create.Diff, "cidr")
	assert.True(t, create.Diff["cidr"].Before.IsNull())

	// The subnet's reference edge points at the vpc create.
	require.Len(t, plan.Edges, 1)
	assert.Equal(t, "test_vpc.vpc", plan.Actions[plan.Edges[0].From].Address)
	assert.Equal(t, "test_subnet.subnet", plan.Actions[plan.Edges[0].To].Address)
}

func TestDiffIsIdempotentOnConvergedState(t *testing.T) {
	vpc := decl("test_vpc", "vpc", map[string]ir.Expr{
		"cidr": lit(cty.StringVal("10.0.0.0/16")),
	})
	subnet := decl("test_subnet", "subnet", map[string]ir.Expr{
		"vpc_id": ref("vpc", -1, "id"),
	})

	snap := state.Snapshot{
		"test_vpc.vpc": entry("test_vpc.vpc", "test_vpc", "vpc-1", map[string]cty.Value{
			"cidr": cty.StringVal("10.0.0.0/16"),
		}),
		"test_subnet.subnet": entry("test_subnet.subnet", "test_subnet", "subnet-1", map[string]cty.Value{
			"vpc_id": cty.StringVal("vpc-1"),
		}),
	}

	plan, err := New(Options{}).Diff(build(t, vpc, subnet), snap)
	require.NoError(t, err)

	assert.Equal(t, 0, plan.Summary.Changes())
	assert.Equal(t, 2, plan.Summary.NoOp)
	for _, action := range plan.Actions {
		assert.Equal(t, ir.ActionNoop, action.Kind)
	}
}

func TestDiffClassifiesUpdates(t *testing.T) {
	app := decl("test_app", "app", map[string]ir.Expr{
		"image":    lit(cty.StringVal("app:v2")),
		"replicas": lit(cty.NumberIntVal(3)),
	})

	snap := state.Snapshot{
		"test_app.app": entry("test_app.app", "test_app", "app-1", map[string]cty.Value{
			"image":    cty.StringVal("app:v1"),
			"replicas": cty.NumberIntVal(3),
		}),
	}

	plan, err := New(Options{}).Diff(build(t, app), snap)
	require.NoError(t, err)

	require.Len(t, plan.Actions, 1)
	action := plan.Actions[0]
	assert.Equal(t, ir.ActionUpdate, action.Kind)
	assert.Equal(t, 1, plan.Summary.Update)

	// Only the changed attribute appears in the diff.
	require.Len(t, action.Diff, 1)
	require.Contains(t, action.Diff, "image")
	assert.Equal(t, cty.StringVal("app:v1"), action.Diff["image"].Before)
	assert.Equal(t, cty.StringVal("app:v2"), action.Diff["image"].After)
}

func TestDiffTreatsUnknownReferenceAsChanged(t *testing.T) {
	vpc := decl("test_vpc", "vpc", nil)
	subnet := decl("test_subnet", "subnet", map[string]ir.Expr{
		"vpc_id": ref("vpc", -1, "id"),
	})

	// The vpc has never been applied, so its id is unknown at plan time even
	// though the subnet's recorded value might happen to match.
	snap := state.Snapshot{
		"test_subnet.subnet": entry("test_subnet.subnet", "test_subnet", "subnet-1", map[string]cty.Value{
			"vpc_id": cty.StringVal("vpc-old"),
		}),
	}

	plan, err := New(Options{}).Diff(build(t, vpc, subnet), snap)
	require.NoError(t, err)

	var subnetAction *ir.ChangeAction
	for _, action := range plan.Actions {
		if action.Address == "test_subnet.subnet" {
			subnetAction = action
		}
	}
	require.NotNil(t, subnetAction)
	assert.Equal(t, ir.ActionUpdate, subnetAction.Kind)
	require.Contains(t, subnetAction.Diff, "vpc_id")
	assert.False(t, subnetAction.Diff["vpc_id"].After.IsWhollyKnown())
}

func TestDiffReplacesOnLifecycleTrigger(t *testing.T) {
	app := decl("test_app", "app", map[string]ir.Expr{
		"zone": lit(cty.StringVal("us-east-1b")),
	})
	app.Lifecycle = &ir.Lifecycle{ReplaceTriggers: []string{"zone"}}

	snap := state.Snapshot{
		"test_app.app": entry("test_app.app", "test_app", "app-1", map[string]cty.Value{
			"zone": cty.StringVal("us-east-1a"),
		}),
	}

	plan, err := New(Options{}).Diff(build(t, app), snap)
	require.NoError(t, err)

	// Default policy: destroy first, then create, ordered by one edge.
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, ir.ActionDestroy, plan.Actions[0].Kind)
	assert.Equal(t, ir.ActionCreate, plan.Actions[1].Kind)
	assert.True(t, plan.Actions[0].Replacing)
	assert.True(t, plan.Actions[1].Replacing)
	assert.Equal(t, plan.Actions[0].Address, plan.Actions[1].Address)

	require.Len(t, plan.Edges, 1)
	assert.Equal(t, ir.Edge{From: 0, To: 1}, plan.Edges[0])

	assert.Equal(t, 1, plan.Summary.Replace)
	assert.True(t, plan.Actions[1].Diff["zone"].ForcesReplacement)
}

func TestDiffReplacesOnSchemaImmutable(t *testing.T) {
	app := decl("test_app", "app", map[string]ir.Expr{
		"name": lit(cty.StringVal("renamed")),
	})

	schema := func(typ string) *ir.Schema {
		if typ != "test_app" {
			return nil
		}
		return &ir.Schema{Immutable: []string{"name"}}
	}

	snap := state.Snapshot{
		"test_app.app": entry("test_app.app", "test_app", "app-1", map[string]cty.Value{
			"name": cty.StringVal("original"),
		}),
	}

	plan, err := New(Options{Schema: schema}).Diff(build(t, app), snap)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Summary.Replace)
}

func TestDiffCreateBeforeDestroyOrdering(t *testing.T) {
	app := decl("test_app", "app", map[string]ir.Expr{
		"zone": lit(cty.StringVal("us-east-1b")),
	})
	app.Lifecycle = &ir.Lifecycle{
		ReplaceTriggers:     []string{"zone"},
		CreateBeforeDestroy: true,
	}

	snap := state.Snapshot{
		"test_app.app": entry("test_app.app", "test_app", "app-1", map[string]cty.Value{
			"zone": cty.StringVal("us-east-1a"),
		}),
	}

	plan, err := New(Options{}).Diff(build(t, app), snap)
	require.NoError(t, err)

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, ir.ActionCreate, plan.Actions[0].Kind)
	assert.Equal(t, ir.ActionDestroy, plan.Actions[1].Kind)
	require.Len(t, plan.Edges, 1)
	assert.Equal(t, ir.Edge{From: 0, To: 1}, plan.Edges[0])
}

func TestDiffPreventDestroyBlocksReplacement(t *testing.T) {
	app := decl("test_app", "app", map[string]ir.Expr{
		"zone": lit(cty.StringVal("us-east-1b")),
	})
	app.Lifecycle = &ir.Lifecycle{
		ReplaceTriggers: []string{"zone"},
		PreventDestroy:  true,
	}

	snap := state.Snapshot{
		"test_app.app": entry("test_app.app", "test_app", "app-1", map[string]cty.Value{
			"zone": cty.StringVal("us-east-1a"),
		}),
	}

	_, err := New(Options{}).Diff(build(t, app), snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prevent_destroy")
}

func TestDiffIgnoreChangesSuppressesUpdate(t *testing.T) {
	app := decl("test_app", "app", map[string]ir.Expr{
		"image": lit(cty.StringVal("app:v1")),
		"tags":  lit(cty.StringVal("edited-out-of-band")),
	})
	app.Lifecycle = &ir.Lifecycle{IgnoreChanges: []string{"tags"}}

	snap := state.Snapshot{
		"test_app.app": entry("test_app.app", "test_app", "app-1", map[string]cty.Value{
			"image": cty.StringVal("app:v1"),
			"tags":  cty.StringVal("managed"),
		}),
	}

	plan, err := New(Options{}).Diff(build(t, app), snap)
	require.NoError(t, err)
	assert.Equal(t, 0, plan.Summary.Changes())
}

func TestDiffDestroysRemovedEntriesDependentsFirst(t *testing.T) {
	// The app entry depended on the net entry when it was applied, so it must
	// be destroyed first.
	snap := state.Snapshot{
		"test_net.net": entry("test_net.net", "test_net", "net-1", map[string]cty.Value{
			"cidr": cty.StringVal("10.0.0.0/16"),
		}),
		"test_app.app": entry("test_app.app", "test_app", "app-1", map[string]cty.Value{
			"net_id": cty.StringVal("net-1"),
		}),
	}
	snap["test_app.app"].Dependencies = []string{"test_net.net"}

	plan, err := New(Options{}).Diff(build(t), snap)
	require.NoError(t, err)

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, "test_app.app", plan.Actions[0].Address)
	assert.Equal(t, "test_net.net", plan.Actions[1].Address)
	assert.Equal(t, ir.ActionDestroy, plan.Actions[0].Kind)
	assert.Equal(t, ir.ActionDestroy, plan.Actions[1].Kind)
	assert.Equal(t, 2, plan.Summary.Destroy)

	require.Len(t, plan.Edges, 1)
	assert.Equal(t, ir.Edge{From: 0, To: 1}, plan.Edges[0])
}

func TestDiffDestroysEntriesOfPrunedDeclaration(t *testing.T) {
	app := decl("test_app", "app", nil)
	app.Count = lit(cty.NumberIntVal(1))

	snap := state.Snapshot{
		"test_app.app[0]": entry("test_app.app[0]", "test_app", "app-0", nil),
		"test_app.app[1]": entry("test_app.app[1]", "test_app", "app-1", nil),
	}

	plan, err := New(Options{}).Diff(build(t, app), snap)
	require.NoError(t, err)

	// Instance 0 survives, instance 1 is beyond the new count.
	assert.Equal(t, 1, plan.Summary.Destroy)
	assert.Equal(t, 1, plan.Summary.NoOp)

	// Dropping the count to zero destroys the whole family and plans
	// nothing else for it.
	app.Count = lit(cty.NumberIntVal(0))
	plan, err = New(Options{}).Diff(build(t, app), snap)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Summary.Destroy)
	assert.Equal(t, 0, plan.Summary.Create)
	assert.Equal(t, 0, plan.Summary.Update)
	for _, action := range plan.Actions {
		assert.Equal(t, ir.ActionDestroy, action.Kind)
	}
}

func TestDiffRejectsMistypedAttributes(t *testing.T) {
	app := decl("test_app", "app", map[string]ir.Expr{
		"port": lit(cty.StringVal("http")),
	})

	schema := func(typ string) *ir.Schema {
		return &ir.Schema{Attributes: map[string]cty.Type{"port": cty.Number}}
	}

	_, err := New(Options{Schema: schema}).Diff(build(t, app), state.Snapshot{})
	require.Error(t, err)

	var typeErr *AttributeTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "test_app.app", typeErr.Address)
	assert.Equal(t, "port", typeErr.Attribute)
	assert.Equal(t, cty.Number, typeErr.Expected)
	assert.Equal(t, cty.String, typeErr.Actual)
}

func TestDiffIsDeterministic(t *testing.T) {
	decls := func() []*ir.Declaration {
		vpc := decl("test_vpc", "vpc", map[string]ir.Expr{
			"cidr": lit(cty.StringVal("10.0.0.0/16")),
		})
		subnet := decl("test_subnet", "subnet", map[string]ir.Expr{
			"vpc_id": ref("vpc", -1, "id"),
		})
		subnet.Count = lit(cty.NumberIntVal(3))
		return []*ir.Declaration{subnet, vpc}
	}
	snap := func() state.Snapshot {
		return state.Snapshot{
			"test_subnet.subnet[1]": entry("test_subnet.subnet[1]", "test_subnet", "subnet-1", map[string]cty.Value{
				"vpc_id": cty.StringVal("stale"),
			}),
		}
	}

	shape := func(plan *ir.Plan) []string {
		out := make([]string, 0, len(plan.Actions))
		for _, action := range plan.Actions {
			out = append(out, action.Address+" "+string(action.Kind))
		}
		return out
	}

	p1, err := New(Options{}).Diff(build(t, decls()...), snap())
	require.NoError(t, err)
	p2, err := New(Options{}).Diff(build(t, decls()...), snap())
	require.NoError(t, err)

	assert.Equal(t, shape(p1), shape(p2))
	assert.Equal(t, p1.Edges, p2.Edges)
}
