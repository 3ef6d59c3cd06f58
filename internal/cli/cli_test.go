package cli

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
)

func TestCollapsePlan(t *testing.T) {
	plan := &ir.Plan{
		Actions: []*ir.ChangeAction{
			{Address: "test_net.net", Kind: ir.ActionNoop},
			{Address: "test_app.app", Kind: ir.ActionDestroy, Replacing: true},
			{Address: "test_app.app", Kind: ir.ActionCreate, Replacing: true},
			{Address: "test_db.db", Kind: ir.ActionUpdate},
		},
	}

	changes := collapsePlan(plan)
	require.Len(t, changes, 2)

	// The replace pair folds into one row; noops are dropped.
	assert.Equal(t, "test_app.app", changes[0].Address)
	assert.Equal(t, "replace", changes[0].Action)
	assert.Equal(t, "test_db.db", changes[1].Address)
	assert.Equal(t, "update", changes[1].Action)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "null", formatValue(cty.NilVal))
	assert.Equal(t, "null", formatValue(cty.NullVal(cty.String)))
	assert.Equal(t, "(known after apply)", formatValue(cty.UnknownVal(cty.String)))
	assert.Equal(t, `"web"`, formatValue(cty.StringVal("web")))
	assert.Equal(t, "8080", formatValue(cty.NumberIntVal(8080)))
}

func TestRenderReportSignalsFailure(t *testing.T) {
	report := ir.NewReport()
	report.Results["test_net.net"] = &ir.ActionResult{
		Address: "test_net.net",
		Kind:    ir.ActionCreate,
		Status:  ir.StatusSuccess,
	}
	require.NoError(t, renderReport(report))

	report.Results["test_app.app"] = &ir.ActionResult{
		Address: "test_app.app",
		Kind:    ir.ActionCreate,
		Status:  ir.StatusFailed,
		Err:     assert.AnError,
	}
	require.Error(t, renderReport(report))
}

func TestPlanFileRoundTrip(t *testing.T) {
	plan := &ir.Plan{
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Actions: []*ir.ChangeAction{
			{
				Address: "test_net.net",
				Kind:    ir.ActionCreate,
				Diff: map[string]*ir.AttributeDiff{
					"cidr": {
						Before: cty.NullVal(cty.DynamicPseudoType),
						After:  cty.StringVal("10.0.0.0/16"),
					},
					"id": {
						Before: cty.NullVal(cty.DynamicPseudoType),
						After:  cty.UnknownVal(cty.String),
					},
				},
			},
		},
		Summary: ir.Summary{Create: 1},
	}

	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, savePlanFile(path, plan))

	pf, err := readPlanFile(path)
	require.NoError(t, err)
	assert.Equal(t, plan.CreatedAt, pf.CreatedAt)
	assert.Equal(t, 1, pf.Summary.Create)
	require.Len(t, pf.Changes, 1)
	assert.Equal(t, "create", pf.Changes[0].Action)
	assert.JSONEq(t, `"10.0.0.0/16"`, string(pf.Changes[0].Diff["cidr"].After))
	// Unknown values cannot be serialized; they round-trip as null.
	assert.JSONEq(t, `null`, string(pf.Changes[0].Diff["id"].After))
}
