package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/stackform-io/stackform/internal/ir"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

// renderedChange is one plan row after collapsing replace pairs.
type renderedChange struct {
	Address   string
	Action    string // create, update, replace, destroy, noop
	Diff      map[string]*ir.AttributeDiff
	Replacing bool
}

// collapsePlan folds each replace destroy/create pair into one replace row
// and drops noops, in action order.
func collapsePlan(plan *ir.Plan) []renderedChange {
	var out []renderedChange
	for _, action := range plan.Actions {
		if action.Kind == ir.ActionNoop {
			continue
		}
		if action.Replacing && action.Kind == ir.ActionDestroy {
			continue
		}
		rc := renderedChange{
			Address:   action.Address,
			Action:    string(action.Kind),
			Diff:      action.Diff,
			Replacing: action.Replacing,
		}
		if action.Replacing {
			rc.Action = "replace"
		}
		out = append(out, rc)
	}
	return out
}

func renderPlanChanges(plan *ir.Plan) {
	for _, change := range collapsePlan(plan) {
		symbol, color, verb := "~", colorYellow, "updated"
		switch change.Action {
		case "create":
			symbol, color, verb = "+", colorGreen, "created"
		case "destroy":
			symbol, color, verb = "-", colorRed, "destroyed"
		case "replace":
			symbol, verb = "-/+", "replaced"
		}

		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Address, verb, colorReset)
		fmt.Printf("%s  %s %s {%s\n", color, symbol, change.Address, colorReset)
		renderAttributeDiff(change.Diff)
		fmt.Printf("%s    }%s\n", color, colorReset)
	}
}

func renderAttributeDiff(diffMap map[string]*ir.AttributeDiff) {
	names := make([]string, 0, len(diffMap))
	for name := range diffMap {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ad := diffMap[name]
		suffix := ""
		if ad.ForcesReplacement {
			suffix = " # forces replacement"
		}
		switch {
		case ad.Before.IsNull() && !ad.After.IsNull():
			fmt.Printf("%s      + %s = %s%s%s\n", colorGreen, name, formatValue(ad.After), suffix, colorReset)
		case !ad.Before.IsNull() && ad.After.IsNull():
			fmt.Printf("%s      - %s = %s%s%s\n", colorRed, name, formatValue(ad.Before), suffix, colorReset)
		default:
			fmt.Printf("%s      ~ %s = %s -> %s%s%s\n", colorYellow, name, formatValue(ad.Before), formatValue(ad.After), suffix, colorReset)
		}
	}
}

func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  Destroy: %d\n", plan.Summary.Destroy)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// renderReport prints per-resource outcomes and the final tally. Returns an
// error when any action failed or was skipped, so commands exit non-zero.
func renderReport(report *ir.Report) error {
	addrs := make([]string, 0, len(report.Results))
	for addr := range report.Results {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		res := report.Results[addr]
		switch res.Status {
		case ir.StatusSuccess:
			fmt.Printf("%s%s: %s complete after %s%s\n", colorGreen, addr, res.Kind, res.Duration.Round(time.Millisecond), colorReset)
		case ir.StatusFailed:
			fmt.Printf("%s%s: %s failed: %v%s\n", colorRed, addr, res.Kind, res.Err, colorReset)
		case ir.StatusSkipped:
			fmt.Printf("%s%s: skipped: %v%s\n", colorYellow, addr, res.Err, colorReset)
		}
	}

	success, failed, skipped, _ := report.Counts()
	fmt.Printf("\nApply complete! Resources: %d succeeded, %d failed, %d skipped.\n", success, failed, skipped)

	if !report.Converged() {
		return fmt.Errorf("apply incomplete: %d failed, %d skipped", failed, skipped)
	}
	return nil
}

// formatValue renders a cty value for plan output. Unknown values are
// placeholders for attributes computed during apply.
func formatValue(v cty.Value) string {
	if v == cty.NilVal || v.IsNull() {
		return "null"
	}
	if !v.IsWhollyKnown() {
		return "(known after apply)"
	}
	data, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return v.GoString()
	}
	return string(data)
}

// Plan files persist only what show needs: addresses, actions and rendered
// attribute diffs. They are not executable.
type planFile struct {
	CreatedAt time.Time        `json:"created_at"`
	Summary   ir.Summary       `json:"summary"`
	Changes   []planFileChange `json:"changes"`
}

type planFileChange struct {
	Address   string                  `json:"address"`
	Action    string                  `json:"action"`
	Replacing bool                    `json:"replacing,omitempty"`
	Diff      map[string]planFileDiff `json:"diff,omitempty"`
}

type planFileDiff struct {
	Before            json.RawMessage `json:"before"`
	After             json.RawMessage `json:"after"`
	ForcesReplacement bool            `json:"forces_replacement,omitempty"`
}

func savePlanFile(path string, plan *ir.Plan) error {
	pf := planFile{CreatedAt: plan.CreatedAt, Summary: plan.Summary}
	for _, change := range collapsePlan(plan) {
		pfc := planFileChange{
			Address:   change.Address,
			Action:    change.Action,
			Replacing: change.Replacing,
			Diff:      make(map[string]planFileDiff, len(change.Diff)),
		}
		for name, ad := range change.Diff {
			pfc.Diff[name] = planFileDiff{
				Before:            marshalRaw(ad.Before),
				After:             marshalRaw(ad.After),
				ForcesReplacement: ad.ForcesReplacement,
			}
		}
		pf.Changes = append(pf.Changes, pfc)
	}

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

func readPlanFile(path string) (*planFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to decode plan file: %w", err)
	}
	return &pf, nil
}

func marshalRaw(v cty.Value) json.RawMessage {
	if v == cty.NilVal || !v.IsWhollyKnown() {
		return json.RawMessage(`null`)
	}
	data, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return json.RawMessage(`null`)
	}
	return json.RawMessage(data)
}
