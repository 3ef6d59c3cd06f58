package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/provider"
)

var planOutFile string

var planCmd = &cobra.Command{
	Use:   "plan [dir]",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions stackform will take
to reach the desired state defined in the specification.

The plan shows:
  • Resources to be created
  • Resources to be updated (with attribute diffs)
  • Resources to be replaced or destroyed`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write the plan to a file (readable with 'stackform show')")
}

func runPlan(cmd *cobra.Command, args []string) error {
	dir, err := specDir(args)
	if err != nil {
		return err
	}

	decls, err := loadSpec(dir)
	if err != nil {
		return err
	}

	registry := provider.NewRegistry()
	if err := loadDeclProviders(registry, decls); err != nil {
		return err
	}

	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	snap := store.Snapshot()
	if err := loadSnapshotProviders(registry, snap); err != nil {
		return err
	}

	_, plan, err := buildPlan(decls, snap, registry)
	if err != nil {
		return err
	}

	if plan.Summary.Changes() == 0 {
		fmt.Println("No changes. Infrastructure is up-to-date.")
	} else {
		fmt.Println("Stackform will perform the following actions:")
		renderPlanChanges(plan)
	}
	renderPlanSummary(plan)

	if planOutFile != "" {
		if err := savePlanFile(planOutFile, plan); err != nil {
			return err
		}
		fmt.Printf("\nPlan written to %s\n", planOutFile)
	}
	return nil
}
