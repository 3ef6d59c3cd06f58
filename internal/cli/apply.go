package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/state"
)

var (
	applyAutoApprove bool
	applyParallelism int
	applyTargets     []string
	applyLockTimeout time.Duration
)

var applyCmd = &cobra.Command{
	Use:   "apply [dir]",
	Short: "Apply a specification",
	Long:  `Builds or changes infrastructure according to the stackform specification.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the plan before applying")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 10, "Maximum number of concurrent provider operations")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit the run to these addresses and their dependencies")
	applyCmd.Flags().DurationVar(&applyLockTimeout, "lock-timeout", state.DefaultLockTimeout, "How long to wait for the state lock")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

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

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	if err := store.Lock(ctx, applyLockTimeout); err != nil {
		return err
	}
	defer store.Unlock()

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
		return nil
	}

	fmt.Println("Stackform will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", plan.Summary.Changes())

	exec := engine.New(registry, engine.Options{
		Parallelism: applyParallelism,
		Targets:     applyTargets,
	})
	exec.OnEvent(printEvent)

	report, err := exec.Execute(ctx, plan, store)
	if err != nil {
		return fmt.Errorf("apply failed: %w", err)
	}
	fmt.Println()
	return renderReport(report)
}

func printEvent(ev engine.Event) {
	switch ev.Status {
	case "started":
		fmt.Printf("%s: %s...\n", ev.Address, ev.Kind)
	case "failed":
		fmt.Printf("%s%s: %s failed after %s: %v%s\n", colorRed, ev.Address, ev.Kind, ev.Duration.Round(time.Millisecond), ev.Err, colorReset)
	}
}
