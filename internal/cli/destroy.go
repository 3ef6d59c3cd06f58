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
	destroyAutoApprove bool
	destroyParallelism int
	destroyTargets     []string
	destroyLockTimeout time.Duration
)

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all managed infrastructure",
	Long: `Plans and executes the destruction of every resource in state, dependents
strictly before their dependencies. Equivalent to applying an empty
specification.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
	destroyCmd.Flags().IntVar(&destroyParallelism, "parallelism", 10, "Maximum number of concurrent provider operations")
	destroyCmd.Flags().StringSliceVar(&destroyTargets, "target", nil, "Limit the run to these addresses and their dependencies")
	destroyCmd.Flags().DurationVar(&destroyLockTimeout, "lock-timeout", state.DefaultLockTimeout, "How long to wait for the state lock")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	if err := store.Lock(ctx, destroyLockTimeout); err != nil {
		return err
	}
	defer store.Unlock()

	snap := store.Snapshot()
	if len(snap) == 0 {
		fmt.Println("No resources in state. Nothing to destroy.")
		return nil
	}

	registry := provider.NewRegistry()
	if err := loadSnapshotProviders(registry, snap); err != nil {
		return err
	}

	// Diffing an empty declaration set against state plans a destroy for
	// every entry.
	_, plan, err := buildPlan(nil, snap, registry)
	if err != nil {
		return err
	}

	fmt.Println("Stackform will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resources...\n", plan.Summary.Destroy)

	exec := engine.New(registry, engine.Options{
		Parallelism: destroyParallelism,
		Targets:     destroyTargets,
	})
	exec.OnEvent(printEvent)

	report, err := exec.Execute(ctx, plan, store)
	if err != nil {
		return fmt.Errorf("destroy failed: %w", err)
	}
	fmt.Println()
	return renderReport(report)
}
