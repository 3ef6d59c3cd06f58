package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/state"
	"github.com/stackform-io/stackform/pkg/adapter"
)

var refreshLockTimeout time.Duration

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reconcile state with observed provider values",
	Long: `Reads every resource in state back from its provider. Attributes are
updated to the observed values; resources that no longer exist are
removed from state.`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().DurationVar(&refreshLockTimeout, "lock-timeout", state.DefaultLockTimeout, "How long to wait for the state lock")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	if err := store.Lock(ctx, refreshLockTimeout); err != nil {
		return err
	}
	defer store.Unlock()

	snap := store.Snapshot()
	if len(snap) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	registry := provider.NewRegistry()
	if err := loadSnapshotProviders(registry, snap); err != nil {
		return err
	}

	for _, addr := range snap.Addresses() {
		entry := snap[addr]
		adp, err := registry.Get(entry.Provider)
		if err != nil {
			return err
		}

		prior, err := ir.MarshalValues(entry.Attributes)
		if err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}
		observed, err := adp.Read(ctx, entry.Type, entry.ProviderID, prior)
		if err != nil {
			if errors.Is(err, adapter.ErrNotFound) {
				fmt.Printf("%s: gone, removing from state\n", addr)
				if err := store.Remove(addr); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("failed to refresh %s: %w", addr, err)
		}

		obs, err := ir.UnmarshalValues(observed)
		if err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}
		updated := entry.Clone()
		for k, v := range obs {
			updated.Attributes[k] = v
		}
		if err := store.Put(updated); err != nil {
			return err
		}
		fmt.Printf("%s: refreshed\n", addr)
	}
	return nil
}
