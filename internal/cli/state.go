package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/ir"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage stackform state",
	Long:  `Commands for inspecting and modifying the state store.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state (does not destroy it)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	snap := store.Snapshot()
	if len(snap) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}
	for _, addr := range snap.Addresses() {
		fmt.Println(addr)
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	entry, ok := store.Get(args[0])
	if !ok {
		return fmt.Errorf("no resource %q in state", args[0])
	}
	printEntry(entry)
	return nil
}

func printEntry(entry *ir.StateEntry) {
	fmt.Printf("# %s\n", entry.Address)
	fmt.Printf("provider    = %s\n", entry.Provider)
	fmt.Printf("provider_id = %s\n", entry.ProviderID)
	if !entry.LastSuccess.IsZero() {
		fmt.Printf("applied_at  = %s\n", entry.LastSuccess.Format("2006-01-02T15:04:05Z07:00"))
	}

	names := make([]string, 0, len(entry.Attributes))
	for name := range entry.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s = %s\n", name, formatValue(entry.Attributes[name]))
	}

	if len(entry.Dependencies) > 0 {
		fmt.Printf("depends_on  = %v\n", entry.Dependencies)
	}
}

func runStateRm(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	if _, ok := store.Get(args[0]); !ok {
		return fmt.Errorf("no resource %q in state", args[0])
	}
	if err := store.Remove(args[0]); err != nil {
		return fmt.Errorf("failed to remove %s: %w", args[0], err)
	}
	fmt.Printf("Removed %s from state.\n", args[0])
	return nil
}
