package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/graph"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate the specification",
	Long: `Loads the specification, expands counts and conditions, and builds the
dependency graph. Reports reference errors and cycles without touching
state or providers.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	dir, err := specDir(args)
	if err != nil {
		return err
	}
	decls, err := loadSpec(dir)
	if err != nil {
		return err
	}
	g, err := graph.Build(decls)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Printf("Specification is valid. %d resource instances, %d declarations.\n", len(g.Addresses()), len(decls))
	return nil
}
