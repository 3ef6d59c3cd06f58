package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph [dir]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph in
Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  stackform graph | dot -Tpng > graph.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph stackform {")
	fmt.Println("  rankdir = \"TB\";")
	for _, addr := range g.Addresses() {
		fmt.Printf("  %q;\n", addr)
	}
	for _, addr := range g.Addresses() {
		for _, dep := range g.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}
	fmt.Println("}")
	return nil
}
