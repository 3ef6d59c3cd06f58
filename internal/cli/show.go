package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <planfile>",
	Short: "Show a saved plan",
	Long:  `Renders a plan file previously written with 'stackform plan -out'.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	pf, err := readPlanFile(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Plan created at %s\n", pf.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	for _, change := range pf.Changes {
		symbol := "~"
		switch change.Action {
		case "create":
			symbol = "+"
		case "destroy":
			symbol = "-"
		case "replace":
			symbol = "-/+"
		}
		fmt.Printf("\n  %s %s (%s)\n", symbol, change.Address, change.Action)

		names := make([]string, 0, len(change.Diff))
		for name := range change.Diff {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ad := change.Diff[name]
			suffix := ""
			if ad.ForcesReplacement {
				suffix = " # forces replacement"
			}
			fmt.Printf("      %s: %s -> %s%s\n", name, ad.Before, ad.After, suffix)
		}
	}

	fmt.Printf("\nSummary: %d to create, %d to update, %d to replace, %d to destroy.\n",
		pf.Summary.Create, pf.Summary.Update, pf.Summary.Replace, pf.Summary.Destroy)
	return nil
}
