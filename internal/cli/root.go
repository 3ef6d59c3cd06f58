// Package cli implements the stackform command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/logging"
)

var (
	stateFile   string
	s3Bucket    string
	s3Key       string
	s3Region    string
	s3LockTable string
	logLevel    string
	logFormat   string
)

var rootCmd = &cobra.Command{
	Use:   "stackform",
	Short: "Declarative infrastructure reconciliation",
	Long: `Stackform reconciles declared infrastructure against recorded state.

Specifications are HCL resource declarations; stackform expands them,
builds the dependency graph, diffs against the state store and applies
the resulting plan through provider adapters.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel, logFormat)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stateFile, "state", ".stackform/state.json", "Path to the local state file")
	rootCmd.PersistentFlags().StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket for remote state (enables the S3 backend)")
	rootCmd.PersistentFlags().StringVar(&s3Key, "s3-key", "stackform/state.json", "S3 object key for remote state")
	rootCmd.PersistentFlags().StringVar(&s3Region, "s3-region", "", "AWS region for the S3 backend")
	rootCmd.PersistentFlags().StringVar(&s3LockTable, "s3-lock-table", "", "DynamoDB table for state locking")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}
