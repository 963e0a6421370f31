package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "svchub",
	Short: "Single-host orchestrator for capability providers",
	Long: `svchub fronts a fleet of independently implemented capability
providers behind one network entry point, providing lifecycle control,
request dispatch, multi-tenant authentication and quota, and realtime
bidirectional sessions.`,
	// SilenceUsage prevents printing the usage message on errors we
	// handle ourselves (bad config, failed startup).
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "svchub version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
