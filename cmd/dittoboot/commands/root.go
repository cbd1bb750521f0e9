// Package commands implements the dittoboot CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittoboot/cmd/dittoboot/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "dittoboot",
	Short: "dittoboot - two-stage plugin bootstrap runtime",
	Long: `dittoboot boots a process in two stages: it loads every registered early
module in parallel, then resolves and runs a single kernel. On exit, or on
SIGINT/SIGTERM, the kernel is terminated and the early modules are unloaded.

Use "dittoboot [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dittoboot/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(config.Cmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
