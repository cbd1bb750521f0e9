// Package config implements configuration management subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage dittoboot configuration files.

Subcommands:
  init      Create a configuration file
  validate  Validate configuration file
  show      Display current configuration
  keys      List the well-known configuration keys
  schema    Generate JSON schema for IDE/validation
  snapshot  Save, restore and list configuration snapshots`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(keysCmd)
	Cmd.AddCommand(schemaCmd)
	Cmd.AddCommand(snapshotCmd)
}
