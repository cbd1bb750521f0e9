package main

import (
	"fmt"
	"os"

	"github.com/marmos91/dittoboot/cmd/dittoboot/commands"

	// Built-in plugins register themselves from init()
	_ "github.com/marmos91/dittoboot/plugins/heartbeat"
	_ "github.com/marmos91/dittoboot/plugins/hostinfo"
	_ "github.com/marmos91/dittoboot/plugins/pidfile"
	_ "github.com/marmos91/dittoboot/plugins/standard"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
