// Package main is the entry point for the devlauncher CLI.
//
// All functionality lives in internal/cli. Build-time variables are
// injected via ldflags by the release process and default to "dev",
// "none" and "unknown" during development.
package main

import (
	"github.com/dd-jfranjic/devlauncher-sub001/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
