// Package main provides the CLI entry point for orc.
package main

import (
	"fmt"
	"os"

	"github.com/orcworks/orc/internal/cli"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

func main() {
	rootCmd := cli.NewRootCommand(Version)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
