// Command flowctl is a direct driver for this repository's programmatic
// API: run a tree against a fresh session, resume a yielded one, or inspect
// a session store. It replaces goa-ai's codegen-oriented cmd/demo and
// cmd/regolden, since this repository has no DSL/codegen layer of its own.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "flowctl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "flowctl",
		Short: "Drive runnable trees and inspect session state",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (defaults to built-in values plus FLOW_ env overrides)")

	root.AddCommand(
		newRunCmd(&configPath),
		newResumeCmd(&configPath),
		newInspectCmd(&configPath),
		newConfigCmd(),
	)
	return root
}
