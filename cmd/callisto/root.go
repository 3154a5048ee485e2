package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "callisto",
	Short: "Callisto - ML inference serving gateway",
	Long: `Callisto serves a registered ML model behind a validated, observable
HTTP endpoint.

It fronts the prediction backend with:
  - Batch validation (size, shape, numeric constraints)
  - A closed error taxonomy with stable machine codes
  - Prometheus metrics for every request
  - An audit record per request outcome
  - Optional shared-secret authentication`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (optional, env takes precedence)")
}
