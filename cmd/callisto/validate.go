package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration without starting the server",
	Long: `Load the configuration exactly as serve would (file, then environment
overrides) and report whether it is usable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		fmt.Println("Configuration valid")
		fmt.Printf("  model:          %s v%s (%s)\n", cfg.Model.Name, cfg.Model.Version, cfg.Model.Framework)
		fmt.Printf("  listen:         %s\n", cfg.Server.ListenAddress)
		fmt.Printf("  auth:           %v\n", cfg.Auth.APIKey != "")
		fmt.Printf("  audit:          %v\n", cfg.Audit.Enabled)
		fmt.Printf("  max batch size: %d\n", cfg.Limits.MaxBatchSize)
		fmt.Printf("  max features:   %d\n", cfg.Limits.MaxFeatures)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
