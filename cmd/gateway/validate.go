package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/gateway/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the configuration file without starting the server.

Checks YAML syntax, required fields, provider URLs and allow-list
patterns, and the log-pipeline tier limits. Environment overrides are
applied before validation, matching what "gateway run" would use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithEnvOverrides(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("configuration valid: %d provider(s), listening on %s\n",
			len(cfg.Providers), cfg.Server.ListenAddress)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
