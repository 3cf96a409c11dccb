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
	Use:   "gateway",
	Short: "LLM-provider reverse proxy",
	Long: `Gateway is a reverse proxy for LLM providers.

It forwards OpenAI/Anthropic-shaped API calls to the real provider,
applies sliding-window rate limits, intercepts streamed responses for
time-to-first-token and full-body capture, and emits one structured
log record per exchange without ever blocking the client response.
Realtime WebSocket sessions are relayed bidirectionally and logged as
a single exchange.`,
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
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
}
