// Package main is the entry point for the polis-vast binary.
// It provides a CLI for resolving VAST ad tags once or serving them over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultMaxWrapperDepth = 5

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-vast
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-vast",
		Short: "VAST ad tag resolver",
		Long: `Fetches VAST documents through a configurable filter chain, URL policy
and HTTP transport, emitting lifecycle telemetry for every attempt.

Example:
  polis-vast fetch "https://ads.example.com/vast?placement=preroll"
  polis-vast serve --config vast.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newFetchCmd(), newServeCmd())
	return rootCmd
}
