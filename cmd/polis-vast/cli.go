package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-vast/pkg/config"
)

func configFlag(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", fmt.Errorf("failed to get config flag: %w", err)
	}
	return path, nil
}

// loadCLIConfig loads the file named by --config and applies --log-level.
func loadCLIConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := configFlag(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if level != "" {
		cfg.Logging.Level = level
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
