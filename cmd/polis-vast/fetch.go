package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-vast/pkg/bitrate"
	"github.com/polisai/polis-vast/pkg/domain"
	"github.com/polisai/polis-vast/pkg/logging"
	"github.com/polisai/polis-vast/pkg/telemetry"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch a single VAST document and print it",
		Args:  cobra.ExactArgs(1),
		RunE:  runFetch,
	}
	cmd.Flags().Int("depth", 0, "Wrapper depth of this request")
	cmd.Flags().String("previous", "", "URL of the wrapper that pointed here")
	cmd.Flags().Int("max-depth", defaultMaxWrapperDepth, "Maximum wrapper depth reported to observers")
	cmd.Flags().Duration("timeout", 0, "Fetch timeout override")
	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig(cmd)
	if err != nil {
		return err
	}

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return fmt.Errorf("failed to get timeout flag: %w", err)
	}
	if timeout > 0 {
		cfg.Resolver.TimeoutMS = timeout.Milliseconds()
	}
	depth, err := cmd.Flags().GetInt("depth")
	if err != nil {
		return fmt.Errorf("failed to get depth flag: %w", err)
	}
	maxDepth, err := cmd.Flags().GetInt("max-depth")
	if err != nil {
		return fmt.Errorf("failed to get max-depth flag: %w", err)
	}
	previous, err := cmd.Flags().GetString("previous")
	if err != nil {
		return fmt.Errorf("failed to get previous flag: %w", err)
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupProvider(ctx, cfg.Telemetry.Provider())
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	estimator := bitrate.NewAverage()
	r, err := buildResolver(ctx, cfg, runtimeDeps{logger: logger, bitrate: estimator})
	if err != nil {
		return err
	}

	doc, err := r.Fetch(ctx, domain.FetchRequest{
		URL:             args[0],
		WrapperDepth:    depth,
		PreviousURL:     previous,
		MaxWrapperDepth: maxDepth,
	})
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintln(cmd.OutOrStdout(), doc); err != nil {
		return err
	}
	logger.Debug("Fetch complete", "bytes", len(doc), "estimated_kbps", estimator.Estimate())
	return nil
}
