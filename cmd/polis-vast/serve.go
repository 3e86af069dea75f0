package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-vast/pkg/bitrate"
	"github.com/polisai/polis-vast/pkg/config"
	"github.com/polisai/polis-vast/pkg/domain"
	"github.com/polisai/polis-vast/pkg/logging"
	"github.com/polisai/polis-vast/pkg/observe"
	"github.com/polisai/polis-vast/pkg/policy"
	"github.com/polisai/polis-vast/pkg/resolver"
	"github.com/polisai/polis-vast/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve VAST resolution over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "Listen address override")
	cmd.Flags().Int("max-depth", defaultMaxWrapperDepth, "Maximum wrapper depth reported to observers")
	return cmd
}

// server answers /resolve with whichever resolver is current. Reloads swap
// the pointer; in-flight requests finish on the resolver they started with.
type server struct {
	current  atomic.Pointer[resolver.Resolver]
	metrics  *observe.Metrics
	logger   *slog.Logger
	maxDepth int
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/resolve", otelhttp.NewHandler(http.HandlerFunc(s.handleResolve), "vast.resolve"))
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
		return s.metrics.Middleware(mux)
	}
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	target := query.Get("url")
	if target == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	depth := 0
	if raw := query.Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid depth parameter", http.StatusBadRequest)
			return
		}
		depth = n
	}

	res := s.current.Load()
	doc, err := res.Fetch(r.Context(), domain.FetchRequest{
		URL:             target,
		WrapperDepth:    depth,
		PreviousURL:     query.Get("previous"),
		MaxWrapperDepth: s.maxDepth,
	})
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

func statusForError(err error) int {
	switch {
	case policy.IsDenied(err):
		return http.StatusForbidden
	case domain.IsTimeout(err):
		return http.StatusGatewayTimeout
	case domain.IsInternal(err):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// reload rebuilds the resolver from path and swaps it in. The previous
// resolver stays active when the new configuration is invalid.
func (s *server) reload(ctx context.Context, path string, deps runtimeDeps) error {
	cfg, err := config.Load(path)
	if err != nil {
		s.metrics.RecordConfigReload("failure")
		return err
	}
	r, err := buildResolver(ctx, cfg, deps)
	if err != nil {
		s.metrics.RecordConfigReload("failure")
		return err
	}
	s.current.Store(r)
	s.metrics.RecordConfigReload("success")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadCLIConfig(cmd)
	if err != nil {
		return err
	}
	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return fmt.Errorf("failed to get listen flag: %w", err)
	}
	if listen != "" {
		cfg.Server.ListenAddr = listen
	}
	maxDepth, err := cmd.Flags().GetInt("max-depth")
	if err != nil {
		return fmt.Errorf("failed to get max-depth flag: %w", err)
	}

	logger := logging.SetupLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, cfg.Telemetry.Provider())
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}

	estimator := bitrate.NewAverage()
	deps := runtimeDeps{logger: logger, bitrate: estimator, metrics: observe.NewMetrics(estimator)}

	r, err := buildResolver(ctx, cfg, deps)
	if err != nil {
		return err
	}

	srv := &server{metrics: deps.metrics, logger: logger, maxDepth: maxDepth}
	srv.current.Store(r)

	configPath, err := configFlag(cmd)
	if err != nil {
		return err
	}
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(path string) error {
			return srv.reload(ctx, path, deps)
		}, logger)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start config watcher: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting polis-vast", "listen_addr", cfg.Server.ListenAddr, "log_level", cfg.Logging.Level)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown failed", "error", err)
	}
	logger.Info("polis-vast stopped")
	return nil
}
