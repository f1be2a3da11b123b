package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridcoord/internal/config"
	logpkg "github.com/kailas-cloud/hybridcoord/internal/logger"
	"github.com/kailas-cloud/hybridcoord/internal/metrics"
	chiTransport "github.com/kailas-cloud/hybridcoord/internal/transport/chi"
	"github.com/kailas-cloud/hybridcoord/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "hybridcoord",
	Short:         "hybridcoord - routes queries between a local and a remote model",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with the GC scheduler and persistence queue",
	RunE:  runServe,
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run one knowledge GC pass and exit",
	RunE:  runGC,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, gcCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration and builds the logger.
func bootstrap() (config.Config, *zap.Logger, string, error) {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		return config.Config{}, nil, "", fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, "", fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, env, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, env, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting hybridcoord API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("data_dir", cfg.Metadata.DataDir),
	)

	metrics.Register()

	ctx := context.Background()
	infra, err := openInfra(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	app, err := buildApp(ctx, &cfg, infra, logger)
	if err != nil {
		return err
	}

	app.queue.Start()
	if app.scheduler != nil {
		app.scheduler.Start()
	}

	server := chiTransport.NewServer(app.coordinator, app.interactions, app.usage, app.health, logger)
	handler := chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	runErr := serveUntilStopped(srv, quit, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if app.scheduler != nil {
		if err := app.scheduler.Stop(shutdownCtx); err != nil {
			logger.Error("GC scheduler did not stop in time", zap.Error(err))
		}
	}
	if err := app.queue.Stop(shutdownCtx); err != nil {
		logger.Error("Persistence queue did not drain in time",
			zap.Int("pending", app.queue.Len()), zap.Error(err))
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// serveUntilStopped runs srv until quit fires or the listener fails, and returns the failure.
func serveUntilStopped(srv *http.Server, quit <-chan os.Signal, logger *zap.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-quit:
		logger.Info("Received shutdown signal")
		return nil
	case err := <-serveErr:
		logger.Error("HTTP server error", zap.Error(err))
		return fmt.Errorf("http server: %w", err)
	}
}

func runGC(cmd *cobra.Command, _ []string) error {
	cfg, logger, _, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := openInfra(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	report := newGC(&cfg, infra, logger).RunPass(ctx)

	out := cmd.OutOrStdout()
	for _, step := range report.Steps {
		if step.Err != nil {
			fmt.Fprintf(out, "%-7s failed: %v\n", step.Step, step.Err)
			continue
		}
		fmt.Fprintf(out, "%-7s %d\n", step.Step, step.Affected)
	}
	fmt.Fprintf(out, "took %s\n", report.Duration.Round(time.Millisecond))

	if report.Failed() {
		return fmt.Errorf("gc pass finished with failed steps")
	}
	return nil
}
