package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scantrack/internal/adapters/api"
	"scantrack/internal/config"
	"scantrack/internal/core"
	"scantrack/internal/observability"
	"scantrack/internal/tracker"
	trackerfs "scantrack/internal/tracker/fs"
	trackermem "scantrack/internal/tracker/memory"
	trackers3 "scantrack/internal/tracker/s3"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	store, err := core.OpenStore(cfg.Storage.Driver, cfg.Storage.SQLitePath, cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []core.Option{core.WithLogger(core.NewSlogLogger(log))}

	var metrics *observability.PrometheusMetricsRecorder
	if cfg.Metrics.Enabled {
		metrics = observability.NewPrometheusMetricsRecorder()
		opts = append(opts, core.WithMetricsRecorder(metrics))
	}

	provider, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  cfg.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()
	if provider.Enabled() {
		opts = append(opts, core.WithTracer(provider.ServiceTracer()))
	}

	if cfg.Tracker.Enabled {
		markers, err := newMarkerTracker(ctx, cfg.Tracker, log)
		if err != nil {
			return fmt.Errorf("init tracker: %w", err)
		}
		opts = append(opts, core.WithTracker(markers))
	}

	svc := core.NewService(store, opts...)

	mux := http.NewServeMux()
	mux.Handle("/", api.NewHandler(svc, log))
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	log.Info("scantrack listening", "addr", cfg.Listen, "driver", cfg.Storage.Driver)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newMarkerTracker builds the marker file backend named by the config.
func newMarkerTracker(ctx context.Context, cfg config.TrackerConfig, log *slog.Logger) (*tracker.Tracker, error) {
	switch cfg.Backend {
	case "fs", "":
		return tracker.New(trackerfs.New(), log), nil
	case "memory":
		return tracker.New(trackermem.New(), log), nil
	case "s3":
		files, err := trackers3.New(ctx, trackers3.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return tracker.New(files, log), nil
	default:
		return nil, fmt.Errorf("unknown tracker backend %s", cfg.Backend)
	}
}
