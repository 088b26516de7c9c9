package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/config"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/metrics"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/pipeline"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/server"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/session"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/watch"
)

var serveNoWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and task pipeline",
	Long: `Starts the transcription service.

The HTTP API accepts uploads, exposes the task queue and streams queue
events over WebSocket. Tasks are processed one at a time while a user is
signed in. When watch.enabled is set, audio files dropped into the inbox
directory are queued and their transcripts written next to it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError("failed to load configuration", err)
			return err
		}
		if serveNoWatch {
			cfg.Watch.Enabled = false
		}
		return runServe(cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "disable the inbox directory watcher")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.Config) error {
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", Version),
	)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.HTTP.Addr()),
		slog.Int64("max_input_file_size", cfg.Limits.MaxInputFileSize),
		slog.Int64("compression_threshold", cfg.Limits.CompressionThreshold),
		slog.String("channel_mode", cfg.Audio.ChannelMode),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("model", cfg.Transcription.Model),
		slog.Bool("require_login", cfg.Session.RequireLogin),
		slog.Bool("watch_enabled", cfg.Watch.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(reg)

	store, err := session.NewStore(cfg.Session.Path, logger)
	if err != nil {
		logger.Error("Failed to open session store", slog.String("error", err.Error()))
		return err
	}

	var gate pipeline.SessionChecker
	if cfg.Session.RequireLogin {
		gate = store
	}

	comp, err := buildComponents(cfg, logger, gate, appMetrics)
	if err != nil {
		logger.Error("Failed to initialize pipeline", slog.String("error", err.Error()))
		return err
	}
	defer comp.client.Close()

	store.OnChange(func(authenticated bool) {
		logger.Info("Session changed", slog.Bool("authenticated", authenticated))
		comp.scheduler.Trigger()
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := comp.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Scheduler stopped", slog.String("error", err.Error()))
		}
	}()

	if cfg.Watch.Enabled {
		watcher := watch.New(watch.Config{
			Directory:  cfg.Watch.Directory,
			OutputDir:  cfg.Watch.OutputDir,
			Extensions: cfg.Watch.Extensions,
			Debounce:   cfg.Watch.GetDebounceDuration(),
		}, comp.queue, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Inbox watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, server.Deps{
			Config:    cfg,
			Queue:     comp.queue,
			Session:   store,
			Scheduler: comp.scheduler,
			Stats:     comp.client,
			Metrics:   appMetrics,
			Gatherer:  reg,
		})
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			return err
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	cancel()
	wg.Wait()

	stats := comp.client.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("summary_fallbacks", stats.SummaryFallbacks),
		slog.Int("tasks", comp.queue.Len()),
	)

	logger.Info("Service stopped")
	return nil
}
