package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/voice-practice/internal/archive"
	"github.com/skypro1111/voice-practice/internal/audio"
	"github.com/skypro1111/voice-practice/internal/config"
	"github.com/skypro1111/voice-practice/internal/evaluation"
	"github.com/skypro1111/voice-practice/internal/history"
	"github.com/skypro1111/voice-practice/internal/metrics"
	"github.com/skypro1111/voice-practice/internal/permission"
	"github.com/skypro1111/voice-practice/internal/server"
	"github.com/skypro1111/voice-practice/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvPath    = ".env"
	serviceName       = "voice-practice"
	serviceVersion    = "1.0.0"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run wires and runs the client and returns the process exit code, so
// every deferred close runs before the process exits
func run(args []string) int {
	flags := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	configPath := flags.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flags.String("env", defaultEnvPath, "Path to dotenv file with secrets")
	once := flags.Bool("once", false, "Run a single practice attempt and exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if err := config.LoadEnvFile(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("evaluation_endpoint", cfg.Evaluation.Endpoint),
		slog.Duration("evaluation_timeout", cfg.Evaluation.GetTimeoutDuration()),
		slog.String("storage_dir", cfg.Audio.StorageDir),
		slog.String("capture_source", cfg.Audio.Capture.Source),
		slog.String("output_sink", cfg.Audio.Output.Sink),
		slog.Bool("history_enabled", cfg.History.Enabled),
		slog.Bool("archive_enabled", cfg.Archive.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	coordinator, evalClient, err := buildCoordinator(cfg, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create session coordinator", slog.String("error", err.Error()))
		return 1
	}
	defer evalClient.Close()

	var repo *history.SQLiteRepository
	if cfg.History.Enabled {
		repo, err = history.NewSQLiteRepository(cfg.History.DBPath)
		if err != nil {
			logger.Error("Failed to open history database", slog.String("error", err.Error()))
			return 1
		}
		defer repo.Close()

		coordinator.AddHook(history.Hook(repo, logger))
		logger.Info("Attempt history initialized", slog.String("db_path", cfg.History.DBPath))
	}

	var recordingArchive *archive.Archive
	if cfg.Archive.Enabled {
		store, err := archive.NewMinioStore(ctx, cfg.Archive)
		if err != nil {
			logger.Error("Failed to connect recording archive", slog.String("error", err.Error()))
			return 1
		}

		recordingArchive = archive.New(store, cfg.Archive, 2, logger)
		coordinator.AddHook(recordingArchive.Hook())
	}

	if *once {
		code := runOnce(ctx, coordinator, logger)
		shutdown(coordinator, recordingArchive, nil, logger)
		return code
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		deps := server.Deps{
			Config:     cfg,
			Controller: coordinator,
			Evaluation: evalClient,
			Metrics:    appMetrics,
			Logger:     logger,
		}
		if repo != nil {
			deps.History = repo
		}
		if recordingArchive != nil {
			deps.Archive = recordingArchive
		}

		httpServer = server.NewHTTPServer(cfg.HTTP, deps)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			return 1
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	shutdown(coordinator, recordingArchive, httpServer, logger)

	stats := evalClient.GetStats()
	logger.Info("Final evaluation statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
	)

	logger.Info("Service stopped")
	return 0
}

// buildCoordinator wires the audio pipeline and evaluation client into a coordinator
func buildCoordinator(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*session.Coordinator, *evaluation.Client, error) {
	initial, err := permission.ParseStatus(cfg.Permission.Initial)
	if err != nil {
		return nil, nil, fmt.Errorf("permission.initial: %w", err)
	}
	answer, err := permission.ParseStatus(cfg.Permission.Answer)
	if err != nil {
		return nil, nil, fmt.Errorf("permission.answer: %w", err)
	}
	gate := permission.NewGate(permission.NewStatic(initial, answer))

	store, err := audio.NewFileStore(cfg.Audio.StorageDir)
	if err != nil {
		return nil, nil, err
	}

	var source audio.CaptureSource
	switch cfg.Audio.Capture.Source {
	case "file":
		source = audio.WAVFileSource{Path: cfg.Audio.Capture.InputFile, Realtime: cfg.Audio.Capture.Realtime}
	default:
		source = audio.SilenceSource{Duration: cfg.Audio.Capture.GetCaptureDuration(), Realtime: cfg.Audio.Capture.Realtime}
	}

	var sink audio.OutputSink
	switch cfg.Audio.Output.Sink {
	case "file":
		sink = audio.FileSink{Dir: cfg.Audio.Output.Dir}
	default:
		sink = audio.PacedSink{}
	}

	device := audio.NewDeviceManager(audio.NopBackend{}, logger)

	evalClient, err := evaluation.NewClient(evaluation.Config{
		Endpoint:  cfg.Evaluation.Endpoint,
		APIKey:    cfg.Evaluation.APIKey,
		Timeout:   cfg.Evaluation.GetTimeoutDuration(),
		UserAgent: cfg.Evaluation.UserAgent,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create evaluation client: %w", err)
	}

	coordinator, err := session.NewCoordinator(session.Deps{
		Gate:     gate,
		Device:   device,
		Recorder: audio.NewRecorder(source, device, logger),
		Player:   audio.NewPlayer(device, sink, logger),
		Store:    store,
		Sender:   evalClient,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}

	return coordinator, evalClient, nil
}

// runOnce records until the capture source ends, uploads, plays the
// response and reports the result.
func runOnce(ctx context.Context, coordinator *session.Coordinator, logger *slog.Logger) int {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := coordinator.Start(sigCtx)
	if err != nil {
		logger.Error("Failed to start attempt", slog.String("error", err.Error()))
		return 1
	}

	outcome := run.Wait(sigCtx)
	if errors.Is(outcome.Err, context.Canceled) {
		coordinator.Cancel()
		logger.Warn("Attempt interrupted")
		return 130
	}
	if outcome.Err != nil {
		logger.Error("Attempt failed", slog.String("session_id", outcome.SessionID), slog.String("error", outcome.Err.Error()))
		return 1
	}

	fmt.Printf("%s\nprogress: %.0f%%\n", outcome.Response.Text, outcome.Response.ProgressScore)
	logger.Info("Attempt finished",
		slog.String("session_id", outcome.SessionID),
		slog.Float64("progress_score", outcome.Response.ProgressScore),
		slog.Duration("elapsed", outcome.FinishedAt.Sub(outcome.StartedAt)),
	)
	return 0
}

// shutdown stops the HTTP server first so no new attempts can begin
func shutdown(coordinator *session.Coordinator, recordingArchive *archive.Archive, httpServer *server.HTTPServer, logger *slog.Logger) {
	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := coordinator.Close(); err != nil {
		logger.Error("Error closing coordinator", slog.String("error", err.Error()))
	}

	// Archive last so the final attempt's hook can still enqueue
	if recordingArchive != nil {
		recordingArchive.Close()
	}
}

// initLogger creates the structured logger from configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(output, opts))
	}
	return slog.New(slog.NewTextHandler(output, opts))
}
