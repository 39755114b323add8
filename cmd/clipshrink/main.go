package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/gwlsn/clipshrink"
	"github.com/gwlsn/clipshrink/internal/api"
	"github.com/gwlsn/clipshrink/internal/config"
	"github.com/gwlsn/clipshrink/internal/ffmpeg"
	"github.com/gwlsn/clipshrink/internal/jobs"
	"github.com/gwlsn/clipshrink/internal/logger"
	"github.com/gwlsn/clipshrink/internal/staging"
	"github.com/gwlsn/clipshrink/internal/store"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file (default: ./config/clipshrink.yaml)")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	dataDir := flag.String("data", "", "Override data directory from config")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			cfgPath = envPath
		} else {
			cfgPath = "config/clipshrink.yaml"
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Init("info", "text")
		logger.Warn("Could not load config", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
	}

	// Environment overrides, then flags
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("CLIPSHRINK_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *port > 0 {
		cfg.Port = *port
	}
	cfg.Workers = jobs.ClampWorkerCount(cfg.Workers)

	logger.Init(cfg.LogLevel, cfg.LogFormat)

	for _, dir := range []string{cfg.OutputDir, cfg.ManifestDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("Could not create directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	jobStore, err := store.InitStore(context.Background(), cfg.DBPath())
	if err != nil {
		logger.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer jobStore.Close()

	if err := ffmpeg.Available(cfg.FFmpegPath); err != nil {
		logger.Warn("ffmpeg not found, jobs will fail until it is installed", "path", cfg.FFmpegPath, "error", err)
	}

	prober := ffmpeg.NewProber(cfg.FFprobePath)
	transcoder := ffmpeg.NewTranscoder(cfg.FFmpegPath, prober)
	bus := jobs.NewBus(cfg.EventHistory)
	runner := jobs.NewRunner(jobStore, transcoder, staging.NewStager(cfg.ManifestDir), bus, jobs.RunnerOptions{
		PersistAttempts: cfg.PersistAttempts,
		PersistBackoff:  cfg.PersistBackoff,
	})
	pool := jobs.NewWorkerPool(runner, cfg.Workers, cfg.QueueSize)
	orch := jobs.NewOrchestrator(jobStore, pool, bus, prober, cfg.OutputDir)

	stopRejectLog := bus.OnRejected(func(recordingID, message string) {
		logger.Debug("Batch entry rejected", "recording_id", recordingID, "message", message)
	})
	defer stopRejectLog()

	handler := api.NewHandler(orch, cfg, cfgPath)
	router := api.NewRouter(handler)

	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		printBanner(cfg, cfgPath, jobStore.Path())
	}

	pool.Start()
	logger.Info("clipshrink started", "version", clipshrink.Version, "workers", cfg.Workers, "port", cfg.Port)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		pool.Stop()

		// SSE streams never finish on their own, so fall back to Close.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			server.Close()
		}
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err)
		pool.Stop()
		jobStore.Close()
		os.Exit(1) //nolint:gocritic // store closed explicitly above
	}

	logger.Info("Server stopped")
}

func printBanner(cfg *config.Config, cfgPath, dbPath string) {
	output := cfg.OutputDir
	if output == "" {
		output = "(next to source)"
	}
	queue := "unbounded"
	if cfg.QueueSize > 0 {
		queue = humanize.Comma(int64(cfg.QueueSize)) + " jobs"
	}
	dbSize := "new"
	if info, err := os.Stat(dbPath); err == nil {
		dbSize = humanize.Bytes(uint64(info.Size()))
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                        CLIPSHRINK                         ║")
	fmt.Println("║            Batch transcoding for recorded clips           ║")
	versionLine := fmt.Sprintf("v%s", clipshrink.Version)
	padding := 59 - len(versionLine)
	fmt.Printf("║%*s%s%*s║\n", padding/2, "", versionLine, (padding+1)/2, "")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Config:       %s\n", cfgPath)
	fmt.Printf("  Database:     %s (%s)\n", dbPath, dbSize)
	fmt.Printf("  Output:       %s\n", output)
	fmt.Printf("  Workers:      %d\n", cfg.Workers)
	fmt.Printf("  Queue:        %s\n", queue)
	fmt.Printf("  FFmpeg:       %s\n", cfg.FFmpegPath)
	fmt.Printf("  FFprobe:      %s\n", cfg.FFprobePath)
	fmt.Printf("  Port:         %d\n", cfg.Port)
	fmt.Println()
}
