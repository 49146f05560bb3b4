package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/admission"
	"github.com/clipforge/clipforge/config"
	"github.com/clipforge/clipforge/downloader"
	"github.com/clipforge/clipforge/logger"
	"github.com/clipforge/clipforge/pipeline"
	"github.com/clipforge/clipforge/publish"
	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/storage"
	"github.com/clipforge/clipforge/sym"
	"github.com/clipforge/clipforge/transcoder"
	"github.com/clipforge/clipforge/transcribe"
	"github.com/clipforge/clipforge/worker"
)

// WorkerCmd represents the worker command - the job-processing runtime
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: sym.Worker + " Run the ClipForge worker pool",
	Long: sym.Worker + ` Worker - durable job processing.

The worker pool claims jobs from the SQLite queue and runs the media
pipeline: ingest, transcribe, highlight detection, rendering, thumbnails,
and publishing. Heartbeats keep claims alive; a recovery ticker re-queues
jobs whose worker died.

Example:
  clipforge worker start            # Start pool in foreground
  clipforge worker start --slots 2  # Override slot count`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// WorkerStartCmd starts the worker pool in foreground.
var WorkerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the worker pool",
	Long: `Start the worker pool in foreground mode.

The pool will:
- Verify required binaries (ffmpeg, ffprobe, yt-dlp) and scratch space
- Recover jobs orphaned by a previous crash
- Claim and process jobs until interrupted (Ctrl+C), then drain gracefully

Jobs still running when the drain timeout expires lose their heartbeat and
are re-queued by recovery on the next worker.`,
	RunE: runWorkerStart,
}

// ReadyCmd prints a JSON readiness report and exits non-zero on failure.
var ReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Check worker readiness",
	Long: `Check that the worker's dependencies are available: external binaries,
scratch space, database, and queue. Prints a JSON report and exits 0 when
everything passes, 1 otherwise.`,
	RunE:          runReady,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var workerSlotsFlag int

func init() {
	WorkerStartCmd.Flags().IntVar(&workerSlotsFlag, "slots", 0, "Number of worker slots (0 = auto from CPU count)")
	WorkerCmd.AddCommand(WorkerStartCmd)
}

func runWorkerStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := worker.Bootstrap(cfg.Storage.TempRoot); err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	clock := queue.SystemClock()
	q := queue.NewQueue(database, clock, logger.Logger)
	wc, err := buildWorkerContext(cfg, database, q)
	if err != nil {
		return err
	}

	poolCfg := workerConfig(cfg)
	if workerSlotsFlag > 0 {
		poolCfg.Slots = workerSlotsFlag
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := worker.NewPool(poolCfg, q, pipeline.NewRegistry(), wc, logger.Logger)
	pool.Start(ctx)

	watcher := watchConfig(pool)
	if watcher != nil {
		defer watcher.Stop()
	}

	fmt.Printf("%s Worker pool started\n", sym.Worker)
	fmt.Printf("  Database:  %s\n", cfg.Database.Path)
	fmt.Printf("  Storage:   %s\n", cfg.Storage.Root)
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Worker)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Printf("\n%s Draining worker pool...\n", sym.Worker)
	pool.Stop()
	cancel()

	fmt.Printf("%s Worker pool stopped\n", sym.Worker)
	return nil
}

// buildWorkerContext assembles the handler ports from configuration.
func buildWorkerContext(cfg *config.Config, database *sql.DB, q *queue.Queue) (*pipeline.WorkerContext, error) {
	blobs, err := storage.NewLocal(cfg.Storage.Root, logger.Logger)
	if err != nil {
		return nil, err
	}

	if cfg.Transcribe.Command == "" {
		return nil, fmt.Errorf("transcribe.command is not configured; set it in %s or CLIPFORGE_TRANSCRIBE_COMMAND", config.ConfigFileName)
	}
	engine, err := transcribe.NewCommand(cfg.Transcribe.Command,
		time.Duration(cfg.Transcribe.TimeoutSeconds)*time.Second, logger.Logger)
	if err != nil {
		return nil, err
	}

	store := pipeline.NewStore(database)
	clock := queue.SystemClock()
	tokens := publish.NewTokens(store, clock, publish.TokenConfig{
		TikTokClientKey:     cfg.Publish.TikTok.ClientKey,
		TikTokClientSecret:  cfg.Publish.TikTok.ClientSecret,
		YouTubeClientID:     cfg.Publish.YouTube.ClientID,
		YouTubeClientSecret: cfg.Publish.YouTube.ClientSecret,
	}, logger.Logger)

	return &pipeline.WorkerContext{
		Store:      store,
		Jobs:       q,
		JobStore:   q.Store(),
		Storage:    blobs,
		Clock:      clock,
		Log:        logger.Logger,
		Reporter:   &pipeline.LogReporter{Log: logger.Logger},
		Transcribe: engine,
		Transcode:  transcoder.NewRunner(logger.Logger),
		Download:   downloader.NewFetcher(logger.Logger),
		Tokens:     tokens,
		Publishers: map[string]pipeline.Publisher{
			pipeline.PlatformTikTok:  publish.NewTikTok(logger.Logger),
			pipeline.PlatformYouTube: publish.NewYouTube(logger.Logger),
		},
		Admission: admission.NewController(database, clock, logger.Logger),
		TempRoot:  cfg.Storage.TempRoot,
	}, nil
}

// workerConfig maps config file values onto the pool config, leaving zeros
// for the pool's own defaults.
func workerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		Slots:             cfg.Worker.Slots,
		HeartbeatInterval: time.Duration(cfg.Worker.HeartbeatSeconds) * time.Second,
		RecoveryInterval:  time.Duration(cfg.Worker.RecoveryIntervalSeconds) * time.Second,
		StaleAfter:        time.Duration(cfg.Worker.StaleAfterSeconds) * time.Second,
		IdlePollMin:       time.Duration(cfg.Worker.IdlePollMinMs) * time.Millisecond,
		IdlePollMax:       time.Duration(cfg.Worker.IdlePollMaxMs) * time.Millisecond,
		DrainTimeout:      time.Duration(cfg.Worker.DrainTimeoutSeconds) * time.Second,
	}
}

// watchConfig retunes the running pool when the project config file changes.
// Returns nil when there is no config file to watch.
func watchConfig(pool *worker.Pool) *config.Watcher {
	path := config.UserConfigPath()
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	watcher, err := config.NewWatcher(path)
	if err != nil {
		logger.Warnw("Config watch unavailable", "path", path, "error", err)
		return nil
	}
	watcher.OnReload(func(cfg *config.Config) error {
		pool.Retune(
			time.Duration(cfg.Worker.IdlePollMinMs)*time.Millisecond,
			time.Duration(cfg.Worker.IdlePollMaxMs)*time.Millisecond,
			time.Duration(cfg.Worker.DrainTimeoutSeconds)*time.Second)
		return nil
	})
	watcher.Start()
	return watcher
}

func runReady(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database, queue.SystemClock(), logger.Logger)
	report := worker.CheckReadiness(database, q, cfg.Storage.TempRoot)

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))

	if !report.OK {
		os.Exit(1)
	}
	return nil
}
