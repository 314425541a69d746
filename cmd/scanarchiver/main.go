package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"

	"github.com/cuemby/scanarchiver/pkg/acs"
	"github.com/cuemby/scanarchiver/pkg/backfill"
	"github.com/cuemby/scanarchiver/pkg/config"
	"github.com/cuemby/scanarchiver/pkg/cursor"
	"github.com/cuemby/scanarchiver/pkg/live"
	"github.com/cuemby/scanarchiver/pkg/log"
	"github.com/cuemby/scanarchiver/pkg/metrics"
	"github.com/cuemby/scanarchiver/pkg/objectstore"
	"github.com/cuemby/scanarchiver/pkg/partition"
	"github.com/cuemby/scanarchiver/pkg/resume"
	"github.com/cuemby/scanarchiver/pkg/scanapi"
	"github.com/cuemby/scanarchiver/pkg/upload"
	"github.com/cuemby/scanarchiver/pkg/writer"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "scanarchiver",
	Short:   "scanarchiver archives a Canton Network ledger into partitioned columnar files",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"scanarchiver version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(acsCmd)
	rootCmd.AddCommand(resumeCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// buildStore constructs the object-store collaborator named by cfg. When
// GCS is disabled, an in-process store is used so backfill/live/acs can
// still run end to end against the local filesystem layout.
func buildStore(ctx context.Context, cfg config.Config) (objectstore.Store, error) {
	if !cfg.GCSEnabled {
		return objectstore.NewMemoryStore(), nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return objectstore.NewGCSStore(client, cfg.GCSBucket), nil
}

func buildAPIClient(cfg config.Config) *scanapi.Client {
	return scanapi.NewClient(scanapi.Config{
		BaseURL:     cfg.ScanURL,
		Timeout:     cfg.APITimeout,
		InsecureTLS: cfg.InsecureTLS,
	})
}

func buildWriterPool(cfg config.Config, workers int) (*writer.Pool, error) {
	if err := writer.EnsureDir(cfg.RawDir); err != nil {
		return nil, fmt.Errorf("ensure raw dir: %w", err)
	}
	if err := writer.EnsureDir(cfg.TmpDir); err != nil {
		return nil, fmt.Errorf("ensure tmp dir: %w", err)
	}
	return writer.NewPool(workers, writer.CSVEncoder{}), nil
}

func buildUploadQueue(cfg config.Config, store objectstore.Store) *upload.Queue {
	return upload.NewQueue(upload.Config{
		Concurrency:    cfg.GCSUploadConcurrency,
		CountHighWater: cfg.GCSQueueHighWater,
		CountLowWater:  cfg.GCSQueueLowWater,
		BytesHighWater: cfg.GCSByteHighWater,
		BytesLowWater:  cfg.GCSByteLowWater,
		DeadLetterPath: cfg.DataDir + "/dead-letter.jsonl",
	}, store)
}

func waitForSignal(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func startMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// Backfill command

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run a parallel historical backfill over a fixed time window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		migrationID, _ := cmd.Flags().GetInt64("migration-id")
		numSlices, _ := cmd.Flags().GetInt("slices")
		maxAge, _ := cmd.Flags().GetDuration("max-age")
		minAge, _ := cmd.Flags().GetDuration("min-age")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		ctx := waitForSignal(context.Background())
		store, err := buildStore(ctx, cfg)
		if err != nil {
			return err
		}
		api := buildAPIClient(cfg)
		pool, err := buildWriterPool(cfg, 4)
		if err != nil {
			return err
		}
		defer pool.Shutdown()
		queue := buildUploadQueue(cfg, store)
		defer queue.Stop()

		cursorStore := cursor.NewStore(cfg.CursorDir, 10)
		key := cursor.Key{Stream: "backfill", MigrationID: migrationID}
		cur, err := cursor.Load(key, cursorStore)
		if err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}

		startMetricsServer(metricsAddr)

		engine := backfill.NewEngine(api, pool, queue, cur, backfill.Config{
			MigrationID: migrationID,
			NumSlices:   numSlices,
			PageSize:    cfg.BatchSize,
			RemoteDir:   cfg.RawDir,
		})

		now := time.Now().UTC()
		return engine.Run(ctx, now.Add(-minAge), now.Add(-maxAge))
	},
}

func init() {
	backfillCmd.Flags().Int64("migration-id", 0, "Migration ID to backfill")
	backfillCmd.Flags().Int("slices", 8, "Number of parallel time-range slices")
	backfillCmd.Flags().Duration("max-age", 24*time.Hour*365, "How far back the backfill window starts")
	backfillCmd.Flags().Duration("min-age", 0, "How close to now the backfill window ends")
	backfillCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus metrics listen address")
}

// Live command

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Poll the updates endpoint forward from the cursor's resume position",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		migrationID, _ := cmd.Flags().GetInt64("migration-id")
		pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		ctx := waitForSignal(context.Background())
		store, err := buildStore(ctx, cfg)
		if err != nil {
			return err
		}
		api := buildAPIClient(cfg)
		pool, err := buildWriterPool(cfg, 2)
		if err != nil {
			return err
		}
		defer pool.Shutdown()
		queue := buildUploadQueue(cfg, store)
		defer queue.Stop()

		cursorStore := cursor.NewStore(cfg.CursorDir, 10)
		key := cursor.Key{Stream: "live", MigrationID: migrationID}
		cur, err := cursor.Load(key, cursorStore)
		if err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}

		if scanner, serr := resume.Open(cfg.DataDir, store); serr == nil {
			_ = scanner.SeedCursorIfEmpty(ctx, cur, cfg.RawDir+"/"+string(partition.Live)+"/", migrationID)
			scanner.Close()
		}

		startMetricsServer(metricsAddr)

		engine := live.NewEngine(api, pool, queue, cur, live.Config{
			MigrationID:  migrationID,
			PageSize:     cfg.BatchSize,
			PollInterval: pollInterval,
			RemoteDir:    cfg.RawDir,
		})
		return engine.Run(ctx)
	},
}

func init() {
	liveCmd.Flags().Int64("migration-id", 0, "Migration ID to poll")
	liveCmd.Flags().Duration("poll-interval", 5*time.Second, "Interval between polls")
	liveCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "Prometheus metrics listen address")
}

// ACS command

var acsCmd = &cobra.Command{
	Use:   "acs",
	Short: "Take an active-contract-set snapshot for a migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		migrationID, _ := cmd.Flags().GetInt64("migration-id")
		before, _ := cmd.Flags().GetDuration("before")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		ctx := waitForSignal(context.Background())
		store, err := buildStore(ctx, cfg)
		if err != nil {
			return err
		}
		api := buildAPIClient(cfg)
		pool, err := buildWriterPool(cfg, 2)
		if err != nil {
			return err
		}
		defer pool.Shutdown()
		queue := buildUploadQueue(cfg, store)
		defer queue.Stop()

		startMetricsServer(metricsAddr)

		engine := acs.NewEngine(api, pool, queue, store, acs.Config{
			MigrationID: migrationID,
			PageSize:    cfg.BatchSize,
			RemoteDir:   cfg.RawDir,
		})
		return engine.Run(ctx, time.Now().UTC().Add(-before))
	},
}

func init() {
	acsCmd.Flags().Int64("migration-id", 0, "Migration ID to snapshot")
	acsCmd.Flags().Duration("before", 0, "Take the snapshot before now minus this duration")
	acsCmd.Flags().String("metrics-addr", "127.0.0.1:9092", "Prometheus metrics listen address")
}

// Resume command

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Scan the object store and seed a cursor's resume position when none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		migrationID, _ := cmd.Flags().GetInt64("migration-id")
		stream, _ := cmd.Flags().GetString("stream")
		prefix, _ := cmd.Flags().GetString("prefix")

		ctx := context.Background()
		store, err := buildStore(ctx, cfg)
		if err != nil {
			return err
		}

		scanner, err := resume.Open(cfg.DataDir, store)
		if err != nil {
			return fmt.Errorf("open scanner: %w", err)
		}
		defer scanner.Close()

		cursorStore := cursor.NewStore(cfg.CursorDir, 10)
		key := cursor.Key{Stream: stream, MigrationID: migrationID}
		cur, err := cursor.Load(key, cursorStore)
		if err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}

		if err := scanner.SeedCursorIfEmpty(ctx, cur, prefix, migrationID); err != nil {
			return err
		}
		fmt.Printf("resume position for %s/migration=%d: %s\n", stream, migrationID, cur.State().ConfirmedBefore)
		return nil
	},
}

func init() {
	resumeCmd.Flags().Int64("migration-id", 0, "Migration ID")
	resumeCmd.Flags().String("stream", "backfill", "Cursor stream to seed (backfill, live)")
	resumeCmd.Flags().String("prefix", "", "Object-store prefix to scan")
	resumeCmd.MarkFlagRequired("prefix")
}
