package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"blobmove/internal/checkpoint"
	"blobmove/internal/config"
	"blobmove/internal/logger"
	"blobmove/internal/metrics"
	"blobmove/internal/progress"
	"blobmove/internal/storage"
	"blobmove/internal/transfer"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "blobmove",
	Short: "Move large objects to and from S3-compatible storage",
	Long:  `A concurrent large-object transfer tool for S3-compatible stores, splitting objects into parts sized within service limits and moving them through a bounded worker queue, with resume support for interrupted uploads.`,
}

var putCmd = &cobra.Command{
	Use:   "put LOCAL_FILE BUCKET/KEY",
	Short: "Upload a local file to the object store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(cmd, func(ctx context.Context, c *transfer.Coordinator) error {
			bucket, key, err := splitBucketKey(args[1])
			if err != nil {
				return err
			}
			return c.Upload(ctx, bucket, key, args[0])
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get BUCKET/KEY LOCAL_FILE",
	Short: "Download an object from the object store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(cmd, func(ctx context.Context, c *transfer.Coordinator) error {
			bucket, key, err := splitBucketKey(args[0])
			if err != nil {
				return err
			}
			return c.Download(ctx, bucket, key, args[1])
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	// Store flags
	rootCmd.PersistentFlags().String("endpoint", "", "Object store endpoint")
	rootCmd.PersistentFlags().String("access-key", "", "Object store access key")
	rootCmd.PersistentFlags().String("secret-key", "", "Object store secret key")
	rootCmd.PersistentFlags().Bool("secure", true, "Use HTTPS")

	// Transfer flags
	rootCmd.PersistentFlags().Int64("part-size", 16777216, "Requested part size in bytes")
	rootCmd.PersistentFlags().Int64("multipart-threshold", 67108864, "Multipart transfer threshold in bytes")
	rootCmd.PersistentFlags().Int("workers", 8, "Number of concurrent part-transfer workers")
	rootCmd.PersistentFlags().Int("queue-capacity", 64, "Maximum buffered part tasks (0 for unbounded)")
	rootCmd.PersistentFlags().String("journal", "./transfer.db", "Resume journal database file")
	rootCmd.PersistentFlags().Bool("resume", false, "Resume an interrupted multipart upload")
	rootCmd.PersistentFlags().Bool("dry-run", false, "Print the transfer plan without transferring")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address to serve Prometheus metrics on (empty to disable)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug/info/warn/error)")

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
}

func runTransfer(cmd *cobra.Command, run func(context.Context, *transfer.Coordinator) error) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	client, err := storage.NewMinIOClient(storage.Config{
		Endpoint:  cfg.Store.Endpoint,
		AccessKey: cfg.Store.AccessKey,
		SecretKey: cfg.Store.SecretKey,
		Secure:    cfg.Store.Secure,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}

	var journal checkpoint.Store
	if cfg.Transfer.Resume {
		journal, err = checkpoint.NewSQLiteStore(cfg.Transfer.Journal)
		if err != nil {
			return fmt.Errorf("failed to open resume journal: %w", err)
		}
		defer journal.Close()
	}

	collector := metrics.New()
	if cfg.Transfer.MetricsAddr != "" {
		go func() {
			if err := collector.StartServer(cfg.Transfer.MetricsAddr); err != nil {
				log.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	tracker := progress.NewTracker()
	reporter := progress.NewReporter(tracker, log, 2*time.Second)

	coordinator := transfer.NewCoordinator(transfer.Options{
		PartSize:           cfg.Transfer.PartSize,
		MultipartThreshold: cfg.Transfer.MultipartThreshold,
		Workers:            cfg.Transfer.Workers,
		QueueCapacity:      cfg.Transfer.QueueCapacity,
		DryRun:             cfg.Transfer.DryRun,
	}, transfer.DefaultLimits, client, journal, collector, tracker, log)

	// Graceful shutdown: first signal cancels the transfer; workers stop
	// between parts and journaled uploads stay resumable.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, stopping transfer...")
		cancel()
	}()

	if !cfg.Transfer.DryRun {
		reporter.Start()
		defer reporter.Stop()
	}

	return run(ctx, coordinator)
}

// splitBucketKey splits a BUCKET/KEY path into its bucket and key.
func splitBucketKey(path string) (string, string, error) {
	path = strings.TrimPrefix(path, "s3://")
	bucket, key, found := strings.Cut(path, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid object path %q, expected BUCKET/KEY", path)
	}
	return bucket, key, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
