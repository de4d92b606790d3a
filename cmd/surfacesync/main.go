package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"surfacesync/internal/config"
	"surfacesync/internal/logger"
	"surfacesync/internal/refresh"
	"surfacesync/pkg/logging"
	"surfacesync/pkg/models"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "surfacesync",
		Short: "Keeps home-screen surfaces in sync with incoming pushes",
		Long: "surfacesync turns push payloads into cached media and shared surface state, " +
			"and reconciles surface consumption receipts with the system of record",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(pushCmd())
	rootCmd.AddCommand(receiptCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config and builds the logger. An empty config path is allowed:
// defaults and SURFACESYNC_* variables are enough for a local deployment.
func setup() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Warn("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level,
		logger.WithEncoding(cfg.Logging.Format),
		logger.WithOutputPaths(cfg.Logging.OutputPaths...),
	)
	if err != nil {
		earlyLog.Warn("Failed to init logger: %v", err)
		return nil, nil, err
	}

	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, push consumer and reconcile schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting surfacesync")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				app.Shutdown(context.Background())
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

func pushCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Dispatch one push payload read from a file or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			raw, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg, log)
			defer app.Shutdown(context.Background())
			if err := app.InitializeCore(ctx); err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			if err := app.dispatcher.HandleRaw(ctx, raw); err != nil {
				return err
			}
			app.orchestrator.Flush()

			fmt.Fprintln(cmd.OutOrStdout(), "dispatched")
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Payload file, - for stdin")
	return cmd
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}

func receiptCmd() *cobra.Command {
	var (
		messageID  string
		consumedAt int64
	)

	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Record that a surface consumed a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			app := NewApp(cfg, log)
			defer app.Shutdown(context.Background())
			if err := app.InitializeReceipts(ctx); err != nil {
				return fmt.Errorf("failed to open receipt queue: %w", err)
			}

			if consumedAt == 0 {
				consumedAt = time.Now().UnixMilli()
			}
			record := models.ReceiptRecord{MessageID: messageID, ConsumedAtMillis: consumedAt}
			if err := app.queue.Append(ctx, record); err != nil {
				return err
			}

			return json.NewEncoder(cmd.OutOrStdout()).Encode(record)
		},
	}

	cmd.Flags().StringVar(&messageID, "message-id", "", "Consumed message id")
	cmd.Flags().Int64Var(&consumedAt, "consumed-at", 0, "Consumption time in unix millis (default now)")
	cmd.MarkFlagRequired("message-id")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Commit queued receipts to the system of record once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg, log)
			defer app.Shutdown(context.Background())
			if err := app.InitializeCore(ctx); err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			result, runErr := app.scheduler.Trigger(ctx)
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
				"runId":     result.RunID,
				"records":   result.Records,
				"distinct":  result.Distinct,
				"committed": result.Committed,
				"failed":    result.Failed,
				"removed":   result.Removed,
				"corrupt":   result.Corrupt,
			}); err != nil {
				return err
			}
			return runErr
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print redraw signals as they are written to the signal directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			enc := json.NewEncoder(cmd.OutOrStdout())
			watcher := refresh.NewWatcher(cfg.Refresh.SignalDir, log)
			return watcher.Watch(ctx, func(event models.RedrawEvent) {
				if err := enc.Encode(event); err != nil {
					log.WarnwCtx(ctx, "Failed to print redraw event", "error", err)
				}
			})
		},
	}
}
