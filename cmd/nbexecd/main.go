package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nbexec/internal/config"
	"nbexec/internal/console"
	"nbexec/internal/events"
	"nbexec/internal/logging"
	"nbexec/internal/rpc"
)

const version = "0.1.0"

var (
	// Global flags
	verbose    bool
	configPath string
	listenAddr string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "nbexecd",
	Short: "nbexecd - notebook chunk execution daemon",
	Long: `nbexecd owns a single shared interactive Go console and sequences
notebook code chunks through it, one at a time, across documents.

Clients queue chunks and mutate pending work over HTTP; execution
progress streams to WebSocket observers in order. Because the console
is a stateful single-threaded resource, chunks execute strictly
serially in document order.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the daemon.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the execution daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// versionCmd prints the version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the nbexecd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nbexecd %s\n", version)
	},
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}

	if err := logging.Initialize(cfg.Logging.Dir, logging.Options{
		Enabled:    cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return err
	}
	defer logging.CloseAll()

	cons, err := console.NewInterpreter(cfg.Console.InputBuffer)
	if err != nil {
		return fmt.Errorf("failed to start console: %w", err)
	}
	defer cons.Close()

	hub := events.NewHub(cfg.Queue.EventBuffer, cfg.Queue.SubscriberLimit)
	svc := rpc.NewService(cons, hub, cfg.Queue.TaskBuffer)

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	srv := rpc.NewServer(svc, cfg.Server.Listen, shutdownTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("nbexecd starting",
		zap.String("version", version),
		zap.String("listen", cfg.Server.Listen))

	if err := srv.Serve(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}

	logger.Info("nbexecd stopped")
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
