package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/norish-recipes/norish-sub000/internal/cmd/client"
	serverrun "github.com/norish-recipes/norish-sub000/internal/cmd/server"
	pebblestore "github.com/norish-recipes/norish-sub000/internal/storage/pebble"
	logpkg "github.com/norish-recipes/norish-sub000/pkg/log"
)

func main() {
	level := os.Getenv("NORISH_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "norishd",
		Short: "Norish background service CLI",
		Long:  "norishd runs and manages the Norish background coordination service: durable job queues, workers, and the live event stream.",
	}

	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the background service",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			configPath, _ := cmd.Flags().GetString("config")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			if logLevel != "" {
				_ = os.Setenv("NORISH_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("NORISH_LOG_FORMAT", logFormat)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				HTTPAddr:      httpAddr,
				ConfigPath:    configPath,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serveCmd.Flags().String("data-dir", "", "Data directory (defaults to the OS application data directory)")
	serveCmd.Flags().String("http", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("config", os.Getenv("NORISH_CONFIG"), "Path to JSON config file")
	serveCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serveCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms")
	serveCmd.Flags().String("log-level", os.Getenv("NORISH_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serveCmd.Flags().String("log-format", os.Getenv("NORISH_LOG_FORMAT"), "Log format: text|json")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(clientcmd.NewEnqueueCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewStatusCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewEventsCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewPolicyCommand(apiURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("NORISH_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8686"
}
