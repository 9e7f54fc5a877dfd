package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wamux/internal/config"
	"wamux/internal/constants"
	"wamux/internal/credentials"
	"wamux/internal/database"
	"wamux/internal/events"
	"wamux/internal/media"
	"wamux/internal/models"
	"wamux/internal/retry"
	"wamux/internal/service"
	"wamux/internal/tracing"
	"wamux/internal/webhook"
	"wamux/pkg/whatsapp"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type cliOptions struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:           "wamux",
		Short:         "wamux - multi-session WhatsApp gateway with webhook dispatch",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (.json, .toml, .yaml); environment only when empty")
	rootCmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable debug logging (includes sensitive information)")

	serveCmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the HTTP API and session manager",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wamux %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		},
	}

	credentialsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect stored session credentials",
	}
	credentialsCmd.AddCommand(&cobra.Command{
		Use:          "list",
		Short:        "List sessions with stored credentials",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			return listCredentials(cmd.OutOrStdout(), cfg.Credentials)
		},
	})

	rootCmd.AddCommand(serveCmd, versionCmd, credentialsCmd)
	return rootCmd
}

func loadConfig(path string) (*models.Config, error) {
	if path == "" {
		return config.LoadFromEnvironment()
	}
	return config.LoadConfig(path)
}

func listCredentials(w io.Writer, cfg models.CredentialsConfig) error {
	store, err := credentials.NewStore(cfg)
	if err != nil {
		return err
	}
	ids, err := store.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No stored sessions")
		return nil
	}
	for _, id := range ids {
		state := "empty"
		if store.Exists(id) {
			state = "stored"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, state, store.Dir(id))
	}
	return nil
}

func newLogger(level string, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	applyLogLevel(logger, level, verbose)
	return logger
}

func applyLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

func runServe(parent context.Context, opts *cliOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel, opts.verbose)
	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wamux")

	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = Version
	}
	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	store, closeStore, err := openWebhookStore(ctx, cfg.Webhooks, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	creds, err := credentials.NewStore(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	registry := events.NewRegistry(logger)
	dispatcher := webhook.NewDispatcher(store, cfg.Webhooks, logger)

	var (
		capturer  service.MediaCapturer
		scheduler *service.Scheduler
	)
	if cfg.Media.Enabled {
		saver, err := media.NewSaver(cfg.Media, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize media capture: %w", err)
		}
		capturer = saver

		scheduler = service.NewScheduler(saver, cfg.Media.RetentionDays, cfg.Media.CleanupIntervalHours, logger)
		go scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	forwarder := service.NewForwarder(dispatcher, capturer, time.Duration(cfg.Media.DownloadTimeoutSec)*time.Second, logger)
	forwarder.Start(registry)

	connector := whatsapp.NewGatewayConnector(cfg.Gateway.URL, cfg.Gateway.APIKey,
		time.Duration(cfg.Gateway.TimeoutSec)*time.Second, logger.WithField(constants.LogFieldComponent, "gateway"))
	manager := service.NewSessionManager(connector, creds, registry, cfg.Sessions, logger)

	if opts.configPath != "" {
		watcher := config.NewConfigWatcher(opts.configPath, logger)
		watcher.OnConfigChange(func(next *models.Config) {
			applyLogLevel(logger, next.LogLevel, opts.verbose)
			if scheduler != nil {
				scheduler.SetRetention(next.Media.RetentionDays)
			}
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	if cfg.Sessions.LoadOnStartup {
		if _, err := manager.LoadSessionsFromStorage(ctx); err != nil {
			logger.WithError(err).Warn("Failed to load stored sessions")
		}
	}

	server := NewServer(cfg.Server, manager, dispatcher, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serverErrCh:
		logger.Error(runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to shutdown HTTP server gracefully")
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Sessions did not stop in time")
	}
	forwarder.Stop()
	dispatcher.Wait()

	logger.Info("Shutdown completed")
	return runErr
}

// openWebhookStore selects the subscription table backend. SQLite opens
// are retried since the file may be briefly locked by another process.
func openWebhookStore(ctx context.Context, cfg models.WebhooksConfig, logger *logrus.Logger) (webhook.Store, func(), error) {
	if cfg.Store != "sqlite" {
		store, err := webhook.NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open webhook file: %w", err)
		}
		logger.WithField(constants.LogFieldFilePath, store.Path()).Info("Using file webhook store")
		return store, func() {}, nil
	}

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultBackoffInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultBackoffMaxSec) * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(ctx, cfg.DBPath)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}

	logger.WithField(constants.LogFieldFilePath, cfg.DBPath).Info("Using SQLite webhook store")
	closeFn := func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}
	return database.NewWebhookStore(db), closeFn, nil
}
