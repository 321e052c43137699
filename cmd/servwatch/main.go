package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hazz-dev/servwatch/internal/alert"
	"github.com/hazz-dev/servwatch/internal/clock"
	"github.com/hazz-dev/servwatch/internal/compose"
	"github.com/hazz-dev/servwatch/internal/config"
	"github.com/hazz-dev/servwatch/internal/dashboard"
	"github.com/hazz-dev/servwatch/internal/event"
	"github.com/hazz-dev/servwatch/internal/logging"
	"github.com/hazz-dev/servwatch/internal/monitor"
	"github.com/hazz-dev/servwatch/internal/probe"
	"github.com/hazz-dev/servwatch/internal/schedule"
	"github.com/hazz-dev/servwatch/internal/server"
	"github.com/hazz-dev/servwatch/internal/storage"
	"github.com/hazz-dev/servwatch/internal/version"
)

var (
	cfgFile string
	envFile string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "servwatch",
		Short:        "Health and update monitor for a compose-managed game server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file; environment variables take precedence")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(statusCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the monitor daemon",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Load config and logger
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("version", version.Version),
		zap.String("server_url", cfg.Server.URL),
		zap.String("host_header", cfg.Server.HostHeader),
		zap.Strings("services", cfg.Compose.Services),
		zap.String("compose_file", cfg.Compose.File),
		zap.String("compose_path", cfg.Compose.Path),
		zap.Duration("check_interval", cfg.Monitor.CheckInterval.Duration),
		zap.Duration("restart_interval", cfg.Monitor.RestartInterval.Duration),
		zap.String("restart_schedule", cfg.Monitor.RestartSchedule),
	)

	// 2. Open the journal (if configured)
	var (
		journal     event.Store
		eventSource server.EventStore
	)
	if cfg.Storage.Path != "" {
		db, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		journal, eventSource = db, db
	}

	// 3. Build the event recorder and alerter (if configured)
	recorder := event.NewRecorder(journal, logger)
	var alerter *alert.Alerter
	if cfg.Alerts.Webhook.URL != "" {
		alerter = alert.New(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Cooldown.Duration, logger)
		recorder.SetOnEvent(alerter.Notify)
	}

	// 4. Build probes, controller and monitor
	clk := clock.Real()
	ctrl := compose.New(cfg.Compose, logger)
	mon := monitor.New(
		probe.NewHealthProbe(cfg.Server),
		probe.NewVersionProbe(cfg.Server, ctrl),
		ctrl,
		cfg.Compose.Services,
		monitor.Intervals{
			StartupDelay:    cfg.Monitor.StartupDelay.Duration,
			CheckInterval:   cfg.Monitor.CheckInterval.Duration,
			RestartInterval: cfg.Monitor.RestartInterval.Duration,
		},
		clk,
		recorder,
		logger,
	)

	// 5. Signal context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 6. Arm the daily restart (if configured)
	var restarter *schedule.Restarter
	var nextRestart func() time.Time
	if cfg.Schedule != nil {
		restarter = schedule.NewRestarter(*cfg.Schedule, cfg.Compose.Services, ctrl, clk, recorder, logger)
		restarter.Start(ctx)
		nextRestart = restarter.NextAt
	}

	// 7. Start the status API in background (if configured)
	var httpServer *http.Server
	serverErr := make(chan error, 1)
	if cfg.Status.Address != "" {
		apiServer := server.New(mon, eventSource, nextRestart, logger)
		mux := http.NewServeMux()
		mux.Handle("/api/", apiServer.Router())
		mux.Handle("/", dashboard.Handler())
		httpServer = &http.Server{
			Addr:              cfg.Status.Address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("listening", zap.String("address", cfg.Status.Address))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	// 8. Run the monitor loop
	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- mon.Run(ctx)
	}()

	// 9. Wait for signal or server error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server: %w", err)
		stop()
	}

	// 10. Graceful shutdown: cancel timers, let in-flight actions finish
	if restarter != nil {
		restarter.Stop()
	}
	if err := <-monitorDone; err != nil {
		logger.Error("monitor", zap.Error(err))
	}
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown", zap.Error(err))
		}
	}
	if alerter != nil {
		alerter.Wait()
	}
	logger.Info("shutdown complete")
	return runErr
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a one-off health and update check without acting on it",
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return executeCheck(cmd, cfg)
}

func statusCmd() *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "status",
		Short: "Print recent events from the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, limit)
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	return c
}

func runStatus(cmd *cobra.Command, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Path == "" {
		return fmt.Errorf("journal disabled: set STATE_DB or storage.path")
	}
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	return executeStatus(cmd, db, limit)
}
