package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/adapter/pamsock"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/api"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/config"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/directory"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/metrics"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/metrics/prometheus"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/pam"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nslcd daemon",
	Long: `Start the nslcd daemon with the specified configuration.

The daemon listens on a Unix socket for PAM requests from local client
processes and performs all directory operations on their behalf. It
runs in the foreground; use a process supervisor (systemd, runit) for
daemonization.

Examples:
  # Start with default config location
  nslcd start

  # Start with custom config file
  nslcd start --config /srv/nslcd/config.yaml

  # Override the log level from the environment
  NSLCD_LOGGING_LEVEL=DEBUG nslcd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	// The log level is hot-reloadable; everything else needs a restart.
	watchPath := GetConfigFile()
	if watchPath == "" {
		watchPath = config.GetDefaultConfigPath()
	}
	if err := config.Watch(watchPath, func(logging config.LoggingConfig) {
		logger.SetLevel(logging.Level)
		logger.SetFormat(logging.Format)
		logger.Info("logging configuration reloaded", "level", logging.Level, "format", logging.Format)
	}); err != nil {
		logger.Warn("config watch unavailable", logger.Err(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var pamMetrics metrics.PAMMetrics
	if cfg.HTTP.Enabled {
		metrics.InitRegistry()
		pamMetrics = prometheus.NewPAMMetrics()
		logger.Info("metrics enabled", "port", cfg.HTTP.Port)
	} else {
		logger.Info("metrics collection disabled")
	}

	dir := directory.NewClient(cfg.Directory)
	handler := pam.NewHandler(cfg, dir)
	adapter := pamsock.New(cfg.Socket, cfg.ShutdownTimeout, handler, pamMetrics)

	serverDone := make(chan error, 2)
	go func() {
		serverDone <- adapter.Serve(ctx)
	}()

	if cfg.HTTP.Enabled {
		httpServer := api.NewServer(cfg.HTTP, directoryProbe(dir))
		go func() {
			serverDone <- httpServer.Start(ctx)
		}()
		logger.Info("HTTP endpoint enabled", "port", cfg.HTTP.Port)
	}

	logger.Info("daemon is running", "socket", cfg.Socket.Path)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping")
		if err := <-serverDone; err != nil {
			logger.Error("shutdown error", logger.Err(err))
			os.Exit(1)
		}
		logger.Info("daemon stopped gracefully")
	case err := <-serverDone:
		cancel()
		if err != nil {
			return fmt.Errorf("daemon failed: %w", err)
		}
		logger.Info("daemon stopped")
	}
	return nil
}

// directoryProbe builds the readiness check: open and close one
// daemon-identity session.
func directoryProbe(dir *directory.Client) api.ReadinessProbe {
	return func(ctx context.Context) error {
		session, err := dir.Open(ctx, directory.Credentials{})
		if err != nil {
			return err
		}
		session.Close()
		return nil
	}
}
