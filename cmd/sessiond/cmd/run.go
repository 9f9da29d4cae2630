package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	opshttp "github.com/partsbay/sessiond/internal/adapter/inbound/http"
	"github.com/partsbay/sessiond/internal/adapter/outbound/identity"
	"github.com/partsbay/sessiond/internal/adapter/outbound/notify"
	"github.com/partsbay/sessiond/internal/adapter/outbound/state"
	"github.com/partsbay/sessiond/internal/config"
	"github.com/partsbay/sessiond/internal/domain/session"
	"github.com/partsbay/sessiond/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the resident session agent",
	Long: `Run the resident session agent for one account.

The agent claims a session slot for the account, evicting the
longest-idle session if the account is at its limit, then holds the
slot with a periodic heartbeat. If another login evicts this session,
the agent signs out and exits.

Examples:
  # In-memory store (single machine, testing)
  sessiond run --account alice

  # Shared Redis store
  SESSIOND_STORE_BACKEND=redis sessiond run --account alice

  # With the ops listener for health checks and metrics
  SESSIOND_SERVER_OPS_ADDR=127.0.0.1:9090 sessiond run --account alice`,
	RunE: runRun,
}

var (
	runAccount    string
	runDevMode    bool
	runClientInfo string
	runStatePath  string
)

func init() {
	runCmd.Flags().StringVar(&runAccount, "account", "", "account ID to sign in as (required)")
	runCmd.Flags().BoolVar(&runDevMode, "dev", false, "Enable development mode (verbose logging, short intervals)")
	runCmd.Flags().StringVar(&runClientInfo, "client-info", "", "description recorded on the session (default: platform string)")
	runCmd.Flags().StringVar(&runStatePath, "state", "", "path to the local state file (default: ~/.sessiond/state.json)")
	_ = runCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if runDevMode {
		cfg.DevMode = true
	}
	if runClientInfo != "" {
		cfg.Session.ClientInfo = runClientInfo
	}
	if runStatePath != "" {
		cfg.State.Path = runStatePath
	}

	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := runAgent(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("sessiond stopped")
	return nil
}

// runAgent wires all components together and drives the lifecycle until
// shutdown.
func runAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	defer func() { _ = closeStore() }()
	logger.Info("session store ready", "backend", cfg.Store.Backend)

	if dir := filepath.Dir(cfg.State.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	stateStore := state.NewFileStateStore(cfg.State.Path, logger)

	registry := session.NewRegistry(store, cfg.Session.MaxPerAccount, logger)

	promReg := prometheus.NewRegistry()
	metrics := service.NewMetrics(promReg)

	provider := identity.NewStaticProvider(runAccount)
	defer provider.Close()

	lifecycle := service.NewLifecycle(
		store,
		registry,
		stateStore,
		provider,
		notify.NewLogNotifier(logger),
		metrics,
		logger,
		service.WithHeartbeatInterval(cfg.HeartbeatIntervalDuration()),
		service.WithOpTimeout(cfg.OpTimeoutDuration()),
		service.WithClientInfo(clientInfo(cfg)),
	)

	// Ops listener is optional; without an address the agent runs headless.
	opsErr := make(chan error, 1)
	if cfg.Server.OpsAddr != "" {
		checker := opshttp.NewHealthChecker(store, lifecycle, Version)
		ops := opshttp.NewOpsServer(cfg.Server.OpsAddr, checker, promReg, logger)
		go func() {
			if err := ops.Start(ctx); err != nil {
				opsErr <- err
			}
			close(opsErr)
		}()
	}

	logger.Info("starting session agent",
		"account", runAccount,
		"max_per_account", cfg.Session.MaxPerAccount,
		"heartbeat_interval", cfg.Session.HeartbeatInterval,
	)

	runErr := make(chan error, 1)
	go func() { runErr <- lifecycle.Run(ctx) }()

	select {
	case err := <-runErr:
		return err
	case err := <-opsErr:
		if err != nil {
			// The ops listener failing is fatal: an operator asked for it.
			lifecycle.Close()
			return fmt.Errorf("ops server failed: %w", err)
		}
		return <-runErr
	}
}

// clientInfo returns the descriptive string recorded on the session.
// One random instance ID per process keeps concurrent agents on the
// same machine distinguishable in session listings.
func clientInfo(cfg *config.Config) string {
	if cfg.Session.ClientInfo != "" {
		return cfg.Session.ClientInfo
	}
	return fmt.Sprintf("sessiond/%s %s/%s instance=%s",
		Version, runtime.GOOS, runtime.GOARCH, uuid.NewString()[:8])
}
