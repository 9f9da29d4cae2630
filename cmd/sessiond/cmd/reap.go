package cmd

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/partsbay/sessiond/internal/config"
	"github.com/partsbay/sessiond/internal/service"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Remove sessions idle past the staleness threshold",
	Long: `Remove session records whose last activity is older than the
staleness threshold (24h by default).

Stale records belong to clients that stopped heartbeating without
logging out (crash, lost machine). They hold admission slots until
removed; reaping frees those slots.

By default reap performs a single sweep of the whole store and exits.

Examples:
  # One-shot sweep of every account
  sessiond reap

  # Sweep a single account
  sessiond reap --account alice

  # Run resident, sweeping on the configured interval
  sessiond reap --watch`,
	RunE: runReap,
}

var (
	reapAccount string
	reapWatch   bool
)

func init() {
	reapCmd.Flags().StringVar(&reapAccount, "account", "", "sweep only this account")
	reapCmd.Flags().BoolVar(&reapWatch, "watch", false, "run resident and sweep on the configured interval")
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	store, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	defer func() { _ = closeStore() }()

	metrics := service.NewMetrics(prometheus.NewRegistry())
	reaper := service.NewReaper(store, metrics, logger,
		service.WithStaleAfter(cfg.StaleAfterDuration()),
		service.WithReaperOpTimeout(cfg.OpTimeoutDuration()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	if reapWatch {
		logger.Info("reaper running",
			"interval", cfg.Reaper.Interval,
			"stale_after", cfg.Reaper.StaleAfter,
		)
		reaper.Run(ctx, cfg.ReapIntervalDuration())
		return nil
	}

	var reaped int
	if reapAccount != "" {
		reaped, err = reaper.SweepAccount(ctx, reapAccount)
	} else {
		reaped, err = reaper.SweepAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("reaped %d stale session(s)\n", reaped)
	return nil
}
