package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/partsbay/sessiond/internal/adapter/outbound/state"
	"github.com/partsbay/sessiond/internal/config"
	"github.com/partsbay/sessiond/internal/domain/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show this client's session",
	Long: `Show the session recorded in the local state file and whether its
record still exists in the shared store. A missing record means the
session was evicted or reaped; the next run will go through admission
again.`,
	RunE: runStatus,
}

var statusStatePath string

func init() {
	statusCmd.Flags().StringVar(&statusStatePath, "state", "", "path to the local state file (default: ~/.sessiond/state.json)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if statusStatePath != "" {
		cfg.State.Path = statusStatePath
	}
	logger := newLogger(cfg)

	stateStore := state.NewFileStateStore(cfg.State.Path, logger)
	st, err := stateStore.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if st.Empty() {
		fmt.Println("signed out (no local session)")
		return nil
	}

	fmt.Printf("account:  %s\n", st.AccountID)
	fmt.Printf("session:  %s\n", st.SessionID)
	fmt.Printf("updated:  %s\n", st.UpdatedAt.Format(time.RFC3339))

	store, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	defer func() { _ = closeStore() }()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeoutDuration())
	defer cancel()

	sess, err := store.Get(ctx, st.SessionID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		fmt.Println("store:    record gone (evicted or reaped)")
	case err != nil:
		fmt.Printf("store:    unreachable (%v)\n", err)
	default:
		fmt.Printf("store:    live, last activity %s\n", sess.LastActivity.Format(time.RFC3339))
	}
	return nil
}
