// Package cmd provides the CLI commands for sessiond.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/partsbay/sessiond/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "sessiond - concurrent session limiter",
	Long: `sessiond caps the number of concurrent login sessions per account.

Each running client holds one session record in a shared store. When an
account reaches the limit (3 by default), the next login evicts the
session that has been idle the longest; the evicted client signs itself
out when it notices its record is gone.

Quick start:
  1. Run: sessiond run --account alice
  2. Optionally create a config file: sessiond config init > sessiond.yaml

Configuration:
  Config is loaded from sessiond.yaml in the current directory,
  $HOME/.sessiond/, or /etc/sessiond/.

  Environment variables can override config values with the SESSIOND_ prefix.
  Example: SESSIOND_STORE_BACKEND=redis

Commands:
  run         Run the resident session agent
  reap        Remove sessions idle past the staleness threshold
  status      Show this client's session
  config      Configuration helpers
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sessiond.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
