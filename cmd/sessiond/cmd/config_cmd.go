package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/partsbay/sessiond/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Print a config file with all defaults filled in",
	Long: `Print a sessiond.yaml populated with the default values to stdout.

Redirect to a file and edit from there:
  sessiond config init > sessiond.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		cfg.SetDefaults()

		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging the config file, environment
variables, and defaults. Useful for checking what a running agent
would actually use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		if cfg.Store.Redis.Password != "" {
			cfg.Store.Redis.Password = "<redacted>"
		}

		if file := config.ConfigFileUsed(); file != "" {
			fmt.Fprintf(os.Stderr, "# config file: %s\n", file)
		} else {
			fmt.Fprintln(os.Stderr, "# no config file found, defaults and environment only")
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
