package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/dgawatch/internal/config"
)

var configCheck bool

// configCmd prints the effective configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Load and validate the configuration the way run does, then print it as YAML.

Accepts the same flags as run. With --check only the validation result is printed.
A configuration error exits with status 3.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if configCheck {
			fmt.Fprintf(cmd.OutOrStdout(), "VALID: interface %q, store %s, broker %s, %d MiB queue budget\n",
				cfg.Interface, cfg.Store.Type, cfg.Broker.Type, cfg.MemoryBudget()>>20)
			return nil
		}

		out, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	addPipelineFlags(configCmd)
	configCmd.Flags().BoolVar(&configCheck, "check", false, "only validate the configuration")
}
