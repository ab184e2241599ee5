// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/dgawatch/internal/config"
	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/daemon"
)

// Build metadata, set with -ldflags "-X firestige.xyz/dgawatch/cmd.version=...".
var (
	version = "0.1.0"
	commit  = "unknown"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dgawatch",
	Short: "dgawatch - DNS capture and domain reputation pipeline",
	Long: `dgawatch taps a network interface, extracts the domain names seen in DNS traffic,
checks them against blacklist and whitelist collections in MongoDB and forwards actionable
outcomes to a message broker for DGA classification.

Pipeline:
  capture (udp port 53) -> DNS extractor -> reputation lookup -> publisher (AMQP or Kafka)`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() core.ExitCode {
	err := rootCmd.Execute()
	if err == nil {
		return core.ExitSuccess
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if isUsageError(err) {
		return core.ExitHelp
	}
	return daemon.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (optional; defaults and DGAWATCH_* variables apply without it)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(versionCmd)
}

// usageError marks malformed command lines.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func isUsageError(err error) bool {
	var u usageError
	return errors.As(err, &u)
}

// loadConfig loads the configuration for cmd, with its flags taking precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, core.WithExitCode(core.ExitConfigCheckFailure, err)
	}
	return cfg, nil
}
