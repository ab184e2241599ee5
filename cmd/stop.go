package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/daemon"
)

var (
	stopTimeout time.Duration
	stopPIDFile string
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running detector",
	Long: `Send SIGTERM to the detector recorded in the PID file (--pidfile, or control.pid_file
from the configuration) and wait for it to exit.

The detector stops capturing, flushes its partial batch and finishes in-flight store
queries and publishes before exiting.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pidFile := stopPIDFile
		if pidFile == "" {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			pidFile = cfg.Control.PIDFile
		}
		if err := daemon.StopRunning(pidFile, stopTimeout); err != nil {
			return core.WithExitCode(core.ExitFailure, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "detector stopped")
		return nil
	},
}

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "", "PID file of the running detector")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "how long to wait for the detector to exit")
}
