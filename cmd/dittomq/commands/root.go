// Package commands implements the dittomq CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittomq/cmd/dittomq/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile      string
	outputFormat string
	logLevel     string
	noColor      bool
)

var rootCmd = &cobra.Command{
	Use:   "dittomq",
	Short: "dittomq - AMQP 1.0 reliable delivery tracking",
	Long: `dittomq tracks unsettled AMQP 1.0 deliveries per link, applies
dispositions, enforces link credit and reconciles retained link state when a
link reattaches.

The CLI replays scripted link scenarios against the tracking core and
inspects the link state retained between detach and reattach.

Use "dittomq [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dittomq/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table|json|yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
