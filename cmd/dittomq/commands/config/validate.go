package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomq/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the dittomq configuration file.

Checks for syntax errors, missing required fields and invalid values.

Examples:
  # Validate default config
  dittomq config validate

  # Validate specific config file
  dittomq config validate --config /etc/dittomq/config.yaml`,
	RunE: runConfigValidate,
}

// warnings returns advice for configurations that are valid but likely
// unintended.
func warnings(cfg *config.Config) []string {
	var w []string
	if cfg.Store.Type == config.StoreMemory {
		w = append(w, "store.type is memory: retained link state is lost when the process exits")
	}
	if cfg.Link.CreditWindow == 0 {
		w = append(w, "link.credit_window is 0: receivers never replenish credit")
	}
	if cfg.Link.InitialCredit == 0 {
		w = append(w, "link.initial_credit is 0: receivers grant no credit on attach")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.SampleRate == 0 {
		w = append(w, "telemetry is enabled with sample_rate 0: no traces will be exported")
	}
	return w
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configFlag(cmd)

	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if w := warnings(cfg); len(w) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, msg := range w {
			_, _ = fmt.Fprintf(out, "  - %s\n", msg)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Store type:      %s\n", cfg.Store.Type)
	_, _ = fmt.Fprintf(out, "  Initial credit:  %d\n", cfg.Link.InitialCredit)
	_, _ = fmt.Fprintf(out, "  Credit window:   %d\n", cfg.Link.CreditWindow)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}
