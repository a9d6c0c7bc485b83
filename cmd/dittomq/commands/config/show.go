package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittomq/internal/cli/output"
	"github.com/marmos91/dittomq/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective dittomq configuration after defaults and
environment overrides are applied.

Table output is rendered as YAML.

Examples:
  dittomq config show
  dittomq config show -o json`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag(cmd))
	if err != nil {
		return err
	}

	flag, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(flag)
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
