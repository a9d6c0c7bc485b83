package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomq/internal/cli/prompt"
	"github.com/marmos91/dittomq/pkg/config"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create a dittomq configuration file with the default settings.

With --interactive the recovery store is chosen and configured through
prompts.

Examples:
  # Write the default config to $XDG_CONFIG_HOME/dittomq/config.yaml
  dittomq config init

  # Write to a custom location, replacing an existing file
  dittomq config init --config ./dittomq.yaml --force

  # Pick the recovery store interactively
  dittomq config init --interactive`,
	RunE: runConfigInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Configure the recovery store interactively")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFlag(cmd)
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	cfg := config.GetDefaultConfig()
	if initInteractive {
		if err := promptStore(cfg); err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	if err := config.WriteInitialConfig(cfg, path, initForce); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Edit the configuration file to customize your setup")
	_, _ = fmt.Fprintf(out, "  2. Check it with: dittomq config validate --config %s\n", path)
	_, _ = fmt.Fprintln(out, "  3. Replay a scenario with: dittomq replay scenario.yaml")
	return nil
}

var storeOptions = []prompt.Option{
	{Label: "memory", Value: string(config.StoreMemory), Description: "Retained state lives in process memory"},
	{Label: "badger", Value: string(config.StoreBadger), Description: "Embedded key-value store on local disk"},
	{Label: "sqlite", Value: string(config.StoreSQLite), Description: "Single-file SQL database"},
	{Label: "postgres", Value: string(config.StorePostgres), Description: "Shared PostgreSQL database"},
}

// promptStore asks for the store type, then for its settings with the
// type's defaults prefilled.
func promptStore(cfg *config.Config) error {
	choice, err := prompt.Select("Recovery store", storeOptions)
	if err != nil {
		return err
	}
	sc := &cfg.Store
	sc.Type = config.StoreType(choice)
	config.ApplyDefaults(cfg)

	switch sc.Type {
	case config.StoreBadger:
		sc.Badger.Path, err = prompt.Input("Badger directory", sc.Badger.Path)
	case config.StoreSQLite:
		sc.SQLite.Path, err = prompt.Input("SQLite file", sc.SQLite.Path)
	case config.StorePostgres:
		err = promptPostgres(sc)
	}
	return err
}

func promptPostgres(sc *config.StoreConfig) error {
	pg := &sc.Postgres
	var err error
	if pg.Host, err = prompt.Input("Postgres host", orDefault(pg.Host, "localhost")); err != nil {
		return err
	}
	if pg.Port, err = prompt.Port("Postgres port", intOrDefault(pg.Port, 5432)); err != nil {
		return err
	}
	if pg.Database, err = prompt.Input("Database", orDefault(pg.Database, "dittomq")); err != nil {
		return err
	}
	if pg.User, err = prompt.Input("User", orDefault(pg.User, "dittomq")); err != nil {
		return err
	}
	pg.Password, err = prompt.Password("Password")
	return err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func intOrDefault(n, def int) int {
	if n == 0 {
		return def
	}
	return n
}
