package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/dittomq/internal/logger"
	"github.com/marmos91/dittomq/pkg/linkstate"
	"github.com/marmos91/dittomq/pkg/linkstate/badger"
	"github.com/marmos91/dittomq/pkg/linkstate/memory"
	"github.com/marmos91/dittomq/pkg/linkstate/sql"
	storemetrics "github.com/marmos91/dittomq/pkg/metrics/prometheus"
)

// OpenStore creates the recovery store selected by cfg. When metrics are
// enabled every call on the store is recorded.
func OpenStore(ctx context.Context, cfg StoreConfig) (linkstate.RecoveryStore, error) {
	var (
		s   linkstate.RecoveryStore
		err error
	)

	switch cfg.Type {
	case StoreMemory, "":
		s = memory.New()
	case StoreBadger:
		s, err = badger.New(ctx, cfg.Badger)
	case StoreSQLite, StorePostgres:
		s, err = sql.New(sqlConfig(&cfg))
	default:
		return nil, fmt.Errorf("unknown recovery store type: %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s recovery store: %w", cfg.Type, err)
	}

	logger.Debug("recovery store opened", logger.KeyStoreType, string(cfg.Type), logger.KeyStorePath, storePath(cfg))
	return storemetrics.InstrumentStore(s, string(cfg.Type), storemetrics.NewStoreMetrics()), nil
}

func storePath(cfg StoreConfig) string {
	switch cfg.Type {
	case StoreBadger:
		if cfg.Badger.InMemory {
			return ":memory:"
		}
		return cfg.Badger.Path
	case StoreSQLite:
		return cfg.SQLite.Path
	case StorePostgres:
		return fmt.Sprintf("%s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)
	default:
		return ""
	}
}

// dataDir returns $XDG_DATA_HOME/dittomq or ~/.local/share/dittomq.
func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "dittomq")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "dittomq")
}
