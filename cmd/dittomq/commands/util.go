package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomq/internal/cli/output"
	"github.com/marmos91/dittomq/internal/logger"
	"github.com/marmos91/dittomq/internal/protocol/amqp/link"
	"github.com/marmos91/dittomq/internal/protocol/amqp/session"
	"github.com/marmos91/dittomq/internal/telemetry"
	"github.com/marmos91/dittomq/pkg/auth"
	"github.com/marmos91/dittomq/pkg/config"
	"github.com/marmos91/dittomq/pkg/identity"
	"github.com/marmos91/dittomq/pkg/linkstate"
)

// loadConfig loads the configuration named by --config, applies the
// --log-level override and initializes the logger. Logs meant for stdout
// go to stderr.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	out := cfg.Logging.Output
	if out == "stdout" {
		out = "stderr"
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: out,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func newPrinter(cmd *cobra.Command) (*output.Printer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format, !noColor), nil
}

// openStore opens the configured recovery store.
func openStore(ctx context.Context, cfg *config.Config) (linkstate.RecoveryStore, error) {
	store, err := config.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	return store, nil
}

// sessionOptions builds the session configuration shared by every session
// the CLI creates.
func sessionOptions(cfg *config.Config, store linkstate.RecoveryStore, m *link.Metrics) session.Options {
	return session.Options{
		ConnectionID: "cli",
		VirtualHost:  cfg.Identity.VirtualHost,
		Store:        store,
		IDs: identity.NewGenerator(identity.Config{
			Names:    cfg.Identity.DeterministicNames,
			Prefixes: cfg.Identity.DeterministicPrefixes,
		}),
		Principals: auth.NewChain(cfg.Audit.Placeholder),
		Link: session.LinkDefaults{
			InitialCredit: cfg.Link.InitialCredit,
			CreditWindow:  cfg.Link.CreditWindow,
		},
		Metrics: m,
	}
}

// startTelemetry initializes tracing and profiling and returns a function
// that stops both.
func startTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	tc := cfg.Telemetry
	tc.ServiceVersion = Version

	shutdownTracing, err := telemetry.Init(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	stopProfiling, err := telemetry.InitProfiling(tc)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}
	return func() {
		if err := stopProfiling(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}, nil
}
