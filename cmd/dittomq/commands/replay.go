package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittomq/internal/cli/output"
	"github.com/marmos91/dittomq/internal/logger"
	"github.com/marmos91/dittomq/internal/protocol/amqp/link"
	"github.com/marmos91/dittomq/internal/replay"
	"github.com/marmos91/dittomq/pkg/config"
	"github.com/marmos91/dittomq/pkg/linkstate"
	"github.com/marmos91/dittomq/pkg/metrics"
)

var (
	replayWatch   bool
	replayMetrics bool
	replayEvents  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>...",
	Short: "Replay scripted link scenarios",
	Long: `Replay one or more YAML link scenarios against the delivery tracking core.

A scenario lists performatives received from the peer (attach, transfer,
disposition, flow, detach) and local actions (send, settle, grant, sweep,
advance, expect) in order. Each step is applied to a session backed by the
configured recovery store; link state retained on detach survives into the
next scenario.

Examples:
  # Replay a scenario and print the step results and outbound events
  dittomq replay reattach.yaml

  # Print the full report as JSON
  dittomq replay reattach.yaml -o json

  # Re-run whenever a scenario file changes, serving /metrics meanwhile
  dittomq replay --watch --metrics reattach.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVarP(&replayWatch, "watch", "w", false, "Re-run scenarios when their files change")
	replayCmd.Flags().BoolVar(&replayMetrics, "metrics", false, "Serve Prometheus metrics while replaying (overrides metrics.enabled)")
	replayCmd.Flags().BoolVar(&replayEvents, "events", true, "Print outbound events after the step table")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopTelemetry, err := startTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	// The registry must exist before the store is opened so the store is
	// instrumented.
	var linkMetrics *link.Metrics
	if replayMetrics || cfg.Metrics.Enabled {
		reg := metrics.InitRegistry()
		linkMetrics = link.NewMetrics(reg)
		srv := metrics.NewServer(cfg.Metrics, reg)
		if err := srv.Listen(); err != nil {
			return err
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("metrics server error", logger.KeyError, err)
			}
		}()
		p.Printf("Serving metrics on %s%s\n", srv.Addr(), cfg.Metrics.Path)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	r := &replayer{cfg: cfg, store: store, metrics: linkMetrics, printer: p}
	runErr := r.runAll(ctx, args)
	if !replayWatch {
		return runErr
	}
	return r.watch(ctx, args)
}

type replayer struct {
	cfg     *config.Config
	store   linkstate.RecoveryStore
	metrics *link.Metrics
	printer *output.Printer
}

func (r *replayer) runAll(ctx context.Context, paths []string) error {
	var errs []error
	for _, path := range paths {
		if err := r.runOne(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *replayer) runOne(ctx context.Context, path string) error {
	sc, err := replay.Load(path)
	if err != nil {
		return err
	}
	rep, runErr := replay.Run(ctx, sc, replay.Options{
		Session:       sessionOptions(r.cfg, r.store, r.metrics),
		StaleAfter:    r.cfg.Link.StaleAfter,
		SweepInterval: r.cfg.Link.SweepInterval,
	})
	if err := r.print(rep); err != nil {
		return err
	}
	if runErr != nil {
		r.printer.Error(fmt.Sprintf("%s: %v", sc.Name, runErr))
		return fmt.Errorf("%s: %w", path, runErr)
	}
	if r.printer.Format() == output.FormatTable {
		r.printer.Success(fmt.Sprintf("%s: %d steps passed in %s", sc.Name, len(rep.Steps), rep.Duration.Round(time.Microsecond)))
	}
	return nil
}

func (r *replayer) print(rep *replay.Report) error {
	p := r.printer
	if p.Format() != output.FormatTable {
		return p.Print(rep)
	}

	p.Printf("Scenario: %s\n\n", rep.Scenario)
	if err := p.Print(rep); err != nil {
		return err
	}
	if replayEvents && len(rep.Events) > 0 {
		p.Println()
		if err := p.Print(output.EventList(rep.LinkEvents())); err != nil {
			return err
		}
	}
	if rep.Swept > 0 {
		p.Printf("\nExpired by sweeper: %d\n", rep.Swept)
	}
	p.Println()
	return nil
}

// watch re-runs a scenario whenever its file is written, and applies
// logging changes from the configuration file, until ctx is cancelled.
func (r *replayer) watch(ctx context.Context, paths []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	scripts := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		scripts[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	if path := configPath(); path != "" {
		go func() {
			if err := config.Watch(ctx, path, config.ApplyLogging); err != nil {
				logger.Warn("config watch stopped", logger.KeyError, err)
			}
		}()
	}

	r.printer.Printf("Watching %d scenario(s). Press Ctrl+C to stop.\n", len(scripts))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !scripts[filepath.Clean(ev.Name)] || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			logger.Debug("scenario changed", logger.KeyPath, ev.Name)
			if err := r.runOne(ctx, ev.Name); err != nil {
				logger.Warn("replay failed", logger.KeyPath, ev.Name, logger.KeyError, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", logger.KeyError, err)
		}
	}
}

// configPath returns the configuration file in use, or "" when running on
// defaults.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return ""
}
