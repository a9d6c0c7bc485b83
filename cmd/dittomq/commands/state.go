package commands

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomq/internal/cli/output"
	"github.com/marmos91/dittomq/internal/cli/prompt"
	"github.com/marmos91/dittomq/pkg/amqp/types"
	"github.com/marmos91/dittomq/pkg/linkstate"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect retained link state",
	Long: `Inspect the link state retained in the recovery store.

When a link detaches without closing, its unsettled deliveries are kept
under the link name and local role until the link reattaches.

Subcommands:
  list   List retained links
  show   Show the deliveries retained for one link
  purge  Remove retained links older than the retention period`,
}

var (
	stateRole      string
	purgeOlderThan time.Duration
	purgeAll       bool
	purgeForce     bool
)

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List retained links",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <link-name>",
	Short: "Show the deliveries retained for a link",
	Long: `Show the deliveries retained for a link.

Link names are unique per direction. When both a sender and a receiver
with the same name are retained, select one with --role.

Examples:
  dittomq state show orders
  dittomq state show orders --role receiver -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runStateShow,
}

var statePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove stale retained links",
	Long: `Remove retained links detached before the retention period.

The period defaults to store.retention from the configuration.

Examples:
  # Remove links detached more than store.retention ago
  dittomq state purge

  # Remove links detached more than an hour ago without asking
  dittomq state purge --older-than 1h --force

  # Remove everything
  dittomq state purge --all --force`,
	Args: cobra.NoArgs,
	RunE: runStatePurge,
}

func init() {
	stateShowCmd.Flags().StringVar(&stateRole, "role", "", "Local role of the link (sender|receiver)")
	statePurgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0, "Remove links detached longer ago than this (default: store.retention)")
	statePurgeCmd.Flags().BoolVar(&purgeAll, "all", false, "Remove every retained link")
	statePurgeCmd.Flags().BoolVarP(&purgeForce, "force", "f", false, "Skip confirmation")

	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(statePurgeCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	recs, err := store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list retained links: %w", err)
	}
	slices.SortFunc(recs, func(a, b *linkstate.Record) int {
		return strings.Compare(a.Key().String(), b.Key().String())
	})

	if len(recs) == 0 && p.Format() == output.FormatTable {
		p.Println("No retained links.")
		return nil
	}
	return p.Print(output.RecordList(recs))
}

func runStateShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := findRecord(cmd, store, args[0])
	if err != nil {
		return err
	}

	if p.Format() != output.FormatTable {
		return p.Print(rec)
	}
	if err := output.KeyValues(p.Writer(), output.RecordDetail(rec)); err != nil {
		return err
	}
	p.Println()
	if len(rec.Deliveries) == 0 {
		p.Println("No retained deliveries.")
		return nil
	}
	return p.Print(output.DeliveryList(rec.Deliveries))
}

func findRecord(cmd *cobra.Command, store linkstate.RecoveryStore, name string) (*linkstate.Record, error) {
	roles := []types.Role{types.RoleSender, types.RoleReceiver}
	if stateRole != "" {
		role, err := types.ParseRole(stateRole)
		if err != nil {
			return nil, err
		}
		roles = []types.Role{role}
	}

	var found []*linkstate.Record
	for _, role := range roles {
		rec, err := store.Get(cmd.Context(), linkstate.Key{Name: name, Role: role})
		if linkstate.IsNotFoundError(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s/%s: %w", role, name, err)
		}
		found = append(found, rec)
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("no retained state for link %q", name)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("link %q is retained as both sender and receiver; use --role", name)
	}
}

func runStatePurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-cfg.Store.Retention)
	what := fmt.Sprintf("links detached more than %s ago", cfg.Store.Retention)
	switch {
	case purgeAll:
		cutoff = time.Now().Add(time.Hour)
		what = "all retained links"
	case purgeOlderThan > 0:
		cutoff = time.Now().Add(-purgeOlderThan)
		what = fmt.Sprintf("links detached more than %s ago", purgeOlderThan)
	}

	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Remove %s from the %s store", what, cfg.Store.Type), purgeForce)
	if err != nil {
		return err
	}
	if !ok {
		p.Warning("Aborted.")
		return nil
	}

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	n, err := store.PurgeBefore(cmd.Context(), cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge retained links: %w", err)
	}
	p.Success(fmt.Sprintf("Removed %d retained link(s).", n))
	return nil
}
