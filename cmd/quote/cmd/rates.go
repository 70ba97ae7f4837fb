package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quote-engine/internal/pricing"
	"quote-engine/internal/storage"
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Rate table management (operator only)",
	Long: `Rate table management commands.

Published versions are immutable. Quotes keep pricing under the version they
were started with; publish a new version instead of editing one.`,
}

var ratesMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE:  runRatesMigrate,
}

var ratesPublishCmd = &cobra.Command{
	Use:   "publish <rate-table.json>",
	Short: "Validate and publish a rate table version",
	Args:  cobra.ExactArgs(1),
	RunE:  runRatesPublish,
}

var ratesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a rate table as JSON",
	Long: `Print a rate table as JSON. Without --version the latest published
version of PRICING_SCHEME is shown, or the builtin table when none exists.`,
	Args: cobra.NoArgs,
	RunE: runRatesShow,
}

var ratesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List published versions of PRICING_SCHEME",
	Args:  cobra.NoArgs,
	RunE:  runRatesList,
}

var (
	ratesDown    bool
	ratesStatus  bool
	ratesVersion string
)

func init() {
	ratesCmd.AddCommand(ratesMigrateCmd)
	ratesCmd.AddCommand(ratesPublishCmd)
	ratesCmd.AddCommand(ratesShowCmd)
	ratesCmd.AddCommand(ratesListCmd)

	ratesMigrateCmd.Flags().BoolVar(&ratesDown, "down", false, "Roll back the last migration")
	ratesMigrateCmd.Flags().BoolVar(&ratesStatus, "status", false, "Print migration status only")
	ratesShowCmd.Flags().StringVar(&ratesVersion, "version", "", "Version to show (default latest)")
}

func requireDatabase() error {
	if !cfg.DB.Enabled() {
		return fmt.Errorf("this command needs a database, set DB_HOST")
	}
	return nil
}

func runRatesMigrate(cmd *cobra.Command, args []string) error {
	if err := requireDatabase(); err != nil {
		return err
	}
	ctx := cmd.Context()
	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	switch {
	case ratesStatus:
		return storage.Status(ctx, b.postgres.DB(), log)
	case ratesDown:
		return storage.RollbackMigration(ctx, b.postgres.DB(), log)
	default:
		return storage.RunMigrations(ctx, b.postgres.DB(), log)
	}
}

func runRatesPublish(cmd *cobra.Command, args []string) error {
	if err := requireDatabase(); err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read rate table: %w", err)
	}
	table, err := pricing.DecodeRateTable(data)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	rec, err := b.rates.Publish(ctx, table)
	if err != nil {
		return err
	}
	log.Info("Rate table published",
		zap.String("scheme", rec.Scheme),
		zap.String("version", rec.Version),
		zap.Time("published_at", rec.PublishedAt))
	return nil
}

func runRatesShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	table, err := b.rates.Load(ctx, cfg.Scheme, ratesVersion)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(table)
}

func runRatesList(cmd *cobra.Command, args []string) error {
	if err := requireDatabase(); err != nil {
		return err
	}
	ctx := cmd.Context()
	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	recs, err := b.postgres.ListRateTables(ctx, string(cfg.Scheme))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tPUBLISHED")
	fmt.Fprintf(w, "%s\t%s\n", pricing.BuiltinVersion, "builtin")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\n", rec.Version, rec.PublishedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
