package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quote-engine/internal/dispatch"
	"quote-engine/internal/pricing"
	"quote-engine/internal/quote"
	"quote-engine/internal/receipt"
	"quote-engine/pkg/api"
)

var calcCmd = &cobra.Command{
	Use:   "calc [configuration.json]",
	Short: "Price a service configuration",
	Long: `Price a service configuration read from a file, or from stdin when no
file is given. Fields the document leaves out take their defaults. Tier rules
are enforced before pricing, so the printed tier may be higher than the one
requested.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCalc,
}

var (
	calcFormat string
	calcXLSX   string
	calcRemote string
	calcToken  string
)

func init() {
	calcCmd.Flags().StringVarP(&calcFormat, "format", "f", "text", "Output format (text, json)")
	calcCmd.Flags().StringVar(&calcXLSX, "xlsx", "", "Also write the receipt to this xlsx file")
	calcCmd.Flags().StringVar(&calcRemote, "remote", "", "Price on a quote server at this base URL instead of locally")
	calcCmd.Flags().StringVar(&calcToken, "token", "", "Bearer token for --remote")
}

func runCalc(cmd *cobra.Command, args []string) error {
	if calcFormat != "text" && calcFormat != "json" {
		return fmt.Errorf("unknown format %q", calcFormat)
	}

	input := io.Reader(os.Stdin)
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open configuration: %w", err)
		}
		defer f.Close()
		input = f
	}
	data, err := io.ReadAll(input)
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	ctx := cmd.Context()
	var q *api.Quote
	if calcRemote != "" {
		q, err = calcRemotely(ctx, data)
	} else {
		q, err = calcLocally(ctx, data)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	r := receipt.Receipt{
		IssuedAt:      time.Now(),
		Scheme:        q.Scheme,
		RateVersion:   q.RateVersion,
		Configuration: q.Configuration,
		Result:        q.Result,
		Notice:        q.Enforcement.Message,
	}
	switch calcFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(q); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	default:
		fmt.Fprint(out, receipt.Text(r))
	}

	if calcXLSX != "" {
		f, err := os.Create(calcXLSX)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", calcXLSX, err)
		}
		defer f.Close()
		if err := receipt.WriteXLSX(f, r); err != nil {
			return err
		}
		log.Info("Receipt written", zap.String("path", calcXLSX))
	}
	return nil
}

func calcLocally(ctx context.Context, data []byte) (*api.Quote, error) {
	b, err := openBackends(ctx)
	if err != nil {
		return nil, err
	}
	defer b.close()

	table, evaluator, err := b.pricingSetup(ctx)
	if err != nil {
		return nil, err
	}
	sc, err := decodeConfiguration(table, data)
	if err != nil {
		return nil, err
	}

	store := quote.NewStore(table, evaluator, log)
	if err := store.Restore(sc); err != nil {
		return nil, err
	}
	snap, _, err := store.Refresh(ctx, dispatch.New(table, nil, 0, log))
	if err != nil {
		return nil, err
	}
	return &api.Quote{
		Configuration: snap.Configuration,
		Result:        snap.Result,
		Enforcement:   snap.Enforcement,
		TierUpgraded:  snap.TierUpgraded,
		Scheme:        table.Scheme(),
		RateVersion:   table.Version(),
	}, nil
}

// calcRemotely fills defaults from the builtin table of the server's scheme
// so omitted fields are not sent as empty values.
func calcRemotely(ctx context.Context, data []byte) (*api.Quote, error) {
	client := api.NewClient(calcRemote, calcToken, log)

	caps, err := client.Capabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", calcRemote, err)
	}
	defaults, err := pricing.Builtin(caps.Scheme)
	if err != nil {
		return nil, err
	}
	sc, err := decodeConfiguration(defaults, data)
	if err != nil {
		return nil, err
	}
	return client.Quote(ctx, sc)
}

func decodeConfiguration(table pricing.RateTable, data []byte) (pricing.ServiceConfiguration, error) {
	sc := pricing.DefaultConfiguration(table)
	if err := json.Unmarshal(data, &sc); err != nil {
		return pricing.ServiceConfiguration{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return sc, nil
}
