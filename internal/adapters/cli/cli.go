package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"commodity-desk/internal/app"
	"commodity-desk/internal/core"

	"github.com/shopspring/decimal"
)

const usage = `Available: products, recalc, calc, override, rate, history, snapshot, export, audit`

// ErrUsage is returned for malformed command lines.
var ErrUsage = errors.New("usage")

// Run executes a one-shot CLI command, writing results to out.
// args is os.Args[1:]; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string, actor string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command given\n%s", ErrUsage, usage)
	}

	switch args[0] {
	case "products", "ls":
		res, err := svc.ListProducts(ctx)
		if err != nil {
			return err
		}
		printProducts(out, res)
		return nil

	case "recalc", "refresh":
		if len(args) < 2 {
			return fmt.Errorf("%w: app recalc <product-id>", ErrUsage)
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		sum, err := svc.RefreshProduct(ctx, id, actor)
		if err != nil {
			return err
		}
		printSummary(out, sum)
		return nil

	case "calc":
		if len(args) < 3 {
			return fmt.Errorf("%w: app calc <product-id> <destination>", ErrUsage)
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		dest, err := core.ParseDestination(strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		rec, err := svc.CalculateDestination(ctx, id, dest, actor)
		if err != nil {
			return err
		}
		printRecords(out, []core.CalculationRecord{*rec})
		return nil

	case "override":
		if len(args) < 3 {
			return fmt.Errorf("%w: app override <calculation-id> field=value [field=value...]", ErrUsage)
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		overrides, err := parseOverrides(args[2:])
		if err != nil {
			return err
		}
		rec, err := svc.OverrideCalculation(ctx, id, app.OverrideRequest{Overrides: overrides}, actor)
		if err != nil {
			return err
		}
		printRecords(out, []core.CalculationRecord{*rec})
		return nil

	case "rate":
		if len(args) < 2 {
			rate, err := svc.LatestExchangeRate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s  %s\n", rate.Date.Format(time.DateOnly), rate.Rate.StringFixed(4))
			return nil
		}
		input, err := parseRate(args[1:])
		if err != nil {
			return err
		}
		res, err := svc.AddExchangeRate(ctx, input, actor)
		if res != nil {
			fmt.Fprintf(out, "Rate %d stored: %s on %s\n", res.Rate.ID, res.Rate.Rate.StringFixed(4), res.Rate.Date.Format(time.DateOnly))
			if res.Fanout != nil {
				fmt.Fprintf(out, "Re-priced %d products, %d records, %d failed\n", res.Fanout.Products, res.Fanout.Recorded, len(res.Fanout.Failed))
				for pid, msg := range res.Fanout.Failed {
					fmt.Fprintf(out, "  product %d: %s\n", pid, msg)
				}
			}
		}
		return err

	case "history", "hist":
		if len(args) < 2 {
			return fmt.Errorf("%w: app history <product-id> [destination] [limit]", ErrUsage)
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		var dest core.Destination
		limit := 0
		for _, a := range args[2:] {
			if n, err := strconv.Atoi(a); err == nil {
				limit = n
				continue
			}
			if dest, err = core.ParseDestination(a); err != nil {
				return err
			}
		}
		records, err := svc.CalculationHistory(ctx, id, dest, limit)
		if err != nil {
			return err
		}
		printRecords(out, records)
		return nil

	case "snapshot", "snap":
		if len(args) < 2 {
			return fmt.Errorf("%w: app snapshot <product-id>", ErrUsage)
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		snap, err := svc.CurrentSnapshot(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(out, snap)

	case "export":
		if len(args) < 4 {
			return fmt.Errorf("%w: app export calculations|snapshots <product-id> <file.xlsx>", ErrUsage)
		}
		id, err := parseID(args[2])
		if err != nil {
			return err
		}
		f, err := os.Create(args[3])
		if err != nil {
			return err
		}
		switch args[1] {
		case "calculations", "calc":
			err = svc.ExportCalculationHistory(ctx, f, id, "")
		case "snapshots", "snap":
			err = svc.ExportSnapshotHistory(ctx, f, id, time.Time{}, time.Time{})
		default:
			err = fmt.Errorf("%w: unknown export %q", ErrUsage, args[1])
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(args[3])
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", args[3])
		return nil

	case "audit":
		findings, err := svc.AuditLedger(ctx)
		if err != nil {
			return err
		}
		if len(findings) == 0 {
			fmt.Fprintln(out, "Ledger is consistent.")
			return nil
		}
		for _, f := range findings {
			fmt.Fprintf(out, "%-18s product=%-5d %-10s %s\n", f.Check, f.ProductID, f.Destination, f.Detail)
		}
		return fmt.Errorf("%d audit findings", len(findings))

	default:
		return fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, args[0], usage)
	}
}

func parseID(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q is not a valid id", ErrUsage, s)
	}
	return n, nil
}

func parseOverrides(pairs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("%w: expected field=value, got %q", ErrUsage, p)
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUsage, name, err)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}

// parseRate reads "<rate> [YYYY-MM-DD]"; the date defaults to today.
func parseRate(args []string) (core.ExchangeRateInput, error) {
	rate, err := decimal.NewFromString(args[0])
	if err != nil {
		return core.ExchangeRateInput{}, fmt.Errorf("%w: rate %q: %v", ErrUsage, args[0], err)
	}
	date := time.Now().UTC().Truncate(24 * time.Hour)
	if len(args) > 1 {
		if date, err = time.Parse(time.DateOnly, args[1]); err != nil {
			return core.ExchangeRateInput{}, fmt.Errorf("%w: date %q: %v", ErrUsage, args[1], err)
		}
	}
	return core.ExchangeRateInput{Date: date, Rate: rate}, nil
}

func printProducts(out io.Writer, res *app.ProductListResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 78))
	fmt.Fprintf(out, "  %-5s %-24s %12s %8s  %s\n", "ID", "NAME", "COST/UNIT", "WASTE%", "DESTINATIONS")
	fmt.Fprintln(out, strings.Repeat("-", 78))
	for _, p := range res.Products {
		dests := make([]string, len(p.Destinations))
		for i, d := range p.Destinations {
			dests[i] = string(d)
		}
		fmt.Fprintf(out, "  %-5d %-24s %12s %8s  %s\n", p.ID, p.Name, p.CostPerUnit.StringFixed(2),
			p.WastePercentage.StringFixed(2), strings.Join(dests, ", "))
	}
	fmt.Fprintln(out, strings.Repeat("=", 78))
}

func printRecords(out io.Writer, records []core.CalculationRecord) {
	fmt.Fprintln(out, strings.Repeat("=", 96))
	fmt.Fprintf(out, "  %-6s %-11s %-8s %-20s %14s %12s %12s %s\n",
		"ID", "DEST", "STATE", "CALCULATED", "TOTAL LOCAL", "FOB USD", "CNF USD", "BY")
	fmt.Fprintln(out, strings.Repeat("-", 96))
	for _, r := range records {
		state := string(r.State())
		if r.IsManualOverride {
			state += "*"
		}
		fmt.Fprintf(out, "  %-6d %-11s %-8s %-20s %14s %12s %12s %s\n",
			r.ID, r.Destination, state, r.CalculatedAt.UTC().Format("2006-01-02 15:04:05"),
			r.TotalCostLocal.StringFixed(2), r.FOBPriceUSD.StringFixed(2), r.CNFPriceUSD.StringFixed(2), r.TriggeredBy)
	}
	fmt.Fprintln(out, strings.Repeat("=", 96))
}

func printSummary(out io.Writer, sum *core.PropagationSummary) {
	fmt.Fprintf(out, "Product %d: %d destinations recorded\n", sum.ProductID, len(sum.Recorded))
	for dest, reason := range sum.Skipped {
		fmt.Fprintf(out, "  skipped %-11s %s\n", dest, reason)
	}
	if sum.ArchiveID != nil {
		fmt.Fprintf(out, "  snapshot %d archived as %d", *sum.SnapshotID, *sum.ArchiveID)
		if sum.Trend != nil {
			fmt.Fprintf(out, ", trend %d%% %s", *sum.Trend, sum.Forecast)
		}
		fmt.Fprintln(out)
	}
	if len(sum.Recorded) > 0 {
		printRecords(out, sum.Recorded)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
