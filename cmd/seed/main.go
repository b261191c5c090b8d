// seed loads a sample commodity catalogue through the application service, so every
// product is priced and its snapshot filled exactly as an operator's edits would be.
// Re-running it updates the existing products in place.
//
// Usage: go run ./cmd/seed
package main

import (
	"context"
	"time"

	"commodity-desk/internal/app"
	"commodity-desk/internal/config"
	"commodity-desk/internal/core"
	"commodity-desk/internal/logger"

	"github.com/shopspring/decimal"
)

const actor = "seed"

type freight struct {
	dest core.Destination
	usd  string
}

type product struct {
	name, cost, waste        string
	cleaning, bags, printing string
	handling                 string
	paperwork, duty, clear   string
	toPort                   string
	freight                  []freight
}

var catalogue = []product{
	{
		name: "Sesame (White)", cost: "1000", waste: "10",
		cleaning: "20", bags: "15", printing: "5", handling: "10",
		paperwork: "10", duty: "15", clear: "5", toPort: "20",
		freight: []freight{{core.DestinationChina, "5"}, {core.DestinationUAE, "3.5"}, {core.DestinationIndia, "4.25"}},
	},
	{
		name: "Gum Arabic (Hashab)", cost: "2400", waste: "4",
		cleaning: "35", bags: "18", printing: "6", handling: "12",
		paperwork: "14", duty: "40", clear: "8", toPort: "25",
		freight: []freight{{core.DestinationChina, "6.1"}, {core.DestinationMersing, "5.4"}},
	},
	{
		name: "Groundnuts", cost: "780", waste: "7.5",
		cleaning: "12", bags: "15", printing: "4", handling: "9",
		paperwork: "10", duty: "11", clear: "5", toPort: "18",
		freight: []freight{{core.DestinationUAE, "3.1"}},
	},
	{
		name: "Hibiscus", cost: "1650", waste: "12",
		cleaning: "25", bags: "20", printing: "5", handling: "11",
		paperwork: "12", duty: "18", clear: "6", toPort: "22",
	},
}

func d(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return decimal.RequireFromString(s)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Fatalf("config: %v", err)
	}
	log := logger.New(cfg.LogLevel)

	ctx := context.Background()
	rt, err := app.Bootstrap(ctx, cfg, log)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer rt.Close()
	svc := rt.Service

	if _, err := svc.LatestExchangeRate(ctx); err != nil {
		log.Info("Seeding exchange rate...")
		if _, err := svc.AddExchangeRate(ctx, core.ExchangeRateInput{
			Date: time.Now().UTC().Truncate(24 * time.Hour),
			Rate: d("600"),
		}, actor); err != nil {
			log.Fatalf("Failed to seed exchange rate: %v", err)
		}
	}

	existing, err := svc.ListProducts(ctx)
	if err != nil {
		log.Fatalf("Failed to list products: %v", err)
	}
	byName := make(map[string]app.ProductSummary, len(existing.Products))
	for _, p := range existing.Products {
		byName[p.Name] = p
	}

	for _, p := range catalogue {
		if err := seedProduct(ctx, svc, byName, p); err != nil {
			log.Fatalf("Failed to seed %s: %v", p.name, err)
		}
		log.WithField("product", p.name).Info("seeded")
	}

	log.Info("Seed data loaded successfully.")
}

func seedProduct(ctx context.Context, svc app.ApplicationService, byName map[string]app.ProductSummary, p product) error {
	input := core.ProductInput{Name: p.name, CostPerUnit: d(p.cost), WastePercentage: d(p.waste)}

	var id int
	var linked bool
	if cur, ok := byName[p.name]; ok {
		if _, err := svc.UpdateProduct(ctx, cur.ID, input, actor); err != nil {
			return err
		}
		id, linked = cur.ID, cur.MarketSnapshotID != nil
	} else {
		res, err := svc.CreateProduct(ctx, input, actor)
		if err != nil {
			return err
		}
		id = res.Product.ID
	}

	if !linked {
		snap, err := svc.CreateSnapshot(ctx, core.SnapshotInput{Name: p.name, Status: core.StatusActive})
		if err != nil {
			return err
		}
		if _, err := svc.LinkSnapshot(ctx, id, snap.ID, actor); err != nil {
			return err
		}
	}

	if _, err := svc.SaveOperationCost(ctx, id, core.OperationCostInput{
		Cleaning: d(p.cleaning), EmptyBags: d(p.bags), Printing: d(p.printing), Handling: d(p.handling),
	}, actor); err != nil {
		return err
	}
	if _, err := svc.SaveGovernmentCost(ctx, id, core.GovernmentCostInput{
		Paperwork: d(p.paperwork), CustomsDuty: d(p.duty), Clearance: d(p.clear),
	}, actor); err != nil {
		return err
	}
	if _, err := svc.SaveLocalTransport(ctx, id, core.LocalTransportInput{TransportToPort: d(p.toPort)}, actor); err != nil {
		return err
	}
	for _, f := range p.freight {
		if _, err := svc.SaveFreight(ctx, id, f.dest, core.FreightInput{FreightCost: d(f.usd)}, actor); err != nil {
			return err
		}
	}
	return nil
}
