package app

import (
	"context"
	"io"
	"time"

	"commodity-desk/internal/core"
)

// ApplicationService is the single interface all UI adapters (CLI, Web) call.
// It decouples presentation from pricing logic. Implementations must contain
// no fmt.Println, no ANSI codes, and no display logic of any kind.
type ApplicationService interface {
	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error

	// AddExchangeRate appends a rate and re-prices every product with a linked snapshot.
	// The rate is stored even when the fan-out reports failures.
	AddExchangeRate(ctx context.Context, input core.ExchangeRateInput, actor string) (*ExchangeRateResult, error)

	// LatestExchangeRate returns the most recent rate by date.
	LatestExchangeRate(ctx context.Context) (*core.ExchangeRate, error)

	// ListExchangeRates returns up to limit rates, newest first.
	ListExchangeRates(ctx context.Context, limit int) ([]core.ExchangeRate, error)

	// CreateProduct creates a product and prices it for Port Sudan when a rate exists.
	CreateProduct(ctx context.Context, input core.ProductInput, actor string) (*ProductResult, error)

	// UpdateProduct changes name, base cost or waste and re-prices every destination.
	UpdateProduct(ctx context.Context, id int, input core.ProductInput, actor string) (*ProductResult, error)

	// GetProduct returns a product with its cost components and destinations.
	GetProduct(ctx context.Context, id int) (*core.ProductDetail, error)

	// ListProducts returns every product with the destinations it is priced for.
	ListProducts(ctx context.Context) (*ProductListResult, error)

	// GetProductDestinations returns the destinations a product is priced for.
	GetProductDestinations(ctx context.Context, id int) ([]core.Destination, error)

	SaveOperationCost(ctx context.Context, productID int, input core.OperationCostInput, actor string) (*core.PropagationSummary, error)
	SaveGovernmentCost(ctx context.Context, productID int, input core.GovernmentCostInput, actor string) (*core.PropagationSummary, error)
	SaveLocalTransport(ctx context.Context, productID int, input core.LocalTransportInput, actor string) (*core.PropagationSummary, error)
	SaveFreight(ctx context.Context, productID int, dest core.Destination, input core.FreightInput, actor string) (*core.PropagationSummary, error)
	DeleteFreight(ctx context.Context, productID int, dest core.Destination, actor string) (*core.PropagationSummary, error)

	// RefreshProduct re-runs the full propagation routine for one product.
	RefreshProduct(ctx context.Context, productID int, actor string) (*core.PropagationSummary, error)

	// CalculateDestination recomputes one destination. Missing data is an error here,
	// not a skip.
	CalculateDestination(ctx context.Context, productID int, dest core.Destination, actor string) (*core.CalculationRecord, error)

	// OverrideCalculation derives a manual override from the current record calcID.
	OverrideCalculation(ctx context.Context, calcID int, req OverrideRequest, actor string) (*core.CalculationRecord, error)

	GetCalculation(ctx context.Context, calcID int) (*core.CalculationRecord, error)
	CurrentCalculations(ctx context.Context, productID int) ([]core.CalculationRecord, error)

	// CalculationHistory returns up to limit records, newest first. An empty dest
	// means every destination.
	CalculationHistory(ctx context.Context, productID int, dest core.Destination, limit int) ([]core.CalculationRecord, error)

	// ExportCalculationHistory writes the history as an XLSX workbook.
	ExportCalculationHistory(ctx context.Context, w io.Writer, productID int, dest core.Destination) error

	CreateSnapshot(ctx context.Context, input core.SnapshotInput) (*core.MarketSnapshot, error)
	ListSnapshots(ctx context.Context) ([]core.MarketSnapshot, error)

	// RecentSnapshots returns up to limit snapshots by last update, newest first.
	RecentSnapshots(ctx context.Context, limit int) ([]core.MarketSnapshot, error)

	// CurrentSnapshot returns the snapshot linked to a product.
	CurrentSnapshot(ctx context.Context, productID int) (*core.MarketSnapshot, error)

	// SnapshotHistory returns archived versions of the product's snapshot. Zero times
	// leave the window open on that side.
	SnapshotHistory(ctx context.Context, productID int, from, to time.Time) ([]core.MarketSnapshotArchive, error)

	ExportSnapshotHistory(ctx context.Context, w io.Writer, productID int, from, to time.Time) error

	// LinkSnapshot attaches a snapshot to a product and fills it immediately.
	LinkSnapshot(ctx context.Context, productID, snapshotID int, actor string) (*core.PropagationSummary, error)

	UnlinkSnapshot(ctx context.Context, productID int) error

	// AuditLedger runs the read-only consistency checks.
	AuditLedger(ctx context.Context) ([]core.AuditFinding, error)
}
