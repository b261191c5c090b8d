package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"commodity-desk/internal/core"
	"commodity-desk/internal/logger"
	"commodity-desk/internal/report"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

type appService struct {
	pool       *pgxpool.Pool
	catalog    core.CatalogService
	propagator *core.Propagator
	queries    *core.MarketQueries
	rates      *core.ExchangeRateStore
	snapshots  *core.SnapshotStore
	auditor    *core.LedgerAuditor
	log        logrus.FieldLogger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	pool *pgxpool.Pool,
	catalog core.CatalogService,
	propagator *core.Propagator,
	queries *core.MarketQueries,
	rates *core.ExchangeRateStore,
	snapshots *core.SnapshotStore,
	auditor *core.LedgerAuditor,
	log logrus.FieldLogger,
) ApplicationService {
	if log == nil {
		log = logger.Discard()
	}
	return &appService{
		pool:       pool,
		catalog:    catalog,
		propagator: propagator,
		queries:    queries,
		rates:      rates,
		snapshots:  snapshots,
		auditor:    auditor,
		log:        log,
	}
}

func (s *appService) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *appService) AddExchangeRate(ctx context.Context, input core.ExchangeRateInput, actor string) (*ExchangeRateResult, error) {
	rate, err := s.rates.Add(ctx, input)
	if err != nil {
		return nil, err
	}
	res := &ExchangeRateResult{Rate: *rate}
	fanout, err := s.propagator.PropagateExchangeRateChange(ctx, *rate, actor)
	res.Fanout = fanout
	if err != nil {
		return res, fmt.Errorf("exchange rate %d stored but fan-out stopped: %w", rate.ID, err)
	}
	return res, nil
}

func (s *appService) LatestExchangeRate(ctx context.Context) (*core.ExchangeRate, error) {
	return s.rates.Latest(ctx)
}

func (s *appService) ListExchangeRates(ctx context.Context, limit int) ([]core.ExchangeRate, error) {
	return s.rates.List(ctx, limit)
}

func (s *appService) CreateProduct(ctx context.Context, input core.ProductInput, actor string) (*ProductResult, error) {
	p, sum, err := s.catalog.CreateProduct(ctx, input, actor)
	if err != nil {
		return nil, err
	}
	return &ProductResult{Product: p, Propagation: sum}, nil
}

func (s *appService) UpdateProduct(ctx context.Context, id int, input core.ProductInput, actor string) (*ProductResult, error) {
	p, sum, err := s.catalog.UpdateProduct(ctx, id, input, actor)
	if err != nil {
		return nil, err
	}
	return &ProductResult{Product: p, Propagation: sum}, nil
}

func (s *appService) GetProduct(ctx context.Context, id int) (*core.ProductDetail, error) {
	return s.catalog.GetProduct(ctx, id)
}

func (s *appService) ListProducts(ctx context.Context) (*ProductListResult, error) {
	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := &ProductListResult{Products: make([]ProductSummary, 0, len(products))}
	for _, p := range products {
		dests, err := s.GetProductDestinations(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out.Products = append(out.Products, ProductSummary{Product: p, Destinations: dests})
	}
	return out, nil
}

func (s *appService) GetProductDestinations(ctx context.Context, id int) ([]core.Destination, error) {
	d, err := s.catalog.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Destinations, nil
}

func (s *appService) SaveOperationCost(ctx context.Context, productID int, input core.OperationCostInput, actor string) (*core.PropagationSummary, error) {
	return s.catalog.UpsertOperationCost(ctx, productID, input, actor)
}

func (s *appService) SaveGovernmentCost(ctx context.Context, productID int, input core.GovernmentCostInput, actor string) (*core.PropagationSummary, error) {
	return s.catalog.UpsertGovernmentCost(ctx, productID, input, actor)
}

func (s *appService) SaveLocalTransport(ctx context.Context, productID int, input core.LocalTransportInput, actor string) (*core.PropagationSummary, error) {
	return s.catalog.UpsertLocalTransport(ctx, productID, input, actor)
}

func (s *appService) SaveFreight(ctx context.Context, productID int, dest core.Destination, input core.FreightInput, actor string) (*core.PropagationSummary, error) {
	return s.catalog.UpsertInternationalTransport(ctx, productID, dest, input, actor)
}

func (s *appService) DeleteFreight(ctx context.Context, productID int, dest core.Destination, actor string) (*core.PropagationSummary, error) {
	return s.catalog.DeleteInternationalTransport(ctx, productID, dest, actor)
}

func (s *appService) RefreshProduct(ctx context.Context, productID int, actor string) (*core.PropagationSummary, error) {
	return s.propagator.PropagateProduct(ctx, productID, actor)
}

func (s *appService) CalculateDestination(ctx context.Context, productID int, dest core.Destination, actor string) (*core.CalculationRecord, error) {
	return s.propagator.ComputeAndRecord(ctx, productID, dest, actor)
}

func (s *appService) OverrideCalculation(ctx context.Context, calcID int, req OverrideRequest, actor string) (*core.CalculationRecord, error) {
	rec, err := s.propagator.OverrideCurrent(ctx, calcID, req.Overrides, actor)
	if err != nil {
		return nil, err
	}
	if req.Reason != "" {
		s.log.WithFields(logrus.Fields{
			"calculation_id": rec.ID,
			"triggered_by":   actor,
			"reason":         req.Reason,
		}).Info("override reason")
	}
	return rec, nil
}

func (s *appService) GetCalculation(ctx context.Context, calcID int) (*core.CalculationRecord, error) {
	return s.queries.Calculation(ctx, calcID)
}

func (s *appService) CurrentCalculations(ctx context.Context, productID int) ([]core.CalculationRecord, error) {
	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.queries.CurrentCalculations(ctx, productID)
}

func (s *appService) CalculationHistory(ctx context.Context, productID int, dest core.Destination, limit int) ([]core.CalculationRecord, error) {
	return core.CollectHistory(s.queries.CalculationHistory(ctx, productID, dest, limit))
}

func (s *appService) ExportCalculationHistory(ctx context.Context, w io.Writer, productID int, dest core.Destination) error {
	records, err := s.CalculationHistory(ctx, productID, dest, core.MaxHistoryLimit)
	if err != nil {
		return err
	}
	return report.ExportCalculationHistory(w, records)
}

func (s *appService) CreateSnapshot(ctx context.Context, input core.SnapshotInput) (*core.MarketSnapshot, error) {
	return s.snapshots.Create(ctx, input)
}

func (s *appService) ListSnapshots(ctx context.Context) ([]core.MarketSnapshot, error) {
	return s.snapshots.List(ctx)
}

func (s *appService) RecentSnapshots(ctx context.Context, limit int) ([]core.MarketSnapshot, error) {
	return s.snapshots.Recent(ctx, limit)
}

func (s *appService) CurrentSnapshot(ctx context.Context, productID int) (*core.MarketSnapshot, error) {
	return s.queries.CurrentSnapshot(ctx, productID)
}

func (s *appService) SnapshotHistory(ctx context.Context, productID int, from, to time.Time) ([]core.MarketSnapshotArchive, error) {
	return s.queries.SnapshotHistory(ctx, productID, from, to)
}

func (s *appService) ExportSnapshotHistory(ctx context.Context, w io.Writer, productID int, from, to time.Time) error {
	archives, err := s.SnapshotHistory(ctx, productID, from, to)
	if err != nil {
		return err
	}
	return report.ExportSnapshotHistory(w, archives)
}

func (s *appService) LinkSnapshot(ctx context.Context, productID, snapshotID int, actor string) (*core.PropagationSummary, error) {
	return s.catalog.LinkSnapshot(ctx, productID, snapshotID, actor)
}

func (s *appService) UnlinkSnapshot(ctx context.Context, productID int) error {
	return s.catalog.UnlinkSnapshot(ctx, productID)
}

func (s *appService) AuditLedger(ctx context.Context) ([]core.AuditFinding, error) {
	return s.auditor.Run(ctx)
}
