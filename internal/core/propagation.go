package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commodity-desk/internal/db"
	"commodity-desk/internal/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ArchivePolicy string

const (
	// ArchiveAlways archives the snapshot on every pass that recorded a calculation,
	// even when no stored value moved.
	ArchiveAlways ArchivePolicy = "always"
	// ArchiveOnChange skips both the archive row and the update when the pass left the
	// snapshot exactly as it was.
	ArchiveOnChange ArchivePolicy = "on_change"
)

const (
	defaultConflictRetries = 3
	defaultFanoutBatchSize = 100
)

var tracer = otel.Tracer("commodity-desk/internal/core")

type PropagatorOptions struct {
	Locker          ProductLocker
	Cache           SnapshotCache
	Events          EventPublisher
	Logger          logrus.FieldLogger
	ArchivePolicy   ArchivePolicy
	ConflictRetries int
	FanoutBatchSize int
}

// Propagator turns a change of pricing inputs into new ledger records and an updated,
// archived market snapshot. Each pass over a product is one transaction holding the
// product's row lock.
type Propagator struct {
	pool      *pgxpool.Pool
	catalog   *CatalogStore
	rates     *ExchangeRateStore
	ledger    *CalculationLedger
	snapshots *SnapshotStore

	locker  ProductLocker
	cache   SnapshotCache
	events  EventPublisher
	log     logrus.FieldLogger
	policy  ArchivePolicy
	retries int
	batch   int
}

func NewPropagator(pool *pgxpool.Pool, catalog *CatalogStore, rates *ExchangeRateStore, ledger *CalculationLedger, snapshots *SnapshotStore, opts PropagatorOptions) *Propagator {
	p := &Propagator{
		pool:      pool,
		catalog:   catalog,
		rates:     rates,
		ledger:    ledger,
		snapshots: snapshots,
		locker:    opts.Locker,
		cache:     opts.Cache,
		events:    opts.Events,
		log:       opts.Logger,
		policy:    opts.ArchivePolicy,
		retries:   opts.ConflictRetries,
		batch:     opts.FanoutBatchSize,
	}
	if p.locker == nil {
		p.locker = nopLocker{}
	}
	if p.cache == nil {
		p.cache = nopCache{}
	}
	if p.events == nil {
		p.events = nopPublisher{}
	}
	if p.log == nil {
		p.log = logger.Discard()
	}
	if p.policy == "" {
		p.policy = ArchiveAlways
	}
	if p.retries <= 0 {
		p.retries = defaultConflictRetries
	}
	if p.batch <= 0 {
		p.batch = defaultFanoutBatchSize
	}
	return p
}

// PropagateProduct recomputes every destination of a product and syncs its snapshot.
// Destinations lacking data are skipped and reported in the summary.
func (p *Propagator) PropagateProduct(ctx context.Context, productID int, actor string) (*PropagationSummary, error) {
	return p.Write(ctx, productID, actor, nil)
}

// Write runs write followed by a propagation pass for productID, both in one transaction.
// A nil write runs the pass alone.
func (p *Propagator) Write(ctx context.Context, productID int, actor string, write func(ctx context.Context, tx pgx.Tx) error) (*PropagationSummary, error) {
	ctx, span := tracer.Start(ctx, "core.Propagate", trace.WithAttributes(attribute.Int("product.id", productID)))
	defer span.End()

	var sum *PropagationSummary
	var ev *SnapshotEvent
	err := p.withProduct(ctx, productID, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := p.catalog.LockProductTx(ctx, tx, productID); err != nil {
			return err
		}
		if write != nil {
			if err := write(ctx, tx); err != nil {
				return err
			}
		}
		var err error
		sum, ev, err = p.propagateTx(ctx, tx, productID, actor)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p.afterCommit(ctx, productID, ev)
	p.logPass(sum)
	return sum, nil
}

// WriteNew is Write for a product that does not exist yet: create returns its id.
func (p *Propagator) WriteNew(ctx context.Context, actor string, create func(ctx context.Context, tx pgx.Tx) (int, error)) (*PropagationSummary, error) {
	ctx, span := tracer.Start(ctx, "core.PropagateNew")
	defer span.End()

	var sum *PropagationSummary
	err := p.retry(ctx, 0, func(ctx context.Context, tx pgx.Tx) error {
		id, err := create(ctx, tx)
		if err != nil {
			return err
		}
		sum, _, err = p.propagateTx(ctx, tx, id, actor)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p.logPass(sum)
	return sum, nil
}

func (p *Propagator) propagateTx(ctx context.Context, tx pgx.Tx, productID int, actor string) (*PropagationSummary, *SnapshotEvent, error) {
	product, err := p.catalog.LockProductTx(ctx, tx, productID)
	if err != nil {
		return nil, nil, err
	}
	comps, err := p.catalog.ComponentsTx(ctx, tx, *product)
	if err != nil {
		return nil, nil, err
	}
	rate, err := p.rates.LatestTx(ctx, tx)
	if err != nil {
		return nil, nil, err
	}

	sum := &PropagationSummary{ProductID: productID, Skipped: make(map[Destination]string)}
	order := comps.Destinations()
	prices := make(map[Destination]decimal.Decimal, len(order))
	for _, dest := range order {
		res, err := CalculateCNF(comps, rate, dest)
		if err != nil {
			if errors.Is(err, ErrMissingFreight) || errors.Is(err, ErrMissingExchangeRate) {
				sum.Skipped[dest] = err.Error()
				p.log.WithFields(logrus.Fields{
					"product_id":  productID,
					"destination": dest,
					"reason":      err.Error(),
				}).Warn("destination skipped")
				continue
			}
			return nil, nil, err
		}
		rec, err := p.ledger.RecordTx(ctx, tx, res, nil, actor)
		if err != nil {
			return nil, nil, err
		}
		sum.Recorded = append(sum.Recorded, *rec)
		prices[dest] = rec.SnapshotPrice()
	}

	if len(sum.Recorded) == 0 || product.MarketSnapshotID == nil {
		return sum, nil, nil
	}
	ev, err := p.syncSnapshotTx(ctx, tx, *product, order, prices, nil, actor)
	if err != nil {
		return nil, nil, err
	}
	sum.SnapshotID = product.MarketSnapshotID
	if ev != nil {
		sum.ArchiveID = &ev.ArchiveID
		sum.Trend = &ev.Trend
		sum.Forecast = ev.Forecast
		sum.Changed = ev.Changed
	}
	return sum, ev, nil
}

// syncSnapshotTx archives the product's snapshot and writes prices onto it. It returns
// nil when the archive policy decided nothing needed writing.
func (p *Propagator) syncSnapshotTx(ctx context.Context, tx pgx.Tx, product Product, order []Destination, prices, baseline map[Destination]decimal.Decimal, actor string) (*SnapshotEvent, error) {
	snap, err := p.snapshots.GetForUpdateTx(ctx, tx, *product.MarketSnapshotID)
	if err != nil {
		return nil, err
	}
	before := *snap
	changed, _ := ApplyPrices(snap, order, prices, baseline)

	if p.policy == ArchiveOnChange && len(changed) == 0 && snap.Trend == before.Trend && snap.Forecast == before.Forecast {
		return nil, nil
	}

	archiveID, err := p.snapshots.ArchiveTx(ctx, tx, before)
	if err != nil {
		return nil, err
	}
	if err := p.snapshots.SaveTx(ctx, tx, snap); err != nil {
		return nil, err
	}
	return &SnapshotEvent{
		SnapshotID:  snap.ID,
		ProductID:   product.ID,
		ArchiveID:   archiveID,
		Trend:       snap.Trend,
		Forecast:    snap.Forecast,
		Changed:     changed,
		TriggeredBy: actor,
		OccurredAt:  snap.LastUpdate,
	}, nil
}

// ComputeAndRecord recomputes one destination. Unlike a propagation pass it fails on
// missing data instead of skipping. Only that destination's snapshot column is synced.
func (p *Propagator) ComputeAndRecord(ctx context.Context, productID int, dest Destination, actor string) (*CalculationRecord, error) {
	ctx, span := tracer.Start(ctx, "core.ComputeAndRecord", trace.WithAttributes(
		attribute.Int("product.id", productID),
		attribute.String("destination", string(dest)),
	))
	defer span.End()

	var rec *CalculationRecord
	var ev *SnapshotEvent
	err := p.withProduct(ctx, productID, func(ctx context.Context, tx pgx.Tx) error {
		product, err := p.catalog.LockProductTx(ctx, tx, productID)
		if err != nil {
			return err
		}
		comps, err := p.catalog.ComponentsTx(ctx, tx, *product)
		if err != nil {
			return err
		}
		rate, err := p.rates.LatestTx(ctx, tx)
		if err != nil {
			return err
		}
		res, err := CalculateCNF(comps, rate, dest)
		if err != nil {
			return err
		}
		rec, err = p.ledger.RecordTx(ctx, tx, res, nil, actor)
		if err != nil {
			return err
		}
		ev, err = p.syncOneTx(ctx, tx, *product, *rec, nil, actor)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p.afterCommit(ctx, productID, ev)
	return rec, nil
}

// OverrideCurrent derives a manual override from the current record calcID and shows
// it on the snapshot. The snapshot trend is measured against the overridden record.
func (p *Propagator) OverrideCurrent(ctx context.Context, calcID int, overrides map[string]decimal.Decimal, actor string) (*CalculationRecord, error) {
	ctx, span := tracer.Start(ctx, "core.OverrideCurrent", trace.WithAttributes(attribute.Int("calculation.id", calcID)))
	defer span.End()

	head, err := p.ledger.Get(ctx, calcID)
	if err != nil {
		return nil, err
	}
	if !head.IsCurrent {
		return nil, fmt.Errorf("%w: calculation %d was superseded", ErrNotCurrent, calcID)
	}

	var child *CalculationRecord
	var ev *SnapshotEvent
	err = p.withProduct(ctx, head.ProductID, func(ctx context.Context, tx pgx.Tx) error {
		product, err := p.catalog.LockProductTx(ctx, tx, head.ProductID)
		if err != nil {
			return err
		}
		parent, derived, err := p.ledger.OverrideTx(ctx, tx, calcID, overrides, actor)
		if err != nil {
			return err
		}
		child = derived
		baseline := map[Destination]decimal.Decimal{parent.Destination: parent.SnapshotPrice()}
		ev, err = p.syncOneTx(ctx, tx, *product, *derived, baseline, actor)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p.afterCommit(ctx, head.ProductID, ev)
	p.log.WithFields(logrus.Fields{
		"calculation_id": child.ID,
		"parent_id":      calcID,
		"product_id":     child.ProductID,
		"destination":    child.Destination,
		"triggered_by":   actor,
	}).Info("manual override recorded")
	return child, nil
}

func (p *Propagator) syncOneTx(ctx context.Context, tx pgx.Tx, product Product, rec CalculationRecord, baseline map[Destination]decimal.Decimal, actor string) (*SnapshotEvent, error) {
	if product.MarketSnapshotID == nil {
		return nil, nil
	}
	if _, ok := rec.Destination.SnapshotColumn(); !ok {
		return nil, nil
	}
	order := []Destination{rec.Destination}
	prices := map[Destination]decimal.Decimal{rec.Destination: rec.SnapshotPrice()}
	return p.syncSnapshotTx(ctx, tx, product, order, prices, baseline, actor)
}

// PropagateExchangeRateChange re-prices every product with a linked snapshot after a
// rate change. Products are paged in id order; each one is its own transaction, so a
// failing product is rolled back and reported without stopping the others.
func (p *Propagator) PropagateExchangeRateChange(ctx context.Context, rate ExchangeRate, actor string) (*FanoutSummary, error) {
	ctx, span := tracer.Start(ctx, "core.PropagateExchangeRateChange", trace.WithAttributes(
		attribute.Int("exchange_rate.id", rate.ID),
		attribute.String("exchange_rate.rate", rate.Rate.String()),
	))
	defer span.End()

	sum := &FanoutSummary{Rate: rate, Failed: make(map[int]string)}
	after := 0
	for {
		ids, err := p.catalog.LinkedProductIDs(ctx, after, p.batch)
		if err != nil {
			span.RecordError(err)
			return sum, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			sum.Products++
			ps, err := p.PropagateProduct(ctx, id, actor)
			if err != nil {
				sum.Failed[id] = err.Error()
				logger.LogError(p.log, "core", "PropagateExchangeRateChange", "product pass failed", map[string]any{"product_id": id}, err)
				continue
			}
			sum.Recorded += len(ps.Recorded)
			sum.Summaries = append(sum.Summaries, *ps)
		}
		if len(ids) < p.batch {
			break
		}
		after = ids[len(ids)-1]
	}

	span.SetAttributes(attribute.Int("products", sum.Products), attribute.Int("failed", len(sum.Failed)))
	p.log.WithFields(logrus.Fields{
		"exchange_rate_id": rate.ID,
		"rate":             rate.Rate.String(),
		"products":         sum.Products,
		"recorded":         sum.Recorded,
		"failed":           len(sum.Failed),
	}).Info("exchange rate fan-out finished")
	return sum, nil
}

// withProduct runs fn in a transaction under the product lock, retrying on conflicts.
func (p *Propagator) withProduct(ctx context.Context, productID int, fn func(ctx context.Context, tx pgx.Tx) error) error {
	unlock, err := p.locker.Lock(ctx, productID)
	if err != nil {
		return fmt.Errorf("failed to lock product %d: %w", productID, err)
	}
	defer unlock()
	return p.retry(ctx, productID, fn)
}

func (p *Propagator) retry(ctx context.Context, productID int, fn func(ctx context.Context, tx pgx.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := p.inTx(ctx, fn)
		if err == nil {
			return nil
		}
		if attempt >= p.retries || !isConflict(err) {
			return err
		}
		p.log.WithFields(logrus.Fields{
			"product_id": productID,
			"attempt":    attempt + 1,
			"error":      err.Error(),
		}).Warn("retrying after concurrent update")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
}

func (p *Propagator) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isConflict(err) {
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || db.IsRetryable(err)
}

func (p *Propagator) afterCommit(ctx context.Context, productID int, ev *SnapshotEvent) {
	p.cache.Invalidate(ctx, productID)
	if ev == nil {
		return
	}
	if err := p.events.PublishSnapshotUpdated(ctx, *ev); err != nil {
		logger.LogError(p.log, "core", "afterCommit", "publish snapshot event", ev, err)
	}
}

func (p *Propagator) logPass(sum *PropagationSummary) {
	if sum == nil {
		return
	}
	fields := logrus.Fields{
		"product_id": sum.ProductID,
		"recorded":   len(sum.Recorded),
		"skipped":    len(sum.Skipped),
	}
	if sum.ArchiveID != nil {
		fields["archive_id"] = *sum.ArchiveID
	}
	p.log.WithFields(fields).Info("propagation pass committed")
}
