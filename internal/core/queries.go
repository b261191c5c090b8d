package core

import (
	"context"
	"iter"
	"time"
)

// MarketQueries is the read side used to render prices and history.
type MarketQueries struct {
	snapshots *SnapshotStore
	ledger    *CalculationLedger
	cache     SnapshotCache
}

func NewMarketQueries(snapshots *SnapshotStore, ledger *CalculationLedger, cache SnapshotCache) *MarketQueries {
	if cache == nil {
		cache = nopCache{}
	}
	return &MarketQueries{snapshots: snapshots, ledger: ledger, cache: cache}
}

// CurrentSnapshot returns the product's snapshot, served from cache when possible.
func (q *MarketQueries) CurrentSnapshot(ctx context.Context, productID int) (*MarketSnapshot, error) {
	snap, gen, ok := q.cache.Get(ctx, productID)
	if ok {
		return snap, nil
	}
	snap, err := q.snapshots.ForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	q.cache.Set(ctx, productID, gen, snap)
	return snap, nil
}

// SnapshotHistory returns the archived versions of the product's snapshot within
// [from, to], newest first.
func (q *MarketQueries) SnapshotHistory(ctx context.Context, productID int, from, to time.Time) ([]MarketSnapshotArchive, error) {
	snap, err := q.snapshots.ForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return q.snapshots.History(ctx, snap.ID, from, to)
}

func (q *MarketQueries) CalculationHistory(ctx context.Context, productID int, dest Destination, limit int) iter.Seq2[CalculationRecord, error] {
	return q.ledger.History(ctx, productID, dest, limit)
}

func (q *MarketQueries) Calculation(ctx context.Context, id int) (*CalculationRecord, error) {
	return q.ledger.Get(ctx, id)
}

func (q *MarketQueries) CurrentCalculations(ctx context.Context, productID int) ([]CalculationRecord, error) {
	return q.ledger.CurrentForProduct(ctx, productID)
}
