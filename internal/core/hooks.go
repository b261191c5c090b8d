package core

import (
	"context"
	"time"
)

// ProductLocker serializes propagation passes for one product across processes.
// The database row lock still applies underneath; this lock keeps competing passes
// from queueing on the row while holding pool connections.
type ProductLocker interface {
	Lock(ctx context.Context, productID int) (unlock func(), err error)
}

// SnapshotCache is a read-through cache of snapshots keyed by product. Get returns a
// generation on a miss; Set stores only if no Invalidate happened since that generation
// was read, so a load that raced a committed write cannot be cached.
type SnapshotCache interface {
	Get(ctx context.Context, productID int) (snap *MarketSnapshot, gen int64, ok bool)
	Set(ctx context.Context, productID int, gen int64, snap *MarketSnapshot)
	Invalidate(ctx context.Context, productIDs ...int)
}

// SnapshotEvent announces a committed snapshot mutation.
type SnapshotEvent struct {
	SnapshotID  int                         `json:"snapshot_id"`
	ProductID   int                         `json:"product_id"`
	ArchiveID   int                         `json:"archive_id"`
	Trend       int                         `json:"trend"`
	Forecast    Forecast                    `json:"forecast"`
	Changed     map[Destination]PriceChange `json:"changed"`
	TriggeredBy string                      `json:"triggered_by,omitempty"`
	OccurredAt  time.Time                   `json:"occurred_at"`
}

// EventPublisher delivers snapshot events after the pass that produced them commits.
type EventPublisher interface {
	PublishSnapshotUpdated(ctx context.Context, ev SnapshotEvent) error
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context, int) (func(), error) { return func() {}, nil }

type nopCache struct{}

func (nopCache) Get(context.Context, int) (*MarketSnapshot, int64, bool) { return nil, 0, false }
func (nopCache) Set(context.Context, int, int64, *MarketSnapshot)        {}
func (nopCache) Invalidate(context.Context, ...int)                      {}

type nopPublisher struct{}

func (nopPublisher) PublishSnapshotUpdated(context.Context, SnapshotEvent) error { return nil }
