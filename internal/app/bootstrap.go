package app

import (
	"context"
	"errors"

	"commodity-desk/internal/cache"
	"commodity-desk/internal/config"
	"commodity-desk/internal/core"
	"commodity-desk/internal/db"
	"commodity-desk/internal/events"
	"commodity-desk/internal/lock"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Runtime is a wired ApplicationService plus the resources it owns.
type Runtime struct {
	Service ApplicationService
	Pool    *pgxpool.Pool

	redis     *redis.Client
	publisher *events.SnapshotPublisher
}

// Bootstrap connects to Postgres (and Redis / Pub/Sub when configured), applies
// migrations if enabled and wires the service. Redis or Pub/Sub being unreachable is
// logged and the process continues with in-process locking and no events.
func Bootstrap(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*Runtime, error) {
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	rt := &Runtime{Pool: pool}
	opts := core.PropagatorOptions{
		Logger:          log,
		ArchivePolicy:   core.ArchivePolicy(cfg.ArchivePolicy),
		ConflictRetries: cfg.ConflictRetries,
		FanoutBatchSize: cfg.FanoutBatchSize,
		Locker:          lock.NewLocalLocker(),
	}

	var snapshotCache core.SnapshotCache
	if cfg.RedisAddress != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddress, cfg.RedisPassword)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, using in-process product locks and no snapshot cache")
		} else {
			rt.redis = rdb
			opts.Locker = lock.NewRedisLocker(rdb, cfg.LockTTL, log)
			c := cache.NewSnapshotCache(rdb, cfg.SnapshotCacheTTL, log)
			opts.Cache = c
			snapshotCache = c
		}
	}

	if cfg.PubSubProjectID != "" && cfg.PubSubTopic != "" {
		pub, err := events.Dial(ctx, cfg.PubSubProjectID, cfg.PubSubTopic, cfg.PubSubCredentials)
		if err != nil {
			log.WithError(err).Warn("pubsub unavailable, snapshot events disabled")
		} else {
			rt.publisher = pub
			opts.Events = pub
		}
	}

	rt.Service = Wire(pool, opts, snapshotCache)
	return rt, nil
}

// Wire builds the service graph over pool.
func Wire(pool *pgxpool.Pool, opts core.PropagatorOptions, snapshotCache core.SnapshotCache) ApplicationService {
	catalogStore := core.NewCatalogStore(pool)
	rates := core.NewExchangeRateStore(pool)
	ledger := core.NewCalculationLedger(pool)
	snapshots := core.NewSnapshotStore(pool)
	propagator := core.NewPropagator(pool, catalogStore, rates, ledger, snapshots, opts)

	return NewAppService(
		pool,
		core.NewCatalogService(catalogStore, propagator),
		propagator,
		core.NewMarketQueries(snapshots, ledger, snapshotCache),
		rates,
		snapshots,
		core.NewLedgerAuditor(pool),
		opts.Logger,
	)
}

// Close releases everything Bootstrap opened.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.publisher != nil {
		errs = append(errs, rt.publisher.Close())
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	return errors.Join(errs...)
}
