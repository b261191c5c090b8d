// Package cache keeps current market snapshots in Redis for the read path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"commodity-desk/internal/core"
	"commodity-desk/internal/logger"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "cnf:snapshot:"

// setIfCurrent stores the snapshot only while the product's generation still equals the
// one the reader saw before going to the database.
var setIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// SnapshotCache stores JSON-encoded snapshots per product. Redis failures are logged
// and treated as misses; the database stays the source of truth.
//
// Each product has a generation counter next to its cached value. Invalidate bumps it,
// so a reader that loaded the snapshot before a write committed cannot put the old
// version back.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
	log logrus.FieldLogger
}

func NewSnapshotCache(rdb *redis.Client, ttl time.Duration, log logrus.FieldLogger) *SnapshotCache {
	if log == nil {
		log = logger.Discard()
	}
	return &SnapshotCache{rdb: rdb, ttl: ttl, log: log}
}

// The braces keep both keys of a product in one cluster slot.
func key(productID int) string {
	return fmt.Sprintf("%s{product:%d}", keyPrefix, productID)
}

func genKey(productID int) string {
	return key(productID) + ":gen"
}

// Get returns the cached snapshot. On a miss it also returns the generation to pass to
// Set once the snapshot has been loaded.
func (c *SnapshotCache) Get(ctx context.Context, productID int) (*core.MarketSnapshot, int64, bool) {
	if c.rdb == nil {
		return nil, 0, false
	}
	pipe := c.rdb.Pipeline()
	dataCmd := pipe.Get(ctx, key(productID))
	genCmd := pipe.Get(ctx, genKey(productID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		logger.LogError(c.log, "cache", "Get", "redis get failed", productID, err)
		return nil, -1, false
	}

	gen, err := genCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		logger.LogError(c.log, "cache", "Get", "corrupt generation", productID, err)
		return nil, -1, false
	}

	val, err := dataCmd.Bytes()
	if err != nil {
		return nil, gen, false
	}
	var snap core.MarketSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		logger.LogError(c.log, "cache", "Get", "corrupt cached snapshot", productID, err)
		return nil, gen, false
	}
	return &snap, gen, true
}

// Set caches snap unless the product was invalidated since gen was read. A negative gen
// means the generation is unknown and nothing is stored.
func (c *SnapshotCache) Set(ctx context.Context, productID int, gen int64, snap *core.MarketSnapshot) {
	if c.rdb == nil || snap == nil || gen < 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		logger.LogError(c.log, "cache", "Set", "marshal snapshot", productID, err)
		return
	}
	keys := []string{key(productID), genKey(productID)}
	stored, err := setIfCurrent.Run(ctx, c.rdb, keys, strconv.FormatInt(gen, 10), data, c.ttl.Milliseconds()).Int()
	if err != nil {
		logger.LogError(c.log, "cache", "Set", "redis set failed", productID, err)
		return
	}
	if stored == 0 {
		c.log.WithField("product_id", productID).Debug("skipped caching snapshot loaded before a newer write")
	}
}

// Invalidate drops the cached snapshots and bumps their generations.
func (c *SnapshotCache) Invalidate(ctx context.Context, productIDs ...int) {
	if c.rdb == nil || len(productIDs) == 0 {
		return
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range productIDs {
			pipe.Incr(ctx, genKey(id))
			pipe.Del(ctx, key(id))
		}
		return nil
	})
	if err != nil {
		logger.LogError(c.log, "cache", "Invalidate", "redis invalidate failed", productIDs, err)
	}
}

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}
