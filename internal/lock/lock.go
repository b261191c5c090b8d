// Package lock serializes propagation passes per product across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"commodity-desk/internal/logger"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// ErrNotObtained is returned when the product lock could not be taken before the
// context expired or the retry budget ran out.
var ErrNotObtained = errors.New("product lock not obtained")

const (
	keyPrefix    = "cnf:product:"
	retryBackoff = 50 * time.Millisecond
)

func productKey(productID int) string {
	return fmt.Sprintf("%s%d", keyPrefix, productID)
}

// RedisLocker holds a redislock lease per product. The lease expires after ttl so a
// crashed process cannot block a product forever; the database row lock still guards
// correctness within that window.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	log    logrus.FieldLogger
}

func NewRedisLocker(client redislock.RedisClient, ttl time.Duration, log logrus.FieldLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &RedisLocker{client: redislock.New(client), ttl: ttl, wait: ttl, log: log}
}

func (l *RedisLocker) Lock(ctx context.Context, productID int) (func(), error) {
	key := productKey(productID)

	obtainCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	lk, err := l.client.Obtain(obtainCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(retryBackoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		logger.LogError(l.log, "lock", "Lock", "could not obtain product lock", key, err)
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		logger.LogError(l.log, "lock", "Lock", "error obtaining product lock", key, err)
		return nil, err
	}

	return func() {
		// Release with a fresh context: the caller's may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lk.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.LogError(l.log, "lock", "Lock", "failed to release product lock", key, err)
		}
	}, nil
}

// LocalLocker serializes passes inside one process when no Redis is configured.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[int]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[int]*entry)}
}

func (l *LocalLocker) Lock(ctx context.Context, productID int) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[productID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[productID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(productID, e, false)
		return nil, fmt.Errorf("%w: %s: %w", ErrNotObtained, productKey(productID), ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(productID, e, true) })
	}, nil
}

func (l *LocalLocker) release(productID int, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, productID)
	}
	l.mu.Unlock()
}
