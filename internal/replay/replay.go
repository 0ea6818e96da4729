// Package replay implements C10: a distributed supplement to the
// in-process sequence counter in session.State, for deployments where a
// device's record-layer traffic can land on more than one server
// process (behind a load balancer, after a failover) and a single
// process's sequence counter can no longer be trusted alone. It tracks
// the highest accepted sequence per session KID in Redis, adapted from
// this repo's pubsub package's redis.Client usage.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard reports whether sequence is above the highest sequence accepted so
// far for kid and, if so, records it as the new highest.
type Guard interface {
	Accept(ctx context.Context, kid string, sequence uint64) (bool, error)
}

// RedisGuard stores the highest accepted sequence per KID as a Redis key,
// using a Lua-free compare-and-set built from WATCH/MULTI via the
// client's optimistic-locking transaction helper.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard connects to addr and expires idle session entries after
// ttl of inactivity.
func NewRedisGuard(addr string, db int, ttl time.Duration) *RedisGuard {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Accept(ctx context.Context, kid string, sequence uint64) (bool, error) {
	key := fmt.Sprintf("skdp:replay:%s", kid)
	accepted := false

	txf := func(tx *redis.Tx) error {
		highest, err := tx.Get(ctx, key).Uint64()
		if err != nil && err != redis.Nil {
			return err
		}
		if sequence <= highest {
			accepted = false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, sequence, g.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		accepted = true
		return nil
	}

	err := g.client.Watch(ctx, txf, key)
	if err != nil {
		return false, fmt.Errorf("replay: redis transaction: %w", err)
	}
	return accepted, nil
}

func (g *RedisGuard) Close() error { return g.client.Close() }

// MemoryGuard is an in-process fallback for single-node deployments or
// tests, tracking the same highest-accepted-sequence invariant without
// Redis.
type MemoryGuard struct {
	mu      sync.Mutex
	highest map[string]uint64
}

// NewMemoryGuard returns an empty MemoryGuard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{highest: make(map[string]uint64)}
}

func (m *MemoryGuard) Accept(_ context.Context, kid string, sequence uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sequence <= m.highest[kid] {
		return false, nil
	}
	m.highest[kid] = sequence
	return true, nil
}
