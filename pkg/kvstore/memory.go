package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v8"

	"github.com/rlunar/aviation-cache-core/pkg/observability"
)

// MemoryStore is a single-process, in-memory KVStore backed by
// alicebob/miniredis. It implements every operation RedisStore does except
// vector search, which always returns ErrNotSupported since miniredis does
// not implement RediSearch. It is the backend of choice for unit tests and
// local demos: no external server required.
type MemoryStore struct {
	*RedisStore
	server *miniredis.Miniredis
}

// NewMemoryStore starts an embedded miniredis instance and wraps it in the
// same Store implementation RedisStore uses, so call sites never know the
// difference.
func NewMemoryStore(logger observability.Logger, metrics observability.MetricsClient) (*MemoryStore, error) {
	server := miniredis.NewMiniRedis()
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("kvstore: start miniredis: %w", err)
	}

	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		server.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &MemoryStore{
		RedisStore: NewRedisStoreFromClient(client, false, logger, metrics),
		server:     server,
	}, nil
}

// FastForward advances miniredis's internal clock, letting tests observe TTL
// expiry without sleeping in real time.
func (m *MemoryStore) FastForward(d time.Duration) { m.server.FastForward(d) }

// Close stops the embedded server.
func (m *MemoryStore) Close() { m.server.Close() }

// Addr returns the embedded server's address, for tests that want to open a
// second client against the same in-memory dataset.
func (m *MemoryStore) Addr() string { return m.server.Addr() }
