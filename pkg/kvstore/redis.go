package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v8"

	"github.com/rlunar/aviation-cache-core/pkg/observability"
)

// RedisStore wraps a go-redis client implementing Store. By default it has
// no vector search capability; set RedisOptions.VectorSearch (or pass
// vectorSearch to NewRedisStoreFromClient) to get a
// RediSearch/Redis-Stack-backed implementation of the vector operations.
type RedisStore struct {
	client        *redis.Client
	logger        observability.Logger
	metrics       observability.MetricsClient
	vectorEnabled bool
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// VectorSearch enables FT.CREATE/FT.SEARCH-backed vector operations,
	// for use against a Redis Stack / RediSearch-capable server. Plain
	// Redis servers must leave this false; VectorIndexCreate/VectorKNN will
	// then return ErrNotSupported so callers can fall back to brute force.
	VectorSearch bool
}

// NewRedisStore dials a Redis server and returns a Store. A nil
// logger/metrics is replaced with a no-op implementation.
func NewRedisStore(opts RedisOptions, logger observability.Logger, metrics observability.MetricsClient) (*RedisStore, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &RedisStore{client: client, logger: logger, metrics: metrics, vectorEnabled: opts.VectorSearch}, nil
}

// NewRedisStoreFromClient wraps an already-constructed *redis.Client, for
// callers that manage the connection pool themselves (e.g. sharing one
// client across several components).
func NewRedisStoreFromClient(client *redis.Client, vectorSearch bool, logger observability.Logger, metrics observability.MetricsClient) *RedisStore {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &RedisStore{client: client, logger: logger, metrics: metrics, vectorEnabled: vectorSearch}
}

func wrapRedisErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (r *RedisStore) observe(op string, start time.Time, err error) {
	r.metrics.RecordHistogram("kvstore.redis."+op+"_duration_seconds", time.Since(start).Seconds(), map[string]string{"op": op})
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.metrics.IncrementCounter("kvstore.redis.errors", map[string]string{"op": op})
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := r.client.Get(ctx, key).Bytes()
	err = wrapRedisErr(err)
	r.observe("get", start, err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := wrapRedisErr(r.client.Set(ctx, key, value, ttl).Err())
	r.observe("set", start, err)
	return err
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	err = wrapRedisErr(err)
	r.observe("setnx", start, err)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	start := time.Now()
	n, err := r.client.Del(ctx, keys...).Result()
	err = wrapRedisErr(err)
	r.observe("del", start, err)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// compareAndDeleteScript is the standard Redis compare-and-delete idiom:
// delete key only if its current value matches the expected nonce.
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

func (r *RedisStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	start := time.Now()
	res, err := r.client.Eval(ctx, compareAndDeleteScript, []string{key}, expected).Result()
	err = wrapRedisErr(err)
	r.observe("cas_del", start, err)
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n > 0, nil
}

func (r *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()
	n, err := r.client.IncrBy(ctx, key, delta).Result()
	err = wrapRedisErr(err)
	r.observe("incrby", start, err)
	return n, err
}

func (r *RedisStore) ListPushRight(ctx context.Context, key string, value []byte) (int64, error) {
	start := time.Now()
	n, err := r.client.RPush(ctx, key, value).Result()
	err = wrapRedisErr(err)
	r.observe("rpush", start, err)
	return n, err
}

func (r *RedisStore) ListPopLeft(ctx context.Context, key string, count int64) ([][]byte, error) {
	start := time.Now()
	vals, err := r.client.LPopCount(ctx, key, int(count)).Result()
	if errors.Is(err, redis.Nil) {
		r.observe("lpop", start, nil)
		return nil, nil
	}
	err = wrapRedisErr(err)
	r.observe("lpop", start, err)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *RedisStore) ListLen(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := r.client.LLen(ctx, key).Result()
	err = wrapRedisErr(err)
	r.observe("llen", start, err)
	return n, err
}

func (r *RedisStore) ListRemove(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := wrapRedisErr(r.client.LRem(ctx, key, 1, value).Err())
	r.observe("lrem", start, err)
	return err
}

func (r *RedisStore) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	start := time.Now()
	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	err := wrapRedisErr(r.client.HSet(ctx, key, args).Err())
	r.observe("hset", start, err)
	return err
}

func (r *RedisStore) HashGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	start := time.Now()
	res, err := r.client.HGetAll(ctx, key).Result()
	err = wrapRedisErr(err)
	r.observe("hgetall", start, err)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(res))
	for k, v := range res {
		out[k] = []byte(v)
	}
	return out, nil
}

func (r *RedisStore) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	start := time.Now()
	keys, next, err := r.client.Scan(ctx, cursor, pattern, count).Result()
	err = wrapRedisErr(err)
	r.observe("scan", start, err)
	return keys, next, err
}

// VectorIndexCreate issues FT.CREATE against a Redis Stack / RediSearch
// server. Plain RedisStore instances (vectorEnabled == false) return
// ErrNotSupported, since vector search is an optional capability rather
// than a requirement of every Redis deployment.
func (r *RedisStore) VectorIndexCreate(ctx context.Context, name, prefix, field string, dim int, metric Metric, extraFields []VectorField) error {
	if !r.vectorEnabled {
		return ErrNotSupported
	}
	start := time.Now()
	args := []interface{}{
		"FT.CREATE", name, "ON", "HASH", "PREFIX", 1, prefix,
		"SCHEMA",
	}
	for _, f := range extraFields {
		args = append(args, f.Name, "TEXT")
	}
	args = append(args, field, "VECTOR", "HNSW", 6,
		"TYPE", "FLOAT32", "DIM", strconv.Itoa(dim), "DISTANCE_METRIC", redisMetricName(metric))

	err := r.client.Do(ctx, args...).Err()
	// FT.CREATE is not idempotent natively; "Index already exists" is the
	// expected outcome on repeat calls and is treated as success.
	if err != nil && !isIndexExistsErr(err) {
		err = wrapRedisErr(err)
		r.observe("ft_create", start, err)
		return err
	}
	r.observe("ft_create", start, nil)
	return nil
}

func (r *RedisStore) VectorKNN(ctx context.Context, name string, vector []float32, k int) ([]ScoredKey, error) {
	if !r.vectorEnabled {
		return nil, ErrNotSupported
	}
	start := time.Now()
	blob := encodeFloat32LE(vector)
	query := fmt.Sprintf("*=>[KNN %d @embedding $vec AS score]", k)
	res, err := r.client.Do(ctx, "FT.SEARCH", name, query,
		"PARAMS", 2, "vec", blob, "SORTBY", "score", "DIALECT", 2).Result()
	if err != nil {
		err = wrapRedisErr(err)
		r.observe("ft_search", start, err)
		return nil, err
	}
	r.observe("ft_search", start, nil)
	return parseFTSearchResults(res)
}

func redisMetricName(m Metric) string {
	switch m {
	case MetricCosine:
		return "COSINE"
	default:
		return "COSINE"
	}
}

func isIndexExistsErr(err error) bool {
	return err != nil && (contains(err.Error(), "Index already exists"))
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// parseFTSearchResults decodes the raw FT.SEARCH reply shape
// [total, key1, [field, value, ...], key2, [...], ...] into ScoredKeys. The
// distance returned under DISTANCE_METRIC COSINE is normalized to a
// similarity in pkg/vectorindex, not here: this layer only parses the wire
// reply.
func parseFTSearchResults(res interface{}) ([]ScoredKey, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) == 0 {
		return nil, nil
	}
	var out []ScoredKey
	for i := 1; i+1 < len(arr); i += 2 {
		key, _ := arr[i].(string)
		fields, _ := arr[i+1].([]interface{})
		var score float64
		for j := 0; j+1 < len(fields); j += 2 {
			name, _ := fields[j].(string)
			if name == "score" {
				if s, ok := fields[j+1].(string); ok {
					score, _ = strconv.ParseFloat(s, 64)
				}
			}
		}
		out = append(out, ScoredKey{Key: key, Score: score})
	}
	return out, nil
}
