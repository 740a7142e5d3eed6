package oracle

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection parameters for the shared price cache.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	TLSEnabled bool
	// KeyTTL expires prices nobody refreshes; zero keeps them forever.
	KeyTTL time.Duration
}

// updateLua writes a price only when it is newer than the stored one, so
// several feed replicas can share the cache without reordering readings.
const updateLua = `
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) >= tonumber(ARGV[3]) then
    return 0
end
redis.call('HSET', KEYS[1], 'value', ARGV[1], 'decimals', ARGV[2], 'ts', ARGV[3])
if tonumber(ARGV[4]) > 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`

// RedisCache stores each market's price as a hash at "price:{market}" with
// fields value, decimals and ts (unix nanoseconds).
type RedisCache struct {
	rdb      *redis.Client
	updateSc *redis.Script
	ttl      time.Duration
	now      func() time.Time
}

// NewRedisCache connects and pings Redis.
func NewRedisCache(ctx context.Context, cfg RedisConfig, now func() time.Time) (*RedisCache, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return newRedisCache(rdb, cfg.KeyTTL, now), nil
}

func newRedisCache(rdb *redis.Client, ttl time.Duration, now func() time.Time) *RedisCache {
	if now == nil {
		now = time.Now
	}
	return &RedisCache{
		rdb:      rdb,
		updateSc: redis.NewScript(updateLua),
		ttl:      ttl,
		now:      now,
	}
}

func priceKey(market common.Hash) string {
	return "price:" + market.Hex()
}

func (c *RedisCache) Update(ctx context.Context, market common.Hash, p Price) error {
	err := c.updateSc.Run(ctx, c.rdb, []string{priceKey(market)},
		strconv.FormatInt(p.Value, 10),
		strconv.FormatInt(int64(p.Decimals), 10),
		strconv.FormatInt(p.ObservedAt.UnixNano(), 10),
		strconv.FormatInt(c.ttl.Milliseconds(), 10),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: update price %s: %w", market.Hex(), err)
	}
	return nil
}

func (c *RedisCache) GetPriceWithFreshness(ctx context.Context, market common.Hash, maxAge time.Duration) (Price, error) {
	vals, err := c.rdb.HGetAll(ctx, priceKey(market)).Result()
	if err != nil {
		return Price{}, fmt.Errorf("redis: get price %s: %w", market.Hex(), err)
	}
	if len(vals) == 0 {
		return Price{}, ErrPriceUnavailable
	}

	p, err := parsePriceHash(vals)
	if err != nil {
		return Price{}, fmt.Errorf("redis: price %s: %w", market.Hex(), err)
	}
	if err := checkFresh(p, c.now(), maxAge); err != nil {
		return Price{}, err
	}
	return p, nil
}

func parsePriceHash(vals map[string]string) (Price, error) {
	value, err := strconv.ParseInt(vals["value"], 10, 64)
	if err != nil {
		return Price{}, fmt.Errorf("parse value: %w", err)
	}
	decimals, err := strconv.ParseInt(vals["decimals"], 10, 32)
	if err != nil {
		return Price{}, fmt.Errorf("parse decimals: %w", err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return Price{}, fmt.Errorf("parse ts: %w", err)
	}
	return Price{Value: value, Decimals: int32(decimals), ObservedAt: time.Unix(0, ts)}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

var _ PriceCache = (*RedisCache)(nil)
