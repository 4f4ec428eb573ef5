package market

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/pkg/logger"
)

// Cache 是价格缓存的最小接口。
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisCacheConfig 描述 Redis 缓存的连接参数。
type RedisCacheConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisCache 使用 Redis 字符串键实现 Cache。
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache 连接 Redis 并返回缓存实例。
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "连接 Redis 失败")
	}
	return NewRedisCacheWithClient(client, cfg.Prefix), nil
}

// NewRedisCacheWithClient 复用已有的 Redis 客户端。
func NewRedisCacheWithClient(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "intentd:market:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Get 读取缓存值。
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "读取 Redis 缓存失败")
	}
	return value, true, nil
}

// Set 写入缓存值。
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "写入 Redis 缓存失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// CachedProvider 为价格与 gas 价格加一层 TTL 缓存，其余查询直接透传。
// 缓存故障只记录日志，不影响查询结果。
type CachedProvider struct {
	next   Provider
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider 创建带缓存的数据源。
func NewCachedProvider(next Provider, cache Cache, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedProvider{next: next, cache: cache, ttl: ttl, logger: logger.Named("market_cache")}
}

// SpotPrice 优先从缓存读取价格。
func (p *CachedProvider) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	key := "price:" + strings.ToUpper(symbol)
	if raw, ok := p.lookup(ctx, key); ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v, nil
		}
	}
	v, err := p.next.SpotPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	p.store(ctx, key, strconv.FormatFloat(v, 'g', -1, 64))
	return v, nil
}

// GasPrice 优先从缓存读取 gas 价格。
func (p *CachedProvider) GasPrice(ctx context.Context, chain string) (*big.Int, error) {
	key := "gas:" + strings.ToLower(chain)
	if raw, ok := p.lookup(ctx, key); ok {
		if v, ok := new(big.Int).SetString(raw, 10); ok {
			return v, nil
		}
	}
	v, err := p.next.GasPrice(ctx, chain)
	if err != nil {
		return nil, err
	}
	p.store(ctx, key, v.String())
	return v, nil
}

// Balance 透传到下游数据源。
func (p *CachedProvider) Balance(ctx context.Context, chain, account, symbol string) (float64, error) {
	return p.next.Balance(ctx, chain, account, symbol)
}

// Allowance 透传到下游数据源。
func (p *CachedProvider) Allowance(ctx context.Context, chain, owner, protocol, symbol string) (float64, error) {
	return p.next.Allowance(ctx, chain, owner, protocol, symbol)
}

// HealthFactor 透传到下游数据源。
func (p *CachedProvider) HealthFactor(ctx context.Context, chain, account, protocol string) (HealthData, error) {
	return p.next.HealthFactor(ctx, chain, account, protocol)
}

func (p *CachedProvider) lookup(ctx context.Context, key string) (string, bool) {
	if p.cache == nil {
		return "", false
	}
	raw, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn("读取行情缓存失败", slog.String("key", key), slog.Any("error", err))
		return "", false
	}
	return raw, ok
}

func (p *CachedProvider) store(ctx context.Context, key, value string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, key, value, p.ttl); err != nil {
		p.logger.Warn("写入行情缓存失败", slog.String("key", key), slog.Any("error", err))
	}
}
