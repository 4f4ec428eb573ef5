package market

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	xerrors "DeFiIntent-Chain/internal/errors"
)

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	c.ttls[key] = ttl
	return nil
}

type countingProvider struct {
	Provider
	prices int
	gas    int
}

func (p *countingProvider) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	p.prices++
	return p.Provider.SpotPrice(ctx, symbol)
}

func (p *countingProvider) GasPrice(ctx context.Context, chain string) (*big.Int, error) {
	p.gas++
	return p.Provider.GasPrice(ctx, chain)
}

func TestStaticProviderLookups(t *testing.T) {
	p := NewStaticProvider(StaticData{
		Prices:        map[string]float64{"eth": 2500},
		GasPriceGwei:  map[string]float64{"Ethereum": 12.5},
		Balances:      map[string]map[string]float64{"0xAbC": {"usdc": 10000}},
		HealthFactors: map[string]map[string]HealthData{"0xabc": {"Aave": {Factor: 1.8, CollateralUSD: 18000, DebtUSD: 8000, LiquidationThreshold: 0.8}}},
		Allowances:    map[string]map[string]map[string]float64{"0xabc": {"aave": {"USDC": 500}}},
	})
	ctx := context.Background()

	if v, err := p.SpotPrice(ctx, "ETH"); err != nil || v != 2500 {
		t.Fatalf("spot price = %v, %v", v, err)
	}
	if _, err := p.SpotPrice(ctx, "PEPE"); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if v, err := p.Balance(ctx, "ethereum", "0xabc", "USDC"); err != nil || v != 10000 {
		t.Fatalf("balance = %v, %v", v, err)
	}
	h, err := p.HealthFactor(ctx, "ethereum", "0xABC", "aave")
	if err != nil || h.Factor != 1.8 {
		t.Fatalf("health factor = %+v, %v", h, err)
	}
	if projected, ok := h.ProjectDebt(1600); !ok || projected < 1.5-1e-9 || projected > 1.5+1e-9 {
		t.Fatalf("projected = %v, %v", projected, ok)
	}
	if _, ok := (HealthData{}).ProjectDebt(100); ok {
		t.Fatalf("projection without collateral must fail")
	}
	if v, err := p.Allowance(ctx, "ethereum", "0xabc", "AAVE", "usdc"); err != nil || v != 500 {
		t.Fatalf("allowance = %v, %v", v, err)
	}
	wei, err := p.GasPrice(ctx, "ethereum")
	if err != nil {
		t.Fatalf("gas price: %v", err)
	}
	if wei.Cmp(big.NewInt(12_500_000_000)) != 0 {
		t.Fatalf("gas price = %s wei", wei)
	}
	if gwei := WeiToGwei(wei); gwei != 12.5 {
		t.Fatalf("round trip gwei = %v", gwei)
	}
}

func TestLoadStaticFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "market.yaml")
	content := []byte(`prices:
  ETH: 3100
gas_price_gwei:
  arbitrum: 0.1
balances:
  "0x1111111111111111111111111111111111111111":
    USDC: 42
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v, _ := p.SpotPrice(context.Background(), "eth"); v != 3100 {
		t.Fatalf("price = %v", v)
	}
	if v, _ := p.Balance(context.Background(), "", "0x1111111111111111111111111111111111111111", "usdc"); v != 42 {
		t.Fatalf("balance = %v", v)
	}

	def, err := LoadStatic("")
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if v, _ := def.SpotPrice(context.Background(), "USDC"); v != 1 {
		t.Fatalf("default USDC price = %v", v)
	}
	if _, err := LoadStatic(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestCachedProviderServesFromCache(t *testing.T) {
	inner := &countingProvider{Provider: NewStaticProvider(DefaultStaticData())}
	cache := newMemoryCache()
	p := NewCachedProvider(inner, cache, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := p.SpotPrice(ctx, "eth")
		if err != nil || v != 3000 {
			t.Fatalf("spot price = %v, %v", v, err)
		}
		if _, err := p.GasPrice(ctx, "ethereum"); err != nil {
			t.Fatalf("gas price: %v", err)
		}
	}
	if inner.prices != 1 || inner.gas != 1 {
		t.Fatalf("expected one upstream call each, got prices=%d gas=%d", inner.prices, inner.gas)
	}
	if cache.ttls["price:ETH"] != time.Minute {
		t.Fatalf("unexpected ttl %v", cache.ttls["price:ETH"])
	}
	if _, err := p.SpotPrice(ctx, "PEPE"); !errors.Is(err, ErrNoData) {
		t.Fatalf("misses must not be cached as values: %v", err)
	}
	if _, ok := cache.values["price:PEPE"]; ok {
		t.Fatalf("unexpected cache entry for missing price")
	}
}

func TestFallbackReturnsFirstSuccess(t *testing.T) {
	empty := NewStaticProvider(StaticData{})
	full := NewStaticProvider(StaticData{Prices: map[string]float64{"ETH": 1234}})
	f := Fallback{empty, nil, full}

	if v, err := f.SpotPrice(context.Background(), "ETH"); err != nil || v != 1234 {
		t.Fatalf("fallback price = %v, %v", v, err)
	}
	if _, err := f.Balance(context.Background(), "ethereum", "0x0", "ETH"); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if _, err := (Fallback{}).GasPrice(context.Background(), "ethereum"); !errors.Is(err, ErrNoData) {
		t.Fatalf("empty fallback should report ErrNoData, got %v", err)
	}
}

func TestNewRedisCacheReportsConnectionErrors(t *testing.T) {
	if _, err := NewRedisCache(RedisCacheConfig{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("empty address error = %v", err)
	}
	// 端口 1 上没有 Redis，连接被拒绝。
	_, err := NewRedisCache(RedisCacheConfig{Address: "127.0.0.1:1"})
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("unreachable redis error = %v", err)
	}
}
