package market

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StaticData models the structure of configs/market.yaml.
type StaticData struct {
	Prices        map[string]float64                       `yaml:"prices"`
	GasPriceGwei  map[string]float64                       `yaml:"gas_price_gwei"`
	Balances      map[string]map[string]float64            `yaml:"balances"`
	Allowances    map[string]map[string]map[string]float64 `yaml:"allowances"`
	HealthFactors map[string]map[string]HealthData         `yaml:"health_factors"`
}

// StaticProvider 使用固定数据回答查询，适合离线环境与测试。
// 账户地址与代币符号均大小写不敏感；链参数被忽略，gas 价格除外。
type StaticProvider struct {
	prices        map[string]float64
	gas           map[string]float64
	balances      map[string]map[string]float64
	allowances    map[string]map[string]map[string]float64
	healthFactors map[string]map[string]HealthData
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider 规范化并复制数据。
func NewStaticProvider(data StaticData) *StaticProvider {
	p := &StaticProvider{
		prices:        upperKeys(data.Prices),
		gas:           lowerKeys(data.GasPriceGwei),
		balances:      make(map[string]map[string]float64, len(data.Balances)),
		allowances:    make(map[string]map[string]map[string]float64, len(data.Allowances)),
		healthFactors: make(map[string]map[string]HealthData, len(data.HealthFactors)),
	}
	for account, tokens := range data.Balances {
		p.balances[strings.ToLower(account)] = upperKeys(tokens)
	}
	for account, protocols := range data.Allowances {
		inner := make(map[string]map[string]float64, len(protocols))
		for protocol, tokens := range protocols {
			inner[strings.ToLower(protocol)] = upperKeys(tokens)
		}
		p.allowances[strings.ToLower(account)] = inner
	}
	for account, protocols := range data.HealthFactors {
		inner := make(map[string]HealthData, len(protocols))
		for protocol, h := range protocols {
			inner[strings.ToLower(protocol)] = h
		}
		p.healthFactors[strings.ToLower(account)] = inner
	}
	return p
}

// LoadStatic 读取 YAML 数据文件，路径为空时返回内置默认数据。
func LoadStatic(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return NewStaticProvider(DefaultStaticData()), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取行情数据失败: %w", err)
	}
	var data StaticData
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("解析行情数据失败: %w", err)
	}
	return NewStaticProvider(data), nil
}

// DefaultStaticData 返回内置的参考价格与 gas 价格。
func DefaultStaticData() StaticData {
	return StaticData{
		Prices: map[string]float64{
			"ETH": 3000, "WETH": 3000, "STETH": 2995,
			"BTC": 60000, "WBTC": 60000,
			"USDC": 1, "USDT": 1, "DAI": 1, "FRAX": 1,
			"LINK": 15, "UNI": 8, "CRV": 0.5, "MKR": 2000, "LDO": 2,
			"ARB": 1, "OP": 2, "MATIC": 0.7, "SOL": 150,
		},
		GasPriceGwei: map[string]float64{
			"ethereum": 20, "arbitrum": 0.1, "optimism": 0.05, "polygon": 40,
			"base": 0.05, "bsc": 3, "avalanche": 25,
		},
	}
}

// SpotPrice 实现 Provider。
func (p *StaticProvider) SpotPrice(_ context.Context, symbol string) (float64, error) {
	if v, ok := p.prices[strings.ToUpper(symbol)]; ok {
		return v, nil
	}
	return 0, ErrNoData
}

// Balance 实现 Provider。
func (p *StaticProvider) Balance(_ context.Context, _ string, account, symbol string) (float64, error) {
	if v, ok := p.balances[strings.ToLower(account)][strings.ToUpper(symbol)]; ok {
		return v, nil
	}
	return 0, ErrNoData
}

// Allowance 实现 Provider。
func (p *StaticProvider) Allowance(_ context.Context, _ string, owner, protocol, symbol string) (float64, error) {
	if v, ok := p.allowances[strings.ToLower(owner)][strings.ToLower(protocol)][strings.ToUpper(symbol)]; ok {
		return v, nil
	}
	return 0, ErrNoData
}

// HealthFactor 实现 Provider。
func (p *StaticProvider) HealthFactor(_ context.Context, _ string, account, protocol string) (HealthData, error) {
	if v, ok := p.healthFactors[strings.ToLower(account)][strings.ToLower(protocol)]; ok {
		return v, nil
	}
	return HealthData{}, ErrNoData
}

// GasPrice 实现 Provider。
func (p *StaticProvider) GasPrice(_ context.Context, chain string) (*big.Int, error) {
	if v, ok := p.gas[strings.ToLower(chain)]; ok {
		return GweiToWei(v), nil
	}
	return nil, ErrNoData
}

func upperKeys(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

func lowerKeys(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
