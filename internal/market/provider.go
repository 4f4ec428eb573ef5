// Package market provides read-only market and account data used to derive
// command parameters: spot prices, balances, allowances, health factors and
// gas prices.
package market

import (
	"context"
	"math"
	"math/big"
	"net/http"

	xerrors "DeFiIntent-Chain/internal/errors"
)

// Provider 抽象了命令派生参数所需的外部数据源。
//
// 价格以美元计价，余额与授权额度以代币单位计价。数据源不掌握的数据返回 ErrNoData。
type Provider interface {
	SpotPrice(ctx context.Context, symbol string) (float64, error)
	Balance(ctx context.Context, chain, account, symbol string) (float64, error)
	Allowance(ctx context.Context, chain, owner, protocol, symbol string) (float64, error)
	HealthFactor(ctx context.Context, chain, account, protocol string) (HealthData, error)
	GasPrice(ctx context.Context, chain string) (*big.Int, error)
}

// HealthData 是借贷账户的抵押与负债概况，金额以美元计价。
// 没有负债时 Factor 为 +Inf。
type HealthData struct {
	Factor               float64 `yaml:"factor"`
	CollateralUSD        float64 `yaml:"collateral_usd"`
	DebtUSD              float64 `yaml:"debt_usd"`
	LiquidationThreshold float64 `yaml:"liquidation_threshold"`
}

// ProjectDebt 估算新增 extraDebtUSD 负债后的健康因子。
func (h HealthData) ProjectDebt(extraDebtUSD float64) (float64, bool) {
	debt := h.DebtUSD + extraDebtUSD
	if h.CollateralUSD <= 0 || h.LiquidationThreshold <= 0 || debt <= 0 {
		return 0, false
	}
	return h.CollateralUSD * h.LiquidationThreshold / debt, true
}

const CodeNoData xerrors.Code = "MARKET_DATA_UNAVAILABLE"

// ErrNoData 表示数据源没有请求的数据。
var ErrNoData = xerrors.New(CodeNoData, "market data unavailable")

func init() {
	xerrors.Register(CodeNoData, xerrors.Attributes{
		Message:    "market data unavailable",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
}

var weiPerGwei = big.NewFloat(1e9)

// GweiToWei 将 gwei 转换为 wei，按 wei 四舍五入。
func GweiToWei(gwei float64) *big.Int {
	if gwei <= 0 || math.IsNaN(gwei) || math.IsInf(gwei, 0) {
		return new(big.Int)
	}
	wei, _ := big.NewFloat(math.Round(gwei * 1e9)).Int(nil)
	return wei
}

// WeiToGwei 将 wei 转换为 gwei。
func WeiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerGwei).Float64()
	return gwei
}

// Fallback 依次尝试多个数据源，返回第一个成功的结果。
type Fallback []Provider

var _ Provider = Fallback(nil)

func firstOf[T any](f Fallback, call func(Provider) (T, error)) (T, error) {
	var zero T
	var lastErr error = ErrNoData
	for _, p := range f {
		if p == nil {
			continue
		}
		v, err := call(p)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

// SpotPrice 实现 Provider。
func (f Fallback) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	return firstOf(f, func(p Provider) (float64, error) { return p.SpotPrice(ctx, symbol) })
}

// Balance 实现 Provider。
func (f Fallback) Balance(ctx context.Context, chain, account, symbol string) (float64, error) {
	return firstOf(f, func(p Provider) (float64, error) { return p.Balance(ctx, chain, account, symbol) })
}

// Allowance 实现 Provider。
func (f Fallback) Allowance(ctx context.Context, chain, owner, protocol, symbol string) (float64, error) {
	return firstOf(f, func(p Provider) (float64, error) { return p.Allowance(ctx, chain, owner, protocol, symbol) })
}

// HealthFactor 实现 Provider。
func (f Fallback) HealthFactor(ctx context.Context, chain, account, protocol string) (HealthData, error) {
	return firstOf(f, func(p Provider) (HealthData, error) { return p.HealthFactor(ctx, chain, account, protocol) })
}

// GasPrice 实现 Provider。
func (f Fallback) GasPrice(ctx context.Context, chain string) (*big.Int, error) {
	return firstOf(f, func(p Provider) (*big.Int, error) { return p.GasPrice(ctx, chain) })
}
