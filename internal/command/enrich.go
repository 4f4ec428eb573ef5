package command

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"DeFiIntent-Chain/internal/defi"
	"DeFiIntent-Chain/internal/market"
	"DeFiIntent-Chain/pkg/logger"
)

const (
	defaultEnrichTimeout = 1500 * time.Millisecond
	defaultChain         = "ethereum"

	// referenceDepthUSD 是估算价格冲击时假设的池子深度。
	referenceDepthUSD = 5_000_000.0
	// collateralThreshold 是按余额估算健康因子时使用的清算阈值。
	collateralThreshold = 0.8
)

var defaultCategoryFee = map[defi.ProtocolCategory]float64{
	defi.CategoryDEX:         0.003,
	defi.CategoryDerivatives: 0.001,
}

// Enrichment 是派生参数计算的结果。
type Enrichment struct {
	Derived *defi.ParamSet
	Notes   defi.ValidationErrors
}

// Enricher 并发计算派生参数。单项失败或超时只会让该参数缺省。
type Enricher struct {
	provider market.Provider
	catalog  *defi.Catalog
	timeout  time.Duration
	logger   *slog.Logger
}

// NewEnricher 创建派生参数计算器。provider 为空时只计算不依赖外部数据的参数。
func NewEnricher(provider market.Provider, catalog *defi.Catalog, timeout time.Duration) *Enricher {
	if catalog == nil {
		catalog = defi.DefaultCatalog()
	}
	if timeout <= 0 {
		timeout = defaultEnrichTimeout
	}
	return &Enricher{provider: provider, catalog: catalog, timeout: timeout, logger: logger.Named("enricher")}
}

type derivedValue struct {
	name  defi.ParamName
	value float64
}

type enrichTask struct {
	name defi.ParamName
	run  func(ctx context.Context) (float64, error)
}

// Enrich 计算模板声明的派生参数。
func (e *Enricher) Enrich(ctx context.Context, parsed *ParsedCommand, pctx *defi.ParsingContext) Enrichment {
	out := Enrichment{Derived: parsed.Template.NewDerived()}
	tasks := e.tasks(parsed, pctx)
	approval := e.approvalCheck(parsed, pctx)
	if len(tasks) == 0 && approval == nil {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	results := make([]*derivedValue, len(tasks))
	var (
		g     errgroup.Group
		mu    sync.Mutex
		notes defi.ValidationErrors
	)
	for i, task := range tasks {
		g.Go(func() error {
			v, err := task.run(ctx)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				e.logger.Debug("派生参数缺省", slog.String("param", string(task.name)), slog.Any("error", err))
				return nil
			}
			results[i] = &derivedValue{name: task.name, value: v}
			return nil
		})
	}
	if approval != nil {
		g.Go(func() error {
			if note, ok := approval(ctx); ok {
				mu.Lock()
				notes = append(notes, note)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r == nil {
			continue
		}
		if err := out.Derived.Set(r.name, defi.Number(r.value)); err != nil {
			e.logger.Warn("写入派生参数失败", slog.String("param", string(r.name)), slog.Any("error", err))
		}
	}
	out.Notes = notes
	return out
}

// FetchBalances 为缺少余额的代币查询账户余额，用于换算相对金额。查询失败的代币被跳过。
func (e *Enricher) FetchBalances(ctx context.Context, chain, account string, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	if e.provider == nil || account == "" || len(symbols) == 0 {
		return out
	}
	if chain == "" {
		chain = defaultChain
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for _, symbol := range symbols {
		g.Go(func() error {
			v, err := e.provider.Balance(ctx, chain, account, symbol)
			if err != nil {
				e.logger.Debug("查询余额失败", slog.String("symbol", symbol), slog.Any("error", err))
				return nil
			}
			mu.Lock()
			out[strings.ToUpper(symbol)] = v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Enricher) tasks(parsed *ParsedCommand, pctx *defi.ParsingContext) []enrichTask {
	tmpl := parsed.Template
	params := parsed.Parameters()
	chain := chainOf(params, pctx)
	amount, hasAmount := params.Number(defi.ParamAmount)
	leverage, _ := params.Number(defi.ParamLeverage)
	source, hasSource := parsed.SourceToken()
	fee, hasFee := e.feeRate(tmpl.Intent, params)

	var tasks []enrichTask
	add := func(name defi.ParamName, run func(ctx context.Context) (float64, error)) {
		if tmpl.HasDerived(name) {
			tasks = append(tasks, enrichTask{name: name, run: run})
		}
	}

	if hasSource && e.provider != nil {
		add(defi.ParamSpotPrice, func(ctx context.Context) (float64, error) {
			return e.provider.SpotPrice(ctx, source)
		})
	}
	if e.provider != nil {
		add(defi.ParamGasPriceGwei, func(ctx context.Context) (float64, error) {
			wei, err := e.provider.GasPrice(ctx, chain)
			if err != nil {
				return 0, err
			}
			return market.WeiToGwei(wei), nil
		})
	}
	if hasFee {
		add(defi.ParamFeeRate, constant(fee))
	}
	if hops, ok := e.routeHops(tmpl.Intent, params); ok {
		add(defi.ParamRouteHops, constant(hops))
	}

	if tmpl.Intent == defi.IntentSwap && hasAmount && e.provider != nil {
		from, _ := params.Text(defi.ParamFromToken)
		to, _ := params.Text(defi.ParamToToken)
		exactOut := parsed.Classification.SubIntent == "exact_out"
		add(defi.ParamOutputAmount, func(ctx context.Context) (float64, error) {
			if exactOut {
				return amount, nil
			}
			pFrom, pTo, err := e.pair(ctx, from, to)
			if err != nil {
				return 0, err
			}
			return amount * pFrom * (1 - fee) / pTo, nil
		})
		if exactOut && from != "" {
			add(defi.ParamInputAmount, func(ctx context.Context) (float64, error) {
				pFrom, pTo, err := e.pair(ctx, from, to)
				if err != nil {
					return 0, err
				}
				if pFrom <= 0 {
					return 0, market.ErrNoData
				}
				return amount * pTo / (pFrom * (1 - fee)), nil
			})
		}
		add(defi.ParamPriceImpact, func(ctx context.Context) (float64, error) {
			pFrom, pTo, err := e.pair(ctx, from, to)
			if err != nil {
				return 0, err
			}
			notional := amount * pFrom
			if exactOut {
				notional = amount * pTo
			}
			return priceImpact(notional), nil
		})
	}
	if tmpl.Intent.IsArbitrage() && hasAmount && hasSource && e.provider != nil {
		add(defi.ParamPriceImpact, func(ctx context.Context) (float64, error) {
			price, err := e.provider.SpotPrice(ctx, source)
			if err != nil {
				return 0, err
			}
			return priceImpact(amount * price), nil
		})
	}

	if leverage > 1 && hasSource && e.provider != nil {
		short := false
		if dir, ok := params.Text(defi.ParamDirection); ok && dir == "short" {
			short = true
		}
		add(defi.ParamLiquidationPrice, func(ctx context.Context) (float64, error) {
			price, err := e.provider.SpotPrice(ctx, source)
			if err != nil {
				return 0, err
			}
			if short {
				return price * (1 + 1/leverage), nil
			}
			return price * (1 - 1/leverage), nil
		})
	}

	if tmpl.Intent == defi.IntentBorrow && hasAmount && hasSource && e.provider != nil {
		add(defi.ParamProjectedHealthFactor, func(ctx context.Context) (float64, error) {
			return e.projectHealth(ctx, parsed, pctx, chain, source, amount)
		})
	}
	return tasks
}

// projectHealth 优先使用协议账户数据，其次按抵押资产余额估算。
func (e *Enricher) projectHealth(ctx context.Context, parsed *ParsedCommand, pctx *defi.ParsingContext,
	chain, asset string, amount float64) (float64, error) {
	price, err := e.provider.SpotPrice(ctx, asset)
	if err != nil {
		return 0, err
	}
	newDebt := amount * price
	params := parsed.Parameters()

	if protocol, ok := params.Text(defi.ParamProtocol); ok && pctx != nil && pctx.UserAddress != "" {
		data, err := e.provider.HealthFactor(ctx, chain, pctx.UserAddress, protocol)
		if err == nil {
			if hf, ok := data.ProjectDebt(newDebt); ok {
				return hf, nil
			}
		}
	}

	collateral, ok := params.Text(defi.ParamCollateralAsset)
	if !ok {
		return 0, market.ErrNoData
	}
	balance, ok := pctx.Balance(collateral)
	if !ok {
		if pctx == nil || pctx.UserAddress == "" {
			return 0, market.ErrNoData
		}
		balance, err = e.provider.Balance(ctx, chain, pctx.UserAddress, collateral)
		if err != nil {
			return 0, err
		}
	}
	collateralPrice, err := e.provider.SpotPrice(ctx, collateral)
	if err != nil {
		return 0, err
	}
	data := market.HealthData{CollateralUSD: balance * collateralPrice, LiquidationThreshold: collateralThreshold}
	hf, ok := data.ProjectDebt(newDebt)
	if !ok {
		return 0, market.ErrNoData
	}
	return hf, nil
}

// approvalCheck 返回授权额度检查，条件不满足时返回 nil。
func (e *Enricher) approvalCheck(parsed *ParsedCommand, pctx *defi.ParsingContext) func(context.Context) (defi.ValidationError, bool) {
	if e.provider == nil || pctx == nil || pctx.UserAddress == "" || !parsed.Template.SpendsBalance {
		return nil
	}
	params := parsed.Parameters()
	protocol, ok := params.Text(defi.ParamProtocol)
	if !ok {
		return nil
	}
	symbol, ok := parsed.SourceToken()
	if unit, _ := parsed.AmountToken(); !ok || !strings.EqualFold(symbol, unit) {
		return nil
	}
	if token, known := e.catalog.Token(symbol); !known || token.Native {
		return nil
	}
	amount, ok := params.Number(defi.ParamAmount)
	if !ok {
		return nil
	}
	chain := chainOf(params, pctx)
	return func(ctx context.Context) (defi.ValidationError, bool) {
		allowance, err := e.provider.Allowance(ctx, chain, pctx.UserAddress, protocol, symbol)
		if err != nil || allowance >= amount {
			return defi.ValidationError{}, false
		}
		return defi.ValidationError{
			Field:    string(defi.ParamAmount),
			Code:     CodeApprovalRequired,
			Message:  fmt.Sprintf("%s needs approval to spend %s %s (current allowance %s)", protocol, formatAmount(amount), symbol, formatAmount(allowance)),
			Severity: defi.SeverityInfo,
		}, true
	}
}

func (e *Enricher) pair(ctx context.Context, from, to string) (float64, float64, error) {
	pFrom, err := e.provider.SpotPrice(ctx, from)
	if err != nil {
		return 0, 0, err
	}
	pTo, err := e.provider.SpotPrice(ctx, to)
	if err != nil {
		return 0, 0, err
	}
	if pTo <= 0 {
		return 0, 0, market.ErrNoData
	}
	return pFrom, pTo, nil
}

// feeRate 返回协议费率，未指定协议时按意图类别取默认值。
func (e *Enricher) feeRate(intent defi.Intent, params defi.Parameters) (float64, bool) {
	if name, ok := params.Text(defi.ParamProtocol); ok {
		if p, known := e.catalog.Protocol(name); known {
			return p.FeeRate, true
		}
	}
	fee, ok := defaultCategoryFee[intent.ProtocolCategory()]
	return fee, ok
}

// routeHops 估算兑换路径跳数：任一侧为稳定币或 ETH 类资产时可直连，否则经中间资产两跳。
func (e *Enricher) routeHops(intent defi.Intent, params defi.Parameters) (float64, bool) {
	switch {
	case intent.IsArbitrage():
		return 2, true
	case intent != defi.IntentSwap:
		return 0, false
	}
	from, okFrom := params.Text(defi.ParamFromToken)
	to, okTo := params.Text(defi.ParamToToken)
	if !okFrom || !okTo {
		return 0, false
	}
	if e.isHub(from) || e.isHub(to) {
		return 1, true
	}
	return 2, true
}

func (e *Enricher) isHub(symbol string) bool {
	token, ok := e.catalog.Token(symbol)
	if !ok {
		return false
	}
	return token.Stable || token.Native || token.Symbol == "WETH"
}

func priceImpact(notionalUSD float64) float64 {
	if notionalUSD <= 0 {
		return 0
	}
	return math.Min(notionalUSD/referenceDepthUSD*100, 100)
}

func chainOf(params defi.Parameters, pctx *defi.ParsingContext) string {
	if chain, ok := params.Text(defi.ParamChain); ok {
		return chain
	}
	if pctx != nil && pctx.Chain != "" {
		return strings.ToLower(pctx.Chain)
	}
	return defaultChain
}

func constant(v float64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return v, nil }
}
