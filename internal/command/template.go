// Package command turns an intent classification into an executable command:
// parameter extraction against a per-intent template, validation, derived
// parameter enrichment, risk scoring, gas estimation and the confirmation and
// disambiguation policy.
package command

import (
	"DeFiIntent-Chain/internal/defi"
)

// Template 描述一个意图对应的命令结构。
type Template struct {
	Intent        defi.Intent
	Action        string
	TokenSlots    []defi.ParamName
	Required      []defi.ParamName
	Optional      []defi.ParamName
	Derived       []defi.ParamName
	BaseRisk      int
	BaseGas       uint64
	SpendsBalance bool

	primary  defi.Schema
	optional defi.Schema
	derived  defi.Schema
}

// IsPair 判断模板是否有两个代币槽位。
func (t *Template) IsPair() bool { return len(t.TokenSlots) == 2 }

// SourceToken 返回支出代币所在的参数名。
func (t *Template) SourceToken() (defi.ParamName, bool) {
	if len(t.TokenSlots) == 0 {
		return "", false
	}
	return t.TokenSlots[0], true
}

// Allows 判断参数名是否属于模板。
func (t *Template) Allows(name defi.ParamName) bool {
	return t.primary.Allows(name) || t.optional.Allows(name)
}

// NewPrimary 创建必选参数集。
func (t *Template) NewPrimary() *defi.ParamSet { return t.primary.NewSet() }

// NewOptional 创建可选参数集。
func (t *Template) NewOptional() *defi.ParamSet { return t.optional.NewSet() }

// NewDerived 创建派生参数集。
func (t *Template) NewDerived() *defi.ParamSet { return t.derived.NewSet() }

// IsRequired 判断参数是否必选。
func (t *Template) IsRequired(name defi.ParamName) bool { return t.primary.Allows(name) }

// HasDerived 判断模板是否定义了指定派生参数。
func (t *Template) HasDerived(name defi.ParamName) bool { return t.derived.Allows(name) }

var (
	singleSlot = []defi.ParamName{defi.ParamAsset}
	pairSlots  = []defi.ParamName{defi.ParamFromToken, defi.ParamToToken}
	loanSlots  = []defi.ParamName{defi.ParamAsset, defi.ParamCollateralAsset}

	relative = []defi.ParamName{defi.ParamPercentage, defi.ParamRelativeAmount}
	venue    = []defi.ParamName{defi.ParamProtocol, defi.ParamChain}
	gasOnly  = []defi.ParamName{defi.ParamSpotPrice, defi.ParamGasPriceGwei}
)

func join(groups ...[]defi.ParamName) []defi.ParamName {
	var out []defi.ParamName
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var templateDefs = []Template{
	{
		Intent: defi.IntentLend, Action: "supply", TokenSlots: singleSlot,
		Required:      []defi.ParamName{defi.ParamAmount, defi.ParamAsset},
		Optional:      join(venue, relative, []defi.ParamName{defi.ParamLeverage}),
		Derived:       join(gasOnly, []defi.ParamName{defi.ParamFeeRate, defi.ParamLiquidationPrice}),
		BaseRisk:      1, BaseGas: 150000, SpendsBalance: true,
	},
	{
		Intent: defi.IntentWithdraw, Action: "withdraw", TokenSlots: singleSlot,
		Required: []defi.ParamName{defi.ParamAmount, defi.ParamAsset},
		Optional: join(venue, relative, []defi.ParamName{defi.ParamRecipient}),
		Derived:  gasOnly,
		BaseRisk: 1, BaseGas: 120000,
	},
	{
		Intent: defi.IntentBorrow, Action: "borrow", TokenSlots: loanSlots,
		Required: []defi.ParamName{defi.ParamAmount, defi.ParamAsset},
		Optional: join(venue, []defi.ParamName{defi.ParamCollateralAsset}),
		Derived:  join(gasOnly, []defi.ParamName{defi.ParamFeeRate, defi.ParamProjectedHealthFactor}),
		BaseRisk: 3, BaseGas: 250000,
	},
	{
		Intent: defi.IntentRepay, Action: "repay", TokenSlots: singleSlot,
		Required:      []defi.ParamName{defi.ParamAmount, defi.ParamAsset},
		Optional:      join(venue, relative),
		Derived:       gasOnly,
		BaseRisk:      1, BaseGas: 150000, SpendsBalance: true,
	},
	{
		Intent: defi.IntentSwap, Action: "swap", TokenSlots: pairSlots,
		Required:      []defi.ParamName{defi.ParamAmount, defi.ParamFromToken, defi.ParamToToken},
		Optional:      join(venue, relative, []defi.ParamName{defi.ParamSlippage, defi.ParamRecipient}),
		Derived:       join(gasOnly, []defi.ParamName{defi.ParamOutputAmount, defi.ParamInputAmount, defi.ParamPriceImpact, defi.ParamFeeRate, defi.ParamRouteHops}),
		BaseRisk:      2, BaseGas: 180000, SpendsBalance: true,
	},
	{
		Intent: defi.IntentAddLiquidity, Action: "add_liquidity", TokenSlots: pairSlots,
		Required:      []defi.ParamName{defi.ParamAmount, defi.ParamFromToken, defi.ParamToToken},
		Optional:      join(venue, relative, []defi.ParamName{defi.ParamSlippage}),
		Derived:       join(gasOnly, []defi.ParamName{defi.ParamFeeRate}),
		BaseRisk:      2, BaseGas: 300000, SpendsBalance: true,
	},
	{
		Intent: defi.IntentRemoveLiquidity, Action: "remove_liquidity", TokenSlots: pairSlots,
		Required: []defi.ParamName{defi.ParamFromToken, defi.ParamToToken},
		Optional: join(venue, relative, []defi.ParamName{defi.ParamAmount, defi.ParamSlippage}),
		Derived:  gasOnly,
		BaseRisk: 1, BaseGas: 250000,
	},
	{
		Intent: defi.IntentOpenPosition, Action: "open_position", TokenSlots: singleSlot,
		Required:      []defi.ParamName{defi.ParamAmount, defi.ParamAsset},
		Optional:      join(venue, relative, []defi.ParamName{defi.ParamLeverage, defi.ParamDirection, defi.ParamSlippage}),
		Derived:       join(gasOnly, []defi.ParamName{defi.ParamLiquidationPrice, defi.ParamFeeRate}),
		BaseRisk:      4, BaseGas: 400000, SpendsBalance: true,
	},
	{
		Intent: defi.IntentClosePosition, Action: "close_position", TokenSlots: singleSlot,
		Required: []defi.ParamName{defi.ParamAsset},
		Optional: join(venue, relative, []defi.ParamName{defi.ParamAmount, defi.ParamDirection}),
		Derived:  gasOnly,
		BaseRisk: 2, BaseGas: 300000,
	},
	{
		Intent: defi.IntentArbitrage, Action: "arbitrage", TokenSlots: singleSlot,
		Required:      []defi.ParamName{defi.ParamAmount, defi.ParamAsset},
		Optional:      join(venue, relative),
		Derived:       join(gasOnly, []defi.ParamName{defi.ParamPriceImpact, defi.ParamRouteHops, defi.ParamFeeRate}),
		BaseRisk:      4, BaseGas: 500000, SpendsBalance: true,
	},
	{
		Intent: defi.IntentCrossProtocolArbitrage, Action: "cross_protocol_arbitrage", TokenSlots: singleSlot,
		Required:      []defi.ParamName{defi.ParamAmount, defi.ParamAsset},
		Optional:      join(venue, relative),
		Derived:       join(gasOnly, []defi.ParamName{defi.ParamPriceImpact, defi.ParamRouteHops, defi.ParamFeeRate}),
		BaseRisk:      5, BaseGas: 650000, SpendsBalance: true,
	},
	{
		Intent: defi.IntentStake, Action: "stake", TokenSlots: singleSlot,
		Required:      []defi.ParamName{defi.ParamAmount, defi.ParamAsset},
		Optional:      join(venue, relative, []defi.ParamName{defi.ParamDurationDays}),
		Derived:       join(gasOnly, []defi.ParamName{defi.ParamFeeRate}),
		BaseRisk:      1, BaseGas: 120000, SpendsBalance: true,
	},
	{
		Intent: defi.IntentUnstake, Action: "unstake", TokenSlots: singleSlot,
		Required: []defi.ParamName{defi.ParamAmount, defi.ParamAsset},
		Optional: join(venue, relative),
		Derived:  gasOnly,
		BaseRisk: 1, BaseGas: 120000,
	},
	{
		Intent: defi.IntentClaimRewards, Action: "claim_rewards", TokenSlots: singleSlot,
		Optional: join(venue, []defi.ParamName{defi.ParamAsset}),
		Derived:  gasOnly,
		BaseRisk: 0, BaseGas: 100000,
	},
	{
		Intent: defi.IntentShowRates, Action: "show_rates", TokenSlots: singleSlot,
		Optional: join(venue, []defi.ParamName{defi.ParamAsset, defi.ParamRateType}),
	},
	{
		Intent: defi.IntentShowPositions, Action: "show_positions", TokenSlots: singleSlot,
		Optional: join(venue, []defi.ParamName{defi.ParamAsset}),
	},
	{
		Intent: defi.IntentShowPortfolio, Action: "show_portfolio",
		Optional: []defi.ParamName{defi.ParamChain},
	},
	{
		Intent: defi.IntentHelp, Action: "help",
	},
}

var templates = func() map[defi.Intent]*Template {
	out := make(map[defi.Intent]*Template, len(templateDefs))
	for i := range templateDefs {
		t := templateDefs[i]
		t.primary = defi.MustSchema(t.Required...)
		t.optional = defi.MustSchema(t.Optional...)
		t.derived = defi.MustSchema(t.Derived...)
		out[t.Intent] = &t
	}
	return out
}()

// TemplateFor 返回意图对应的模板。
func TemplateFor(intent defi.Intent) (*Template, bool) {
	t, ok := templates[intent]
	return t, ok
}
