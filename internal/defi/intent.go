package defi

import "strings"

// Intent 表示用户希望执行的 DeFi 操作类别。
type Intent string

const (
	IntentLend                   Intent = "LEND"
	IntentWithdraw               Intent = "WITHDRAW"
	IntentBorrow                 Intent = "BORROW"
	IntentRepay                  Intent = "REPAY"
	IntentSwap                   Intent = "SWAP"
	IntentAddLiquidity           Intent = "ADD_LIQUIDITY"
	IntentRemoveLiquidity        Intent = "REMOVE_LIQUIDITY"
	IntentOpenPosition           Intent = "OPEN_POSITION"
	IntentClosePosition          Intent = "CLOSE_POSITION"
	IntentArbitrage              Intent = "ARBITRAGE"
	IntentCrossProtocolArbitrage Intent = "CROSS_PROTOCOL_ARBITRAGE"
	IntentStake                  Intent = "STAKE"
	IntentUnstake                Intent = "UNSTAKE"
	IntentClaimRewards           Intent = "CLAIM_REWARDS"
	IntentShowRates              Intent = "SHOW_RATES"
	IntentShowPositions          Intent = "SHOW_POSITIONS"
	IntentShowPortfolio          Intent = "SHOW_PORTFOLIO"
	IntentHelp                   Intent = "HELP"
)

// allIntents 保存意图的注册顺序，分类器平局时按此顺序裁决。
var allIntents = []Intent{
	IntentLend,
	IntentWithdraw,
	IntentBorrow,
	IntentRepay,
	IntentSwap,
	IntentAddLiquidity,
	IntentRemoveLiquidity,
	IntentOpenPosition,
	IntentClosePosition,
	IntentArbitrage,
	IntentCrossProtocolArbitrage,
	IntentStake,
	IntentUnstake,
	IntentClaimRewards,
	IntentShowRates,
	IntentShowPositions,
	IntentShowPortfolio,
	IntentHelp,
}

var intentOrder = func() map[Intent]int {
	order := make(map[Intent]int, len(allIntents))
	for i, intent := range allIntents {
		order[intent] = i
	}
	return order
}()

// Intents 返回全部意图，按注册顺序排列。
func Intents() []Intent {
	out := make([]Intent, len(allIntents))
	copy(out, allIntents)
	return out
}

// ParseIntent 将字符串解析为意图，大小写不敏感。
func ParseIntent(value string) (Intent, bool) {
	intent := Intent(strings.ToUpper(strings.TrimSpace(value)))
	_, ok := intentOrder[intent]
	return intent, ok
}

// Order 返回意图的注册序号，未知意图排在最后。
func (i Intent) Order() int {
	if idx, ok := intentOrder[i]; ok {
		return idx
	}
	return len(allIntents)
}

// Valid 判断意图是否已注册。
func (i Intent) Valid() bool {
	_, ok := intentOrder[i]
	return ok
}

// IsLendingFamily 判断意图是否属于借贷类。
func (i Intent) IsLendingFamily() bool {
	switch i {
	case IntentLend, IntentWithdraw, IntentBorrow, IntentRepay:
		return true
	}
	return false
}

// IsLiquidityFamily 判断意图是否属于流动性类。
func (i Intent) IsLiquidityFamily() bool {
	return i == IntentAddLiquidity || i == IntentRemoveLiquidity
}

// IsInformational 判断意图是否只是查询，不会产生链上操作。
func (i Intent) IsInformational() bool {
	switch i {
	case IntentShowRates, IntentShowPositions, IntentShowPortfolio, IntentHelp:
		return true
	}
	return false
}

// ProtocolCategory 返回执行该意图所需的协议类别，查询类意图与领取奖励返回空字符串。
func (i Intent) ProtocolCategory() ProtocolCategory {
	switch i {
	case IntentLend, IntentWithdraw, IntentBorrow, IntentRepay:
		return CategoryLending
	case IntentSwap, IntentAddLiquidity, IntentRemoveLiquidity, IntentArbitrage, IntentCrossProtocolArbitrage:
		return CategoryDEX
	case IntentOpenPosition, IntentClosePosition:
		return CategoryDerivatives
	case IntentStake, IntentUnstake:
		return CategoryStaking
	}
	return ""
}

// IsArbitrage 判断意图是否为套利。
func (i Intent) IsArbitrage() bool {
	return i == IntentArbitrage || i == IntentCrossProtocolArbitrage
}
