package command

import (
	"DeFiIntent-Chain/internal/defi"
)

const (
	highRiskScore   = 6
	mediumRiskScore = 3

	largeAmount     = 10000.0
	veryLargeAmount = 100000.0

	priceImpactRiskAbove = 5.0
	priceImpactPoints    = 2

	confirmLeverageAbove = 2.0
)

// leverageTiers 按阈值累计加分：>1 加 1，>2 再加 2，>5 再加 3。
var leverageTiers = []struct {
	above  float64
	points int
}{
	{1, 1},
	{2, 2},
	{5, 3},
}

// amountTiers 按阈值累计加分：>1万 加 1，>10万 再加 2。
var amountTiers = []struct {
	above  float64
	points int
}{
	{largeAmount, 1},
	{veryLargeAmount, 2},
}

// RiskInput 是风险评分所需的全部输入。
type RiskInput struct {
	Intent      defi.Intent
	Amount      float64
	Leverage    float64
	PriceImpact float64
}

// AssessRisk 计算风险分与风险等级。分数对金额与杠杆单调不减。
func AssessRisk(in RiskInput) (int, defi.RiskLevel) {
	score := 0
	if t, ok := TemplateFor(in.Intent); ok {
		score = t.BaseRisk
	}
	for _, tier := range amountTiers {
		if in.Amount > tier.above {
			score += tier.points
		}
	}
	for _, tier := range leverageTiers {
		if in.Leverage > tier.above {
			score += tier.points
		}
	}
	if in.PriceImpact > priceImpactRiskAbove {
		score += priceImpactPoints
	}
	return score, levelFor(score)
}

func levelFor(score int) defi.RiskLevel {
	switch {
	case score >= highRiskScore:
		return defi.RiskHigh
	case score >= mediumRiskScore:
		return defi.RiskMedium
	default:
		return defi.RiskLow
	}
}

var alwaysConfirm = map[defi.Intent]struct{}{
	defi.IntentBorrow:                 {},
	defi.IntentOpenPosition:           {},
	defi.IntentClosePosition:          {},
	defi.IntentArbitrage:              {},
	defi.IntentCrossProtocolArbitrage: {},
}

// RequiresConfirmation 判断命令是否需要用户二次确认。
func RequiresConfirmation(intent defi.Intent, level defi.RiskLevel, amount, leverage float64) bool {
	if level == defi.RiskHigh || amount > largeAmount || leverage > confirmLeverageAbove {
		return true
	}
	_, ok := alwaysConfirm[intent]
	return ok
}
