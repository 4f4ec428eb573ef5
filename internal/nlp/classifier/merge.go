package classifier

import (
	"slices"
	"strings"

	"DeFiIntent-Chain/internal/defi"
	"DeFiIntent-Chain/internal/nlp/contextual"
)

const (
	recentIntentBoost   = 1.1
	lendingHolderBoost  = 1.2
	largePortfolioBoost = 1.1
)

type scored struct {
	Candidate
	final float64
}

// finalScore 按近期意图与组合情况调整候选的置信度。
func finalScore(c Candidate, analysis *contextual.Analysis) float64 {
	score := c.Confidence
	if analysis == nil {
		return score
	}
	if slices.Contains(analysis.RecentIntents, c.Intent) {
		score *= recentIntentBoost
	}
	switch {
	case c.Intent == defi.IntentLend && analysis.Portfolio.HasLending:
		score *= lendingHolderBoost
	case c.Intent == defi.IntentWithdraw && analysis.Portfolio.TotalValue > portfolioHighMark:
		score *= largePortfolioBoost
	}
	return score
}

// merge 选出最终候选。排序依次比较调整后得分、原始置信度、策略顺序与意图注册顺序，结果与策略执行顺序无关。
func merge(candidates []Candidate, analysis *contextual.Analysis) (scored, bool) {
	if len(candidates) == 0 {
		return scored{}, false
	}
	all := make([]scored, len(candidates))
	for i, c := range candidates {
		all[i] = scored{Candidate: c, final: finalScore(c, analysis)}
	}
	best := all[0]
	for _, s := range all[1:] {
		if better(s, best) {
			best = s
		}
	}
	return best, true
}

func better(a, b scored) bool {
	if a.final != b.final {
		return a.final > b.final
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Strategy.Order() != b.Strategy.Order() {
		return a.Strategy.Order() < b.Strategy.Order()
	}
	return a.Intent.Order() < b.Intent.Order()
}

// refineSubIntent 为部分意图补充子意图。
func refineSubIntent(c Candidate, text string, entities defi.EntitySet) string {
	lower := strings.ToLower(text)
	switch c.Intent {
	case defi.IntentOpenPosition:
		if strings.Contains(lower, "short") {
			return "short"
		}
		return "long"
	case defi.IntentShowRates:
		if strings.Contains(lower, "borrow") {
			return "borrow"
		}
		return "supply"
	case defi.IntentSwap:
		if c.SubIntent != "" {
			return c.SubIntent
		}
		return "exact_in"
	case defi.IntentArbitrage:
		if entities.Count(defi.EntityProtocol) >= 2 {
			return "cross_protocol"
		}
	}
	return c.SubIntent
}
