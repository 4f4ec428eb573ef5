package classifier

import (
	"DeFiIntent-Chain/internal/defi"
	"DeFiIntent-Chain/internal/nlp/contextual"
	"DeFiIntent-Chain/internal/nlp/registry"
	"DeFiIntent-Chain/internal/nlp/textnorm"
)

// Input 是所有策略共享的只读输入。
type Input struct {
	Text     string
	Entities defi.EntitySet
	Analysis *contextual.Analysis
	Registry *registry.Registry
}

// Candidate 是单个策略给出的候选意图。
type Candidate struct {
	Intent     defi.Intent
	Confidence float64
	SubIntent  string
	Strategy   defi.StrategyName
}

// StrategyFunc 是纯函数形式的分类策略。
type StrategyFunc func(Input) (Candidate, bool)

// Strategy 绑定策略名称与实现。
type Strategy struct {
	Name defi.StrategyName
	Run  StrategyFunc
}

// DefaultStrategies 返回内置的四个策略，顺序即合并时的平局顺序。
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: defi.StrategyPattern, Run: PatternStrategy},
		{Name: defi.StrategyKeyword, Run: KeywordStrategy},
		{Name: defi.StrategyContext, Run: ContextStrategy},
		{Name: defi.StrategyStructure, Run: StructureStrategy},
	}
}

const (
	optionalBonus     = 0.1
	coverageFloor     = 0.8
	coverageWeight    = 0.2
	keywordScale      = 0.8
	keywordCeiling    = 0.9
	portfolioHighMark = 10000.0
)

// PatternStrategy 对每个命中的模式计算
// base × 必需实体满足率 × (1 + 0.1 × 可选实体数) × (0.8 + 0.2 × 覆盖率)，取最大值。
func PatternStrategy(in Input) (Candidate, bool) {
	if in.Registry == nil || in.Text == "" {
		return Candidate{}, false
	}
	var best Candidate
	found := false
	for _, p := range in.Registry.Patterns() {
		locs := p.Expr.FindAllStringIndex(in.Text, -1)
		if len(locs) == 0 {
			continue
		}
		longest := 0
		for _, loc := range locs {
			if n := loc[1] - loc[0]; n > longest {
				longest = n
			}
		}
		ratio := requiredRatio(p.Required, in.Entities)
		if ratio == 0 {
			continue
		}
		optional := 0
		for _, t := range p.Optional {
			if present(t, in.Entities) {
				optional++
			}
		}
		coverage := float64(longest) / float64(len(in.Text))
		conf := clamp(p.BaseConfidence * ratio * (1 + optionalBonus*float64(optional)) * (coverageFloor + coverageWeight*coverage))
		if !found || conf > best.Confidence {
			best = Candidate{Intent: p.Intent, Confidence: conf, SubIntent: p.SubIntent, Strategy: defi.StrategyPattern}
			found = true
		}
	}
	return best, found
}

// requiredRatio 统计必需实体的满足比例。同一类别出现多次表示需要多个该类实体；
// 金额需求可由百分比或相对金额满足。
func requiredRatio(required []defi.EntityType, entities defi.EntitySet) float64 {
	if len(required) == 0 {
		return 1
	}
	need := make(map[defi.EntityType]int)
	for _, t := range required {
		need[t]++
	}
	satisfied := 0
	for t, n := range need {
		have := entities.Count(t)
		if t == defi.EntityAmount {
			have += entities.Count(defi.EntityPercentage) + entities.Count(defi.EntityRelativeAmount)
		}
		satisfied += min(have, n)
	}
	return float64(satisfied) / float64(len(required))
}

func present(t defi.EntityType, entities defi.EntitySet) bool {
	if t == defi.EntityAmount {
		return entities.HasAmountLike()
	}
	return entities.Has(t)
}

// KeywordStrategy 按命中关键字比例为每个意图打分，取最高者，置信度为 min(score×0.8, 0.9)。
func KeywordStrategy(in Input) (Candidate, bool) {
	if in.Registry == nil {
		return Candidate{}, false
	}
	words := make(map[string]struct{})
	for _, w := range textnorm.Words(in.Text) {
		words[w] = struct{}{}
	}
	if len(words) == 0 {
		return Candidate{}, false
	}

	var bestIntent defi.Intent
	bestScore := 0.0
	for _, intent := range in.Registry.KeywordIntents() {
		keywords := in.Registry.Keywords(intent)
		if len(keywords) == 0 {
			continue
		}
		matched := 0
		for _, kw := range keywords {
			if _, ok := words[kw]; ok {
				matched++
			}
		}
		if s := float64(matched) / float64(len(keywords)); s > bestScore {
			bestScore = s
			bestIntent = intent
		}
	}
	if bestScore == 0 {
		return Candidate{}, false
	}
	return Candidate{
		Intent:     bestIntent,
		Confidence: min(bestScore*keywordScale, keywordCeiling),
		Strategy:   defi.StrategyKeyword,
	}, true
}

type rule struct {
	intent     defi.Intent
	confidence float64
	applies    func(Input) bool
}

var contextRules = []rule{
	{defi.IntentWithdraw, 0.7, func(in Input) bool {
		return in.Analysis.Portfolio.HasLending && in.Entities.Has(defi.EntityAmount)
	}},
	{defi.IntentLend, 0.8, func(in Input) bool {
		return in.Analysis.LastIntent == defi.IntentLend && in.Entities.Has(defi.EntityToken)
	}},
	{defi.IntentSwap, 0.7, func(in Input) bool {
		return in.Analysis.Topic == contextual.TopicTrading && in.Entities.Count(defi.EntityToken) >= 2
	}},
	{defi.IntentAddLiquidity, 0.65, func(in Input) bool {
		return in.Analysis.Topic == contextual.TopicLiquidity && in.Entities.Count(defi.EntityToken) >= 2
	}},
}

var commandVerbs = map[string]struct{}{
	"show": {}, "list": {}, "display": {}, "view": {}, "check": {},
}

var structureRules = []rule{
	{defi.IntentLend, 0.6, func(in Input) bool {
		return in.Entities.Has(defi.EntityAmount) && in.Entities.Has(defi.EntityToken)
	}},
	{defi.IntentShowRates, 0.7, func(in Input) bool {
		return textnorm.IsQuestion(in.Text) && in.Entities.Has(defi.EntityToken)
	}},
	{defi.IntentShowPositions, 0.6, func(in Input) bool {
		_, ok := commandVerbs[textnorm.FirstWord(in.Text)]
		return ok
	}},
	{defi.IntentOpenPosition, 0.55, func(in Input) bool {
		return in.Entities.Has(defi.EntityLeverage) && in.Entities.Has(defi.EntityToken)
	}},
}

// ContextStrategy 仅在存在上下文分析时运行。
func ContextStrategy(in Input) (Candidate, bool) {
	if in.Analysis == nil {
		return Candidate{}, false
	}
	return applyRules(contextRules, in, defi.StrategyContext)
}

// StructureStrategy 根据实体组合与句式特征给出候选。
func StructureStrategy(in Input) (Candidate, bool) {
	return applyRules(structureRules, in, defi.StrategyStructure)
}

// applyRules 返回置信度最高的规则，平局保留靠前的规则。
func applyRules(rules []rule, in Input, name defi.StrategyName) (Candidate, bool) {
	var best Candidate
	found := false
	for _, r := range rules {
		if !r.applies(in) {
			continue
		}
		if !found || r.confidence > best.Confidence {
			best = Candidate{Intent: r.intent, Confidence: r.confidence, Strategy: name}
			found = true
		}
	}
	return best, found
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
