// Package contextual derives a user profile, portfolio risk exposure,
// conversation topic and stage, and recommendations from a read-only
// conversation snapshot.
package contextual

import (
	"strings"

	"DeFiIntent-Chain/internal/defi"
)

// ExperienceLevel 是根据历史行为推断的用户经验。
type ExperienceLevel string

const (
	ExperienceBeginner     ExperienceLevel = "beginner"
	ExperienceIntermediate ExperienceLevel = "intermediate"
	ExperienceAdvanced     ExperienceLevel = "advanced"
)

// Topic 是最近几轮对话的主题。
type Topic string

const (
	TopicLending   Topic = "lending"
	TopicTrading   Topic = "trading"
	TopicLiquidity Topic = "liquidity"
	TopicGeneral   Topic = "general"
)

// Stage 是会话所处阶段。
type Stage string

const (
	StageInitial     Stage = "initial"
	StageExploration Stage = "exploration"
	StageExecution   Stage = "execution"
)

// RecommendationKind 标识建议类别。
type RecommendationKind string

const (
	RecommendYield           RecommendationKind = "yield"
	RecommendRiskReduction   RecommendationKind = "risk_reduction"
	RecommendDiversification RecommendationKind = "diversification"
	RecommendEducation       RecommendationKind = "education"
)

// Recommendation 是面向用户的建议。
type Recommendation struct {
	Kind    RecommendationKind `json:"kind"`
	Message string             `json:"message"`
}

// Profile 描述用户画像。
type Profile struct {
	Experience       ExperienceLevel    `json:"experience"`
	Interactions     int                `json:"interactions"`
	UniqueIntents    int                `json:"unique_intents"`
	ComplexPositions int                `json:"complex_positions"`
	RiskTolerance    defi.RiskTolerance `json:"risk_tolerance"`
}

// Portfolio 汇总组合风险。
type Portfolio struct {
	TotalValue      float64 `json:"total_value"`
	RiskExposure    float64 `json:"risk_exposure"`
	RiskCapacity    float64 `json:"risk_capacity"`
	Diversification float64 `json:"diversification"`
	YieldGenerating bool    `json:"yield_generating"`
	HasLending      bool    `json:"has_lending"`
}

// Analysis 是一次分析的只读快照。
type Analysis struct {
	Profile           Profile          `json:"profile"`
	Portfolio         Portfolio        `json:"portfolio"`
	Topic             Topic            `json:"topic"`
	Stage             Stage            `json:"stage"`
	LastIntent        defi.Intent      `json:"last_intent,omitempty"`
	RecentIntents     []defi.Intent    `json:"recent_intents,omitempty"`
	Recommendations   []Recommendation `json:"recommendations,omitempty"`
	RelevantPositions []defi.Position  `json:"relevant_positions,omitempty"`
}

// 以下阈值为经验常量，可调但需保持行为一致。
const (
	advancedInteractions     = 100
	advancedUniqueIntents    = 8
	advancedComplexPositions = 3

	intermediateInteractions     = 20
	intermediateUniqueIntents    = 4
	intermediateComplexPositions = 1

	lowHealthFactor       = 1.5
	lowHealthMultiplier   = 1.5
	diversificationScale  = 10.0
	diversificationTarget = 0.5
	idleFundsThreshold    = 1000.0

	topicWindow  = 3
	recentWindow = 5
)

var positionRisk = map[defi.PositionType]float64{
	defi.PositionLending:   0.2,
	defi.PositionBorrowing: 0.6,
	defi.PositionLiquidity: 0.4,
	defi.PositionTrading:   0.8,
	defi.PositionStaking:   0.3,
}

var riskCapacity = map[defi.RiskTolerance]float64{
	defi.RiskConservative: 0.3,
	defi.RiskModerate:     0.5,
	defi.RiskAggressive:   0.8,
}

// Analyzer 是无状态的上下文分析器。
type Analyzer struct{}

// NewAnalyzer 创建分析器。
func NewAnalyzer() *Analyzer { return &Analyzer{} }

// Analyze 基于会话快照与当前实体生成分析结果。上下文缺失时返回 false，调用方不应视为错误。
func (a *Analyzer) Analyze(conv *defi.ConversationContext, entities defi.EntitySet) (*Analysis, bool) {
	if conv == nil {
		return nil, false
	}

	profile := buildProfile(conv)
	portfolio := buildPortfolio(conv)
	last, _ := conv.LastIntent()

	analysis := &Analysis{
		Profile:           profile,
		Portfolio:         portfolio,
		Topic:             inferTopic(conv.RecentIntents(topicWindow)),
		Stage:             inferStage(conv),
		LastIntent:        last,
		RecentIntents:     conv.RecentIntents(recentWindow),
		RelevantPositions: relevantPositions(conv.ActivePositions, entities),
	}
	analysis.Recommendations = recommend(profile, portfolio)
	return analysis, true
}

func buildProfile(conv *defi.ConversationContext) Profile {
	unique := make(map[defi.Intent]struct{})
	for _, turn := range conv.History {
		if turn.Intent != "" {
			unique[turn.Intent] = struct{}{}
		}
	}
	complexCount := 0
	for _, p := range conv.ActivePositions {
		switch {
		case p.Type == defi.PositionBorrowing, p.Type == defi.PositionLiquidity, p.Type == defi.PositionTrading:
			complexCount++
		case p.Leverage > 1:
			complexCount++
		}
	}

	profile := Profile{
		Interactions:     len(conv.History),
		UniqueIntents:    len(unique),
		ComplexPositions: complexCount,
		RiskTolerance:    conv.RiskTolerance,
	}
	if profile.RiskTolerance == "" {
		profile.RiskTolerance = defi.RiskModerate
	}
	switch {
	case profile.Interactions > advancedInteractions && profile.UniqueIntents > advancedUniqueIntents && complexCount > advancedComplexPositions:
		profile.Experience = ExperienceAdvanced
	case profile.Interactions > intermediateInteractions && profile.UniqueIntents > intermediateUniqueIntents && complexCount > intermediateComplexPositions:
		profile.Experience = ExperienceIntermediate
	default:
		profile.Experience = ExperienceBeginner
	}
	return profile
}

func buildPortfolio(conv *defi.ConversationContext) Portfolio {
	var weighted, positionValue float64
	tokens := make(map[string]struct{})
	protocols := make(map[string]struct{})
	types := make(map[defi.PositionType]struct{})
	yield := false

	for _, p := range conv.ActivePositions {
		coef := positionRisk[p.Type]
		if p.HealthFactor != nil && *p.HealthFactor < lowHealthFactor {
			coef *= lowHealthMultiplier
		}
		weighted += coef * p.Value
		positionValue += p.Value

		if p.Asset != "" {
			tokens[strings.ToUpper(p.Asset)] = struct{}{}
		}
		if p.Protocol != "" {
			protocols[strings.ToLower(p.Protocol)] = struct{}{}
		}
		types[p.Type] = struct{}{}
		if p.APY > 0 || p.Type == defi.PositionLending || p.Type == defi.PositionStaking || p.Type == defi.PositionLiquidity {
			yield = true
		}
	}

	out := Portfolio{
		TotalValue:      conv.TotalValue(),
		RiskCapacity:    capacityFor(conv.RiskTolerance),
		YieldGenerating: yield,
		HasLending:      conv.HasPositionType(defi.PositionLending),
	}
	if positionValue > 0 {
		out.RiskExposure = weighted / positionValue
	}
	out.Diversification = float64(len(tokens)+len(protocols)+len(types)) / diversificationScale
	if out.Diversification > 1 {
		out.Diversification = 1
	}
	return out
}

func capacityFor(tolerance defi.RiskTolerance) float64 {
	if v, ok := riskCapacity[tolerance]; ok {
		return v
	}
	return riskCapacity[defi.RiskModerate]
}

// inferTopic 规则按优先级依次匹配：全部为借贷类、出现兑换、出现流动性操作。
func inferTopic(recent []defi.Intent) Topic {
	if len(recent) == 0 {
		return TopicGeneral
	}
	allLending := true
	for _, intent := range recent {
		if !intent.IsLendingFamily() {
			allLending = false
			break
		}
	}
	if allLending {
		return TopicLending
	}
	for _, intent := range recent {
		if intent == defi.IntentSwap {
			return TopicTrading
		}
	}
	for _, intent := range recent {
		if intent.IsLiquidityFamily() {
			return TopicLiquidity
		}
	}
	return TopicGeneral
}

func inferStage(conv *defi.ConversationContext) Stage {
	last, ok := conv.LastIntent()
	if !ok {
		return StageInitial
	}
	if last.IsInformational() {
		return StageExploration
	}
	return StageExecution
}

func relevantPositions(positions []defi.Position, entities defi.EntitySet) []defi.Position {
	var out []defi.Position
	for _, token := range entities.OfType(defi.EntityToken) {
		for _, p := range positions {
			if strings.EqualFold(p.Asset, token.NormalizedValue) {
				out = append(out, p)
			}
		}
	}
	return out
}

func recommend(profile Profile, portfolio Portfolio) []Recommendation {
	var out []Recommendation
	if !portfolio.YieldGenerating && portfolio.TotalValue > idleFundsThreshold {
		out = append(out, Recommendation{
			Kind:    RecommendYield,
			Message: "Your funds are idle. Consider lending stablecoins to earn yield.",
		})
	}
	if portfolio.RiskExposure > portfolio.RiskCapacity {
		out = append(out, Recommendation{
			Kind:    RecommendRiskReduction,
			Message: "Portfolio risk exceeds your tolerance. Consider reducing leverage or repaying debt.",
		})
	}
	if portfolio.Diversification < diversificationTarget {
		out = append(out, Recommendation{
			Kind:    RecommendDiversification,
			Message: "Your positions are concentrated. Consider spreading them across assets and protocols.",
		})
	}
	if profile.Experience == ExperienceBeginner {
		out = append(out, Recommendation{
			Kind:    RecommendEducation,
			Message: "New to DeFi? Ask \"help\" to see supported commands and their risks.",
		})
	}
	return out
}
