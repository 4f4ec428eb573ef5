package contextual

import (
	"math"
	"testing"

	"DeFiIntent-Chain/internal/defi"
)

func history(intents ...defi.Intent) []defi.HistoryTurn {
	turns := make([]defi.HistoryTurn, len(intents))
	for i, intent := range intents {
		turns[i] = defi.HistoryTurn{Intent: intent}
	}
	return turns
}

func TestAnalyzeNilContext(t *testing.T) {
	if analysis, ok := NewAnalyzer().Analyze(nil, nil); ok || analysis != nil {
		t.Fatalf("expected no analysis for nil context")
	}
}

func TestPortfolioRiskExposure(t *testing.T) {
	low := 1.2
	conv := &defi.ConversationContext{
		RiskTolerance: defi.RiskConservative,
		ActivePositions: []defi.Position{
			{Type: defi.PositionLending, Asset: "USDC", Protocol: "aave", Value: 3000},
			{Type: defi.PositionBorrowing, Asset: "ETH", Protocol: "aave", Value: 1000, HealthFactor: &low},
		},
	}
	analysis, ok := NewAnalyzer().Analyze(conv, nil)
	if !ok {
		t.Fatalf("expected analysis")
	}
	want := (0.2*3000 + 0.6*1.5*1000) / 4000
	if math.Abs(analysis.Portfolio.RiskExposure-want) > 1e-9 {
		t.Fatalf("risk exposure = %v, want %v", analysis.Portfolio.RiskExposure, want)
	}
	if analysis.Portfolio.RiskCapacity != 0.3 {
		t.Fatalf("unexpected capacity %v", analysis.Portfolio.RiskCapacity)
	}
	// tokens 2 + protocols 1 + types 2
	if math.Abs(analysis.Portfolio.Diversification-0.5) > 1e-9 {
		t.Fatalf("unexpected diversification %v", analysis.Portfolio.Diversification)
	}
	if !hasRecommendation(analysis, RecommendRiskReduction) {
		t.Fatalf("expected risk reduction recommendation: %+v", analysis.Recommendations)
	}
	if hasRecommendation(analysis, RecommendDiversification) {
		t.Fatalf("diversification at threshold should not trigger")
	}
}

func TestExperienceLevels(t *testing.T) {
	intents := defi.Intents()
	manyTurns := func(n, unique int) []defi.HistoryTurn {
		turns := make([]defi.HistoryTurn, n)
		for i := range turns {
			turns[i] = defi.HistoryTurn{Intent: intents[i%unique]}
		}
		return turns
	}
	complexPositions := func(n int) []defi.Position {
		out := make([]defi.Position, n)
		for i := range out {
			out[i] = defi.Position{Type: defi.PositionTrading, Value: 10}
		}
		return out
	}

	cases := []struct {
		name string
		conv *defi.ConversationContext
		want ExperienceLevel
	}{
		{"beginner", &defi.ConversationContext{History: manyTurns(5, 2)}, ExperienceBeginner},
		{"intermediate", &defi.ConversationContext{History: manyTurns(21, 5), ActivePositions: complexPositions(2)}, ExperienceIntermediate},
		{"advanced", &defi.ConversationContext{History: manyTurns(101, 9), ActivePositions: complexPositions(4)}, ExperienceAdvanced},
		{"leverage counts as complex", &defi.ConversationContext{
			History:         manyTurns(21, 5),
			ActivePositions: []defi.Position{{Type: defi.PositionLending, Leverage: 2}, {Type: defi.PositionStaking, Leverage: 3}},
		}, ExperienceIntermediate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			analysis, _ := NewAnalyzer().Analyze(tc.conv, nil)
			if analysis.Profile.Experience != tc.want {
				t.Fatalf("experience = %s, want %s (%+v)", analysis.Profile.Experience, tc.want, analysis.Profile)
			}
		})
	}
}

func TestTopicAndStage(t *testing.T) {
	cases := []struct {
		intents []defi.Intent
		topic   Topic
		stage   Stage
	}{
		{nil, TopicGeneral, StageInitial},
		{[]defi.Intent{defi.IntentSwap, defi.IntentLend, defi.IntentBorrow, defi.IntentRepay}, TopicLending, StageExecution},
		{[]defi.Intent{defi.IntentLend, defi.IntentSwap, defi.IntentAddLiquidity}, TopicTrading, StageExecution},
		{[]defi.Intent{defi.IntentAddLiquidity, defi.IntentShowRates}, TopicLiquidity, StageExploration},
		{[]defi.Intent{defi.IntentStake, defi.IntentHelp}, TopicGeneral, StageExploration},
	}
	for _, tc := range cases {
		analysis, _ := NewAnalyzer().Analyze(&defi.ConversationContext{History: history(tc.intents...)}, nil)
		if analysis.Topic != tc.topic || analysis.Stage != tc.stage {
			t.Fatalf("intents %v: got %s/%s, want %s/%s", tc.intents, analysis.Topic, analysis.Stage, tc.topic, tc.stage)
		}
	}
}

func TestIdleFundsAndRelevantPositions(t *testing.T) {
	value := 5000.0
	conv := &defi.ConversationContext{
		PortfolioValue:  &value,
		ActivePositions: []defi.Position{{Type: defi.PositionTrading, Asset: "ETH", Value: 5000}},
	}
	entities := defi.EntitySet{{Type: defi.EntityToken, NormalizedValue: "ETH"}}
	analysis, _ := NewAnalyzer().Analyze(conv, entities)
	if !hasRecommendation(analysis, RecommendYield) || !hasRecommendation(analysis, RecommendEducation) {
		t.Fatalf("expected yield and education recommendations: %+v", analysis.Recommendations)
	}
	if len(analysis.RelevantPositions) != 1 {
		t.Fatalf("expected ETH position to be relevant: %+v", analysis.RelevantPositions)
	}
}

func hasRecommendation(a *Analysis, kind RecommendationKind) bool {
	for _, r := range a.Recommendations {
		if r.Kind == kind {
			return true
		}
	}
	return false
}
