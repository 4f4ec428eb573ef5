package entity

import (
	"context"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
)

func extract(t *testing.T, e *Extractor, text string) defi.EntitySet {
	t.Helper()
	entities, err := e.Extract(context.Background(), text)
	if err != nil {
		t.Fatalf("extract %q: %v", text, err)
	}
	return entities
}

func TestExtractBasicCommand(t *testing.T) {
	entities := extract(t, New(), "lend 1000 USDC")
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %+v", entities)
	}
	amount, token := entities[0], entities[1]
	if amount.Type != defi.EntityAmount || amount.Value != 1000 {
		t.Fatalf("unexpected amount %+v", amount)
	}
	if token.Type != defi.EntityToken || token.NormalizedValue != "USDC" {
		t.Fatalf("unexpected token %+v", token)
	}
	if amount.Confidence != 1 || token.Confidence != 1 {
		t.Fatalf("expected full confidence, got %.3f and %.3f", amount.Confidence, token.Confidence)
	}
}

func TestNormalizationRoundTrips(t *testing.T) {
	e := New()
	cases := []struct {
		text  string
		typ   defi.EntityType
		value float64
	}{
		{"lend 1k USDC", defi.EntityAmount, 1000},
		{"borrow 2.5M DAI", defi.EntityAmount, 2500000},
		{"lend 1,000,000 USDC", defi.EntityAmount, 1000000},
		{"swap $250 to ETH", defi.EntityAmount, 250},
		{"lend 50% of my USDC", defi.EntityPercentage, 50},
		{"open a 5x long on ETH", defi.EntityLeverage, 5},
		{"swap 1 ETH for USDC with 0.5% slippage", defi.EntitySlippage, 0.5},
		{"stake ETH for 2 weeks", defi.EntityDuration, 14},
		{"withdraw half my DAI", defi.EntityRelativeAmount, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			ent, ok := extract(t, e, tc.text).First(tc.typ)
			if !ok {
				t.Fatalf("no %s entity in %q", tc.typ, tc.text)
			}
			if ent.Value != tc.value {
				t.Fatalf("value = %v, want %v", ent.Value, tc.value)
			}
		})
	}
}

func TestPercentageIsDistinctFromAmount(t *testing.T) {
	entities := extract(t, New(), "lend 50% of my USDC")
	if entities.Has(defi.EntityAmount) {
		t.Fatalf("50%% must not also produce an AMOUNT: %+v", entities)
	}
	pct, _ := entities.First(defi.EntityPercentage)
	if pct.RawValue != "50%" || pct.NormalizedValue != "50" {
		t.Fatalf("unexpected percentage %+v", pct)
	}
}

func TestSpansNonOverlappingAndConfidenceBounded(t *testing.T) {
	e := New()
	inputs := []string{
		"lend 1000 USDC with 10x leverage",
		"swap half my ETH for USDC on uniswap with max slippage 1%",
		"borrow 500 DAI against my WETH on aave v3 on arbitrum",
		"stake 32 ETH with lido for 365 days",
		"send 10 USDC to 0x5b38Da6a701c568545dCfcB03FcB875f56beddC4",
		"arbitrage ETH between uniswap and curve 50 50 50% 2x 3x",
		"",
		"nothing financial here",
	}
	for _, in := range inputs {
		entities := extract(t, e, in)
		for i, ent := range entities {
			if ent.Confidence < 0 || ent.Confidence > 1 {
				t.Fatalf("confidence out of range in %q: %+v", in, ent)
			}
			if !ent.IsValid {
				t.Fatalf("invalid entity returned for %q: %+v", in, ent)
			}
			if i == 0 {
				continue
			}
			prev := entities[i-1]
			if prev.Span.Start > ent.Span.Start {
				t.Fatalf("entities not sorted in %q: %+v", in, entities)
			}
			if prev.Span.Overlaps(ent.Span) {
				t.Fatalf("overlapping spans in %q: %+v / %+v", in, prev, ent)
			}
		}
	}
}

func TestExtractionIsIdempotent(t *testing.T) {
	e := New()
	text := "swap 2.5k USDC for ETH on uniswap with 1% slippage"
	first := extract(t, e, text)
	second := extract(t, e, text)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("extraction not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestLongerSpanWinsTies(t *testing.T) {
	entities := extract(t, New(), "lend 1000 USDC with 10x leverage")
	lev, ok := entities.First(defi.EntityLeverage)
	if !ok || lev.RawValue != "10x leverage" {
		t.Fatalf("expected leverage with keyword, got %+v", entities)
	}
	slip := extract(t, New(), "swap 1 ETH for USDC with 2% slippage")
	if slip.Has(defi.EntityPercentage) || !slip.Has(defi.EntitySlippage) {
		t.Fatalf("slippage should absorb the percentage: %+v", slip)
	}
}

func TestValidationDropsOutOfRangeValues(t *testing.T) {
	e := New()
	if got := extract(t, e, "open 1x long ETH"); got.Has(defi.EntityLeverage) {
		t.Fatalf("1x leverage should be invalid: %+v", got)
	}
	if got := extract(t, e, "lend 0 USDC"); got.Has(defi.EntityAmount) {
		t.Fatalf("zero amount should be invalid: %+v", got)
	}
	if got := extract(t, e, "set slippage to 80%"); got.Has(defi.EntitySlippage) {
		t.Fatalf("80%% slippage should be invalid: %+v", got)
	}
}

func TestAddressAndChain(t *testing.T) {
	entities := extract(t, New(), "send 10 USDC to 0x5b38da6a701c568545dcfcb03fcb875f56beddc4 on arbitrum")
	addr, ok := entities.First(defi.EntityAddress)
	if !ok || addr.NormalizedValue != "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4" {
		t.Fatalf("unexpected address %+v", addr)
	}
	chain, ok := entities.First(defi.EntityChain)
	if !ok || chain.NormalizedValue != "arbitrum" {
		t.Fatalf("unexpected chain %+v", entities)
	}
	if got := extract(t, New(), "the base case"); got.Has(defi.EntityChain) {
		t.Fatalf("bare 'base' must not be a chain: %+v", got)
	}
}

func TestProtocolAndTokenDoNotCollide(t *testing.T) {
	entities := extract(t, New(), "lend 100 DAI on Aave")
	p, ok := entities.First(defi.EntityProtocol)
	if !ok || p.NormalizedValue != "aave" {
		t.Fatalf("expected aave protocol: %+v", entities)
	}
	if entities.Count(defi.EntityToken) != 1 {
		t.Fatalf("expected a single token: %+v", entities)
	}
}

func TestMaxEntitiesKeepsMostConfident(t *testing.T) {
	e := New(WithMaxEntities(2))
	entities := extract(t, e, "swap 500 usdc for ETH")
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %+v", entities)
	}
	for _, ent := range entities {
		if ent.Type == defi.EntityToken && ent.NormalizedValue == "USDC" {
			t.Fatalf("lowercase token has the lowest confidence and should be cut: %+v", entities)
		}
	}
	if entities[0].Span.Start > entities[1].Span.Start {
		t.Fatalf("entities should be re-sorted by position")
	}
}

func TestStrictMinimumConfidence(t *testing.T) {
	e := New(WithMinConfidence(0.9))
	entities := extract(t, e, "lend 5 usdc")
	if entities.Has(defi.EntityToken) || entities.Has(defi.EntityAmount) {
		t.Fatalf("low confidence entities should be dropped: %+v", entities)
	}
}

func TestCatastrophicInput(t *testing.T) {
	e := New(WithMaxInputBytes(16))
	if _, err := e.Extract(context.Background(), strings.Repeat("a", 17)); xerrors.CodeOf(err) != defi.CodeEntityExtraction {
		t.Fatalf("expected oversized input error, got %v", err)
	}
	if _, err := e.Extract(context.Background(), "lend \xff"); xerrors.CodeOf(err) != defi.CodeEntityExtraction {
		t.Fatalf("expected invalid utf-8 error, got %v", err)
	}
}

func TestRulePanicIsConverted(t *testing.T) {
	e := New(WithRule(Rule{
		Type: defi.EntityAmount,
		Expr: regexp.MustCompile(`boom`),
		Base: 0.5,
		Normalize: func(Match) (string, float64, error) {
			panic("normalizer exploded")
		},
	}))
	_, err := e.Extract(context.Background(), "boom 100 USDC")
	if xerrors.CodeOf(err) != defi.CodeEntityExtraction {
		t.Fatalf("expected extraction error, got %v", err)
	}
	if !strings.Contains(err.Error(), "normalizer exploded") {
		t.Fatalf("panic value should be reported: %v", err)
	}
}

func TestScore(t *testing.T) {
	canonical := regexp.MustCompile(`^\d+$`)
	if got := score(0.8, "1000", "1000", canonical); got != 1 {
		t.Fatalf("expected capped score, got %v", got)
	}
	got := score(0.8, "50", "50", canonical)
	if want := 0.8 * 1.1 * 0.8 * 1.2; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("score = %v, want %v", got, want)
	}
	if got := score(0.5, "abc", "ABC", nil); got != 0.5 {
		t.Fatalf("unexpected plain score %v", got)
	}
}
