package registry

import (
	"testing"

	"DeFiIntent-Chain/internal/defi"
)

func TestDefaultRegistryCoversEveryIntent(t *testing.T) {
	r := Default()
	for _, intent := range defi.Intents() {
		if len(r.PatternsFor(intent)) == 0 {
			t.Errorf("intent %s has no pattern", intent)
		}
		if len(r.Keywords(intent)) == 0 {
			t.Errorf("intent %s has no keywords", intent)
		}
	}
	if Default() != r {
		t.Fatalf("default registry should be shared")
	}
}

func TestExamplesMatchTheirPatterns(t *testing.T) {
	for _, p := range Default().Patterns() {
		for _, example := range p.Examples {
			if !p.Expr.MatchString(example) {
				t.Errorf("pattern %d for %s does not match its example %q", p.Order(), p.Intent, example)
			}
		}
	}
}

func TestNewRejectsInvalidDefinitions(t *testing.T) {
	cases := map[string][]PatternDef{
		"unknown intent": {{Intent: "NOPE", Expr: `x`, BaseConfidence: 0.5}},
		"bad confidence": {{Intent: defi.IntentLend, Expr: `x`, BaseConfidence: 1.5}},
		"bad regexp":     {{Intent: defi.IntentLend, Expr: `(`, BaseConfidence: 0.5}},
	}
	for name, defs := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(defs, nil); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestPatternsReturnsCopy(t *testing.T) {
	r := Default()
	patterns := r.Patterns()
	patterns[0].BaseConfidence = 0
	if r.Patterns()[0].BaseConfidence == 0 {
		t.Fatalf("registry mutated through returned slice")
	}
}
