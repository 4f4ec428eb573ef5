package defi

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	xerrors "DeFiIntent-Chain/internal/errors"
)

func TestDefaultCatalogLookups(t *testing.T) {
	c := DefaultCatalog()

	if _, ok := c.Token("usdc"); !ok {
		t.Fatalf("expected USDC token")
	}
	if _, ok := c.Token("AAVE"); ok {
		t.Fatalf("AAVE should only be known as a protocol")
	}
	p, ok := c.Protocol("Aave")
	if !ok || p.Category != CategoryLending {
		t.Fatalf("unexpected protocol %+v", p)
	}
	chain, ok := c.Chain("mainnet")
	if !ok || chain.ChainID != 1 {
		t.Fatalf("expected mainnet alias to resolve, got %+v", chain)
	}
	if addr, ok := mustToken(t, c, "USDC").Address("ethereum"); !ok || addr == "" {
		t.Fatalf("expected USDC address on ethereum")
	}
	if len(c.ProtocolsFor(CategoryLending)) == 0 {
		t.Fatalf("expected lending protocols")
	}
	names := c.ChainNames()
	if len(names[0]) < len(names[len(names)-1]) {
		t.Fatalf("chain names should be longest first: %v", names)
	}
}

func TestLoadCatalogFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := `
chains:
  - name: ethereum
    chain_id: 1
tokens:
  - symbol: usdc
    decimals: 6
    stable: true
    addresses:
      ethereum: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
protocols:
  - name: Aave
    category: lending
    chains: [ethereum]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.TokenSymbols(); len(got) != 1 || got[0] != "USDC" {
		t.Fatalf("unexpected tokens %v", got)
	}
	if p, ok := c.Protocol("aave"); !ok || !p.Supports("Ethereum") {
		t.Fatalf("unexpected protocol %+v", p)
	}
}

func TestNewCatalogRejectsInvalidDefinitions(t *testing.T) {
	cases := map[string]CatalogDefinitions{
		"duplicate token": {Tokens: []Token{{Symbol: "ETH"}, {Symbol: "eth"}}},
		"unknown chain":   {Tokens: []Token{{Symbol: "USDC", Addresses: map[string]string{"mars": "0x1"}}}},
		"name clash":      {Tokens: []Token{{Symbol: "AAVE"}}, Protocols: []Protocol{{Name: "aave"}}},
	}
	for name, defs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewCatalog(defs)
			if xerrors.CodeOf(err) != CodeCatalogInvalid {
				t.Fatalf("expected catalog error, got %v", err)
			}
		})
	}
}

func TestConversationContextHelpers(t *testing.T) {
	value := 20000.0
	ctx := &ConversationContext{
		PortfolioValue:     &value,
		PreferredProtocols: []string{"Aave"},
		ActivePositions:    []Position{{Type: PositionLending, Value: 100}},
		History: []HistoryTurn{
			{Intent: IntentShowRates, Timestamp: time.Unix(1, 0)},
			{Intent: IntentLend, Timestamp: time.Unix(2, 0)},
		},
	}
	if last, ok := ctx.LastIntent(); !ok || last != IntentLend {
		t.Fatalf("unexpected last intent %s", last)
	}
	if got := ctx.RecentIntents(5); len(got) != 2 {
		t.Fatalf("unexpected recent intents %v", got)
	}
	if !ctx.HasPositionType(PositionLending) || ctx.TotalValue() != 20000 || !ctx.PrefersProtocol("aave") {
		t.Fatalf("unexpected helper results")
	}

	var nilCtx *ConversationContext
	if _, ok := nilCtx.LastIntent(); ok || nilCtx.TotalValue() != 0 {
		t.Fatalf("nil context should be empty")
	}
}

func mustToken(t *testing.T, c *Catalog, symbol string) Token {
	t.Helper()
	token, ok := c.Token(symbol)
	if !ok {
		t.Fatalf("token %s missing", symbol)
	}
	return token
}
