package defi

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "DeFiIntent-Chain/internal/errors"
)

// ProtocolCategory 是协议的业务类别。
type ProtocolCategory string

const (
	CategoryLending     ProtocolCategory = "lending"
	CategoryDEX         ProtocolCategory = "dex"
	CategoryDerivatives ProtocolCategory = "derivatives"
	CategoryStaking     ProtocolCategory = "staking"
	CategoryYield       ProtocolCategory = "yield"
)

// Token describes a tradable asset known to the pipeline.
type Token struct {
	Symbol    string            `yaml:"symbol" json:"symbol"`
	Decimals  uint8             `yaml:"decimals" json:"decimals"`
	Stable    bool              `yaml:"stable" json:"stable"`
	Native    bool              `yaml:"native" json:"native"`
	Addresses map[string]string `yaml:"addresses" json:"addresses,omitempty"`
}

// Address returns the ERC20 contract address of the token on the chain.
func (t Token) Address(chain string) (string, bool) {
	addr, ok := t.Addresses[strings.ToLower(chain)]
	return addr, ok && addr != ""
}

// Protocol describes a DeFi protocol and where it is deployed.
type Protocol struct {
	Name     string           `yaml:"name" json:"name"`
	Category ProtocolCategory `yaml:"category" json:"category"`
	Chains   []string         `yaml:"chains" json:"chains"`
	FeeRate  float64          `yaml:"fee_rate" json:"fee_rate"`

	// Contracts maps a chain to the address users approve and query, such as a lending pool or router.
	Contracts map[string]string `yaml:"contracts" json:"contracts,omitempty"`
}

// Contract returns the protocol entry-point contract on the chain.
func (p Protocol) Contract(chain string) (string, bool) {
	addr, ok := p.Contracts[strings.ToLower(chain)]
	return addr, ok && addr != ""
}

// Supports reports whether the protocol is deployed on the chain.
func (p Protocol) Supports(chain string) bool {
	for _, c := range p.Chains {
		if strings.EqualFold(c, chain) {
			return true
		}
	}
	return false
}

// Chain describes an EVM network.
type Chain struct {
	Name    string   `yaml:"name" json:"name"`
	ChainID uint64   `yaml:"chain_id" json:"chain_id"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
}

// CatalogDefinitions models the structure of configs/catalog.yaml.
type CatalogDefinitions struct {
	Tokens    []Token    `yaml:"tokens"`
	Protocols []Protocol `yaml:"protocols"`
	Chains    []Chain    `yaml:"chains"`
}

// Catalog is the immutable lookup table of tokens, protocols and chains.
// It is built once and shared by reference.
type Catalog struct {
	tokens      map[string]Token
	protocols   map[string]Protocol
	chains      map[string]Chain
	chainAlias  map[string]string
	tokenOrder  []string
	protoOrder  []string
	chainsOrder []string
}

// NewCatalog validates the definitions and builds a catalog.
func NewCatalog(defs CatalogDefinitions) (*Catalog, error) {
	c := &Catalog{
		tokens:     make(map[string]Token, len(defs.Tokens)),
		protocols:  make(map[string]Protocol, len(defs.Protocols)),
		chains:     make(map[string]Chain, len(defs.Chains)),
		chainAlias: make(map[string]string),
	}
	for _, chain := range defs.Chains {
		name := strings.ToLower(strings.TrimSpace(chain.Name))
		if name == "" {
			return nil, xerrors.New(CodeCatalogInvalid, "链名称不能为空")
		}
		if _, dup := c.chains[name]; dup {
			return nil, xerrors.Newf(CodeCatalogInvalid, "链 %s 重复定义", name)
		}
		chain.Name = name
		c.chains[name] = chain
		c.chainsOrder = append(c.chainsOrder, name)
		c.chainAlias[name] = name
		for _, alias := range chain.Aliases {
			c.chainAlias[strings.ToLower(alias)] = name
		}
	}
	for _, token := range defs.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if symbol == "" {
			return nil, xerrors.New(CodeCatalogInvalid, "代币符号不能为空")
		}
		if _, dup := c.tokens[symbol]; dup {
			return nil, xerrors.Newf(CodeCatalogInvalid, "代币 %s 重复定义", symbol)
		}
		addresses := make(map[string]string, len(token.Addresses))
		for chain, addr := range token.Addresses {
			chain = strings.ToLower(chain)
			if _, ok := c.chains[chain]; !ok {
				return nil, xerrors.Newf(CodeCatalogInvalid, "代币 %s 引用了未知链 %s", symbol, chain)
			}
			addresses[chain] = addr
		}
		token.Symbol = symbol
		token.Addresses = addresses
		c.tokens[symbol] = token
		c.tokenOrder = append(c.tokenOrder, symbol)
	}
	for _, protocol := range defs.Protocols {
		name := strings.ToLower(strings.TrimSpace(protocol.Name))
		if name == "" {
			return nil, xerrors.New(CodeCatalogInvalid, "协议名称不能为空")
		}
		if _, dup := c.protocols[name]; dup {
			return nil, xerrors.Newf(CodeCatalogInvalid, "协议 %s 重复定义", name)
		}
		if _, clash := c.tokens[strings.ToUpper(name)]; clash {
			return nil, xerrors.Newf(CodeCatalogInvalid, "协议 %s 与同名代币冲突", name)
		}
		contracts := make(map[string]string, len(protocol.Contracts))
		for chain, addr := range protocol.Contracts {
			chain = strings.ToLower(chain)
			if _, ok := c.chains[chain]; !ok {
				return nil, xerrors.Newf(CodeCatalogInvalid, "协议 %s 引用了未知链 %s", name, chain)
			}
			contracts[chain] = addr
		}
		protocol.Name = name
		protocol.Contracts = contracts
		c.protocols[name] = protocol
		c.protoOrder = append(c.protoOrder, name)
	}
	return c, nil
}

// LoadCatalog parses a catalog YAML file. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取目录配置失败: %w", err)
	}
	var defs CatalogDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析目录配置失败: %w", err)
	}
	return NewCatalog(defs)
}

// Token looks up a token by symbol, case-insensitively.
func (c *Catalog) Token(symbol string) (Token, bool) {
	t, ok := c.tokens[strings.ToUpper(symbol)]
	return t, ok
}

// Protocol looks up a protocol by name, case-insensitively.
func (c *Catalog) Protocol(name string) (Protocol, bool) {
	p, ok := c.protocols[strings.ToLower(name)]
	return p, ok
}

// Chain resolves a chain by name or alias.
func (c *Catalog) Chain(name string) (Chain, bool) {
	canonical, ok := c.chainAlias[strings.ToLower(name)]
	if !ok {
		return Chain{}, false
	}
	return c.chains[canonical], true
}

// TokenSymbols returns token symbols in definition order.
func (c *Catalog) TokenSymbols() []string {
	return append([]string(nil), c.tokenOrder...)
}

// ProtocolNames returns protocol names in definition order.
func (c *Catalog) ProtocolNames() []string {
	return append([]string(nil), c.protoOrder...)
}

// ChainNames returns every chain name and alias, longest first.
func (c *Catalog) ChainNames() []string {
	names := make([]string, 0, len(c.chainAlias))
	for alias := range c.chainAlias {
		names = append(names, alias)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}

// ProtocolsFor returns protocols of the category in definition order.
func (c *Catalog) ProtocolsFor(category ProtocolCategory) []Protocol {
	var out []Protocol
	for _, name := range c.protoOrder {
		if p := c.protocols[name]; p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// DefaultCatalog returns the compiled-in catalog of well-known assets.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultDefinitions)
	if err != nil {
		panic(err)
	}
	return c
}

var defaultDefinitions = CatalogDefinitions{
	Chains: []Chain{
		{Name: "ethereum", ChainID: 1, Aliases: []string{"mainnet"}},
		{Name: "arbitrum", ChainID: 42161},
		{Name: "optimism", ChainID: 10},
		{Name: "polygon", ChainID: 137},
		{Name: "base", ChainID: 8453},
		{Name: "bsc", ChainID: 56, Aliases: []string{"bnb chain"}},
		{Name: "avalanche", ChainID: 43114},
	},
	Tokens: []Token{
		{Symbol: "ETH", Decimals: 18, Native: true},
		{Symbol: "WETH", Decimals: 18, Addresses: map[string]string{"ethereum": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"}},
		{Symbol: "STETH", Decimals: 18, Addresses: map[string]string{"ethereum": "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"}},
		{Symbol: "BTC", Decimals: 8},
		{Symbol: "WBTC", Decimals: 8, Addresses: map[string]string{"ethereum": "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"}},
		{Symbol: "USDC", Decimals: 6, Stable: true, Addresses: map[string]string{"ethereum": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"}},
		{Symbol: "USDT", Decimals: 6, Stable: true, Addresses: map[string]string{"ethereum": "0xdAC17F958D2ee523a2206206994597C13D831ec7"}},
		{Symbol: "DAI", Decimals: 18, Stable: true, Addresses: map[string]string{"ethereum": "0x6B175474E89094C44Da98b954EedeAC495271d0F"}},
		{Symbol: "FRAX", Decimals: 18, Stable: true},
		{Symbol: "LINK", Decimals: 18, Addresses: map[string]string{"ethereum": "0x514910771AF9Ca656af840dff83E8264EcF986CA"}},
		{Symbol: "UNI", Decimals: 18, Addresses: map[string]string{"ethereum": "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"}},
		{Symbol: "CRV", Decimals: 18},
		{Symbol: "MKR", Decimals: 18},
		{Symbol: "LDO", Decimals: 18},
		{Symbol: "ARB", Decimals: 18},
		{Symbol: "OP", Decimals: 18},
		{Symbol: "MATIC", Decimals: 18},
		{Symbol: "SOL", Decimals: 9},
	},
	Protocols: []Protocol{
		{Name: "aave", Category: CategoryLending, Chains: []string{"ethereum", "arbitrum", "optimism", "polygon", "base", "avalanche"},
			Contracts: map[string]string{"ethereum": "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"}},
		{Name: "compound", Category: CategoryLending, Chains: []string{"ethereum", "arbitrum", "base", "polygon"}},
		{Name: "maker", Category: CategoryLending, Chains: []string{"ethereum"}},
		{Name: "morpho", Category: CategoryLending, Chains: []string{"ethereum", "base"}},
		{Name: "spark", Category: CategoryLending, Chains: []string{"ethereum"}},
		{Name: "uniswap", Category: CategoryDEX, Chains: []string{"ethereum", "arbitrum", "optimism", "polygon", "base"}, FeeRate: 0.003,
			Contracts: map[string]string{"ethereum": "0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45"}},
		{Name: "curve", Category: CategoryDEX, Chains: []string{"ethereum", "arbitrum", "polygon"}, FeeRate: 0.0004},
		{Name: "sushiswap", Category: CategoryDEX, Chains: []string{"ethereum", "arbitrum", "polygon"}, FeeRate: 0.003},
		{Name: "balancer", Category: CategoryDEX, Chains: []string{"ethereum", "arbitrum", "polygon"}, FeeRate: 0.002},
		{Name: "pancakeswap", Category: CategoryDEX, Chains: []string{"bsc", "ethereum"}, FeeRate: 0.0025},
		{Name: "1inch", Category: CategoryDEX, Chains: []string{"ethereum", "arbitrum", "optimism", "polygon", "bsc"}, FeeRate: 0.001},
		{Name: "gmx", Category: CategoryDerivatives, Chains: []string{"arbitrum", "avalanche"}, FeeRate: 0.001},
		{Name: "dydx", Category: CategoryDerivatives, Chains: []string{"ethereum"}, FeeRate: 0.0005},
		{Name: "lido", Category: CategoryStaking, Chains: []string{"ethereum"}, FeeRate: 0.1},
		{Name: "yearn", Category: CategoryYield, Chains: []string{"ethereum", "arbitrum"}},
		{Name: "convex", Category: CategoryYield, Chains: []string{"ethereum"}},
	},
}
