// Package ethereum reads account data from an EVM node: native and ERC20
// balances, ERC20 allowances, lending pool account data and gas prices.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/market"
)

const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

// lendingPoolABI covers the account summary exposed by Aave v3 style pools.
const lendingPoolABI = `[
	{"name":"getUserAccountData","type":"function","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"}],
	 "outputs":[
		{"name":"totalCollateralBase","type":"uint256"},
		{"name":"totalDebtBase","type":"uint256"},
		{"name":"availableBorrowsBase","type":"uint256"},
		{"name":"currentLiquidationThreshold","type":"uint256"},
		{"name":"ltv","type":"uint256"},
		{"name":"healthFactor","type":"uint256"}]}
]`

const (
	baseCurrencyDecimals = 8
	healthFactorDecimals = 18
	basisPoints          = 10000
)

// Config describes how to reach the node.
type Config struct {
	Chain  string
	RPCURL string
}

// chainReader is the subset of ethclient used by the provider.
type chainReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Provider implements market.Provider for a single EVM chain. Spot prices are
// not read on-chain and always report market.ErrNoData.
type Provider struct {
	chain     string
	catalog   *defi.Catalog
	reader    chainReader
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	erc20     abi.ABI
	pool      abi.ABI
	mu        sync.Mutex
}

var _ market.Provider = (*Provider)(nil)

// Dial connects to the configured RPC endpoint.
func Dial(ctx context.Context, cfg Config, catalog *defi.Catalog) (*Provider, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)
	p, err := newProvider(cfg.Chain, catalog, eth)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	p.rpcClient = rpcClient
	p.eth = eth
	return p, nil
}

// NewWithBackend wraps an existing backend such as a simulated chain.
func NewWithBackend(chain string, catalog *defi.Catalog, backend chainReader) (*Provider, error) {
	if backend == nil {
		return nil, errors.New("链访问后端不能为空")
	}
	return newProvider(chain, catalog, backend)
}

func newProvider(chain string, catalog *defi.Catalog, reader chainReader) (*Provider, error) {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if chain == "" {
		chain = "ethereum"
	}
	if catalog == nil {
		catalog = defi.DefaultCatalog()
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}
	pool, err := abi.JSON(strings.NewReader(lendingPoolABI))
	if err != nil {
		return nil, fmt.Errorf("解析借贷池 ABI 失败: %w", err)
	}
	return &Provider{chain: chain, catalog: catalog, reader: reader, erc20: erc20, pool: pool}, nil
}

// Close releases the RPC connection.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.eth != nil {
		p.eth.Close()
		p.eth = nil
	}
	if p.rpcClient != nil {
		p.rpcClient.Close()
		p.rpcClient = nil
	}
}

// Chain returns the chain the provider serves.
func (p *Provider) Chain() string { return p.chain }

// SpotPrice is not available from the node.
func (p *Provider) SpotPrice(context.Context, string) (float64, error) {
	return 0, market.ErrNoData
}

// Balance returns the native or ERC20 balance in token units.
func (p *Provider) Balance(ctx context.Context, chain, account, symbol string) (float64, error) {
	if !p.serves(chain) {
		return 0, market.ErrNoData
	}
	owner, err := parseAddress(account)
	if err != nil {
		return 0, err
	}
	token, ok := p.catalog.Token(symbol)
	if !ok {
		return 0, market.ErrNoData
	}
	if token.Native {
		raw, err := p.reader.BalanceAt(ctx, owner, nil)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "查询余额失败")
		}
		return scale(raw, token.Decimals), nil
	}
	contract, ok := token.Address(p.chain)
	if !ok {
		return 0, market.ErrNoData
	}
	raw, err := p.callUint(ctx, common.HexToAddress(contract), p.erc20, "balanceOf", owner)
	if err != nil {
		return 0, err
	}
	return scale(raw, token.Decimals), nil
}

// Allowance returns how much of the token the protocol contract may spend.
func (p *Provider) Allowance(ctx context.Context, chain, owner, protocol, symbol string) (float64, error) {
	if !p.serves(chain) {
		return 0, market.ErrNoData
	}
	ownerAddr, err := parseAddress(owner)
	if err != nil {
		return 0, err
	}
	token, ok := p.catalog.Token(symbol)
	if !ok || token.Native {
		return 0, market.ErrNoData
	}
	contract, ok := token.Address(p.chain)
	if !ok {
		return 0, market.ErrNoData
	}
	spender, ok := p.protocolContract(protocol)
	if !ok {
		return 0, market.ErrNoData
	}
	raw, err := p.callUint(ctx, common.HexToAddress(contract), p.erc20, "allowance", ownerAddr, spender)
	if err != nil {
		return 0, err
	}
	return scale(raw, token.Decimals), nil
}

// HealthFactor reads the account summary from the protocol's lending pool.
func (p *Provider) HealthFactor(ctx context.Context, chain, account, protocol string) (market.HealthData, error) {
	if !p.serves(chain) {
		return market.HealthData{}, market.ErrNoData
	}
	user, err := parseAddress(account)
	if err != nil {
		return market.HealthData{}, err
	}
	pool, ok := p.protocolContract(protocol)
	if !ok {
		return market.HealthData{}, market.ErrNoData
	}
	values, err := p.call(ctx, pool, p.pool, "getUserAccountData", user)
	if err != nil {
		return market.HealthData{}, err
	}
	if len(values) != 6 {
		return market.HealthData{}, xerrors.Newf(xerrors.CodeUpstreamFailure, "getUserAccountData 返回 %d 个值", len(values))
	}
	ints := make([]*big.Int, len(values))
	for i, v := range values {
		n, ok := v.(*big.Int)
		if !ok {
			return market.HealthData{}, xerrors.Newf(xerrors.CodeUpstreamFailure, "getUserAccountData 第 %d 个返回值类型异常", i)
		}
		ints[i] = n
	}
	data := market.HealthData{
		CollateralUSD:        scale(ints[0], baseCurrencyDecimals),
		DebtUSD:              scale(ints[1], baseCurrencyDecimals),
		LiquidationThreshold: float64(ints[3].Int64()) / basisPoints,
		Factor:               math.Inf(1),
	}
	if ints[1].Sign() > 0 {
		data.Factor = scale(ints[5], healthFactorDecimals)
	}
	return data, nil
}

// GasPrice returns the node's suggested gas price in wei.
func (p *Provider) GasPrice(ctx context.Context, chain string) (*big.Int, error) {
	if !p.serves(chain) {
		return nil, market.ErrNoData
	}
	price, err := p.reader.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "查询 gas 价格失败")
	}
	return price, nil
}

func (p *Provider) serves(chain string) bool {
	if strings.TrimSpace(chain) == "" {
		return true
	}
	c, ok := p.catalog.Chain(chain)
	if !ok {
		return strings.EqualFold(chain, p.chain)
	}
	return c.Name == p.chain
}

func (p *Provider) protocolContract(name string) (common.Address, bool) {
	protocol, ok := p.catalog.Protocol(name)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := protocol.Contract(p.chain)
	if !ok || !common.IsHexAddress(addr) {
		return common.Address{}, false
	}
	return common.HexToAddress(addr), true
}

func (p *Provider) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	out, err := p.reader.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "合约调用 "+method+" 失败")
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析 "+method+" 返回值失败")
	}
	return values, nil
}

func (p *Provider) callUint(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) (*big.Int, error) {
	values, err := p.call(ctx, contract, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, xerrors.Newf(xerrors.CodeUpstreamFailure, "%s 返回 %d 个值", method, len(values))
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeUpstreamFailure, "%s 返回值类型异常", method)
	}
	return n, nil
}

func parseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "无效的账户地址: %q", value)
	}
	return common.HexToAddress(value), nil
}

// scale converts a raw integer amount into units with the given decimals.
func scale(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	unit := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	v, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), unit).Float64()
	return v
}
