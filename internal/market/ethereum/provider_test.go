package ethereum

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/big"
	"strings"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/market"
)

func TestProviderNativeBalanceOnSimulatedBackend(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	twoEther := new(big.Int).Mul(big.NewInt(2), big.NewInt(1_000_000_000_000_000_000))

	backend := backends.NewSimulatedBackend(coretypes.GenesisAlloc{
		owner: {Balance: twoEther},
	}, 8_000_000)
	t.Cleanup(func() { _ = backend.Close() })

	p, err := NewWithBackend("ethereum", defi.DefaultCatalog(), backend)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	balance, err := p.Balance(ctx, "mainnet", owner.Hex(), "eth")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2 {
		t.Fatalf("balance = %v, want 2", balance)
	}

	gas, err := p.GasPrice(ctx, "ethereum")
	if err != nil {
		t.Fatalf("gas price: %v", err)
	}
	if gas.Sign() <= 0 {
		t.Fatalf("expected positive gas price, got %s", gas)
	}

	if _, err := p.GasPrice(ctx, "arbitrum"); !errors.Is(err, market.ErrNoData) {
		t.Fatalf("other chains must report ErrNoData, got %v", err)
	}
	if _, err := p.SpotPrice(ctx, "ETH"); !errors.Is(err, market.ErrNoData) {
		t.Fatalf("spot price must report ErrNoData, got %v", err)
	}
	if _, err := p.Balance(ctx, "ethereum", "not-an-address", "ETH"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

// contractStub answers eth_call with canned ABI-encoded results keyed by selector.
type contractStub struct {
	erc20   abi.ABI
	pool    abi.ABI
	results map[string][]byte
	calls   []gethcore.CallMsg
}

func newContractStub(t *testing.T) *contractStub {
	t.Helper()
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		t.Fatalf("erc20 abi: %v", err)
	}
	pool, err := abi.JSON(strings.NewReader(lendingPoolABI))
	if err != nil {
		t.Fatalf("pool abi: %v", err)
	}
	return &contractStub{erc20: erc20, pool: pool, results: map[string][]byte{}}
}

func (s *contractStub) respond(t *testing.T, parsed abi.ABI, method string, values ...any) {
	t.Helper()
	out, err := parsed.Methods[method].Outputs.Pack(values...)
	if err != nil {
		t.Fatalf("pack %s: %v", method, err)
	}
	s.results[string(parsed.Methods[method].ID)] = out
}

func (s *contractStub) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (s *contractStub) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	s.calls = append(s.calls, msg)
	if len(msg.Data) < 4 {
		return nil, errors.New("short call data")
	}
	out, ok := s.results[string(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (s *contractStub) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func TestProviderERC20Calls(t *testing.T) {
	stub := newContractStub(t)
	stub.respond(t, stub.erc20, "balanceOf", big.NewInt(1_234_500_000))
	stub.respond(t, stub.erc20, "allowance", big.NewInt(250_000_000))

	catalog := defi.DefaultCatalog()
	p, err := NewWithBackend("ethereum", catalog, stub)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	owner := "0x1111111111111111111111111111111111111111"
	ctx := context.Background()

	balance, err := p.Balance(ctx, "ethereum", owner, "USDC")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 1234.5 {
		t.Fatalf("balance = %v, want 1234.5", balance)
	}
	usdc, _ := catalog.Token("USDC")
	addr, _ := usdc.Address("ethereum")
	if last := stub.calls[len(stub.calls)-1]; last.To == nil || *last.To != common.HexToAddress(addr) {
		t.Fatalf("balanceOf sent to wrong contract")
	}

	allowance, err := p.Allowance(ctx, "ethereum", owner, "aave", "USDC")
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance != 250 {
		t.Fatalf("allowance = %v, want 250", allowance)
	}
	aave, _ := catalog.Protocol("aave")
	pool, _ := aave.Contract("ethereum")
	last := stub.calls[len(stub.calls)-1]
	if !bytes.Contains(last.Data, common.HexToAddress(pool).Bytes()) {
		t.Fatalf("allowance call does not reference the pool as spender")
	}

	if _, err := p.Allowance(ctx, "ethereum", owner, "curve", "USDC"); !errors.Is(err, market.ErrNoData) {
		t.Fatalf("protocol without contract must report ErrNoData, got %v", err)
	}
	if _, err := p.Balance(ctx, "ethereum", owner, "SOL"); !errors.Is(err, market.ErrNoData) {
		t.Fatalf("token without address must report ErrNoData, got %v", err)
	}
}

func TestProviderHealthFactor(t *testing.T) {
	stub := newContractStub(t)
	hf := new(big.Int).Mul(big.NewInt(33), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	stub.respond(t, stub.pool, "getUserAccountData",
		big.NewInt(2_000_000_000_000), // 20000 USD
		big.NewInt(500_000_000_000),   // 5000 USD
		big.NewInt(0),
		big.NewInt(8250),
		big.NewInt(8000),
		hf,
	)
	p, err := NewWithBackend("ethereum", nil, stub)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	data, err := p.HealthFactor(context.Background(), "ethereum", "0x1111111111111111111111111111111111111111", "aave")
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if data.CollateralUSD != 20000 || data.DebtUSD != 5000 || data.LiquidationThreshold != 0.825 {
		t.Fatalf("unexpected account data %+v", data)
	}
	if math.Abs(data.Factor-3.3) > 1e-9 {
		t.Fatalf("factor = %v, want 3.3", data.Factor)
	}

	stub.respond(t, stub.pool, "getUserAccountData",
		big.NewInt(2_000_000_000_000), big.NewInt(0), big.NewInt(0), big.NewInt(8250), big.NewInt(8000),
		new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)),
	)
	data, err = p.HealthFactor(context.Background(), "ethereum", "0x1111111111111111111111111111111111111111", "aave")
	if err != nil {
		t.Fatalf("health factor without debt: %v", err)
	}
	if !math.IsInf(data.Factor, 1) {
		t.Fatalf("factor without debt = %v, want +Inf", data.Factor)
	}
}

func TestProviderWrapsCallFailures(t *testing.T) {
	stub := newContractStub(t)
	p, err := NewWithBackend("ethereum", nil, stub)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = p.Balance(context.Background(), "ethereum", "0x1111111111111111111111111111111111111111", "DAI")
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if !xerrors.RetryableError(err) {
		t.Fatalf("upstream failures should be retryable")
	}
}
