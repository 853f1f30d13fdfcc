package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ── fake backend ──────────────────────────────────────────────────────────────

// fakeBackend answers eth_call by contract address and method selector.
type fakeBackend struct {
	t       *testing.T
	code    map[common.Address][]byte
	methods map[common.Address]abi.ABI
	results map[string][]interface{} // keyed by method name
	args    map[string][]interface{}
	baseFee *big.Int
	callErr error
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{
		t:       t,
		code:    map[common.Address][]byte{},
		methods: map[common.Address]abi.ABI{},
		results: map[string][]interface{}{},
		args:    map[string][]interface{}{},
	}
}

func (f *fakeBackend) deploy(addr common.Address, a abi.ABI) {
	f.code[addr] = []byte{0x60, 0x80}
	f.methods[addr] = a
}

func (f *fakeBackend) CodeAt(_ context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	return f.code[addr], nil
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	contract, ok := f.methods[*call.To]
	if !ok {
		return nil, nil
	}
	m, err := contract.MethodById(call.Data[:4])
	if err != nil {
		f.t.Fatalf("unknown selector %x", call.Data[:4])
	}
	args, err := m.Inputs.Unpack(call.Data[4:])
	if err != nil {
		f.t.Fatalf("unpack %s args: %v", m.Name, err)
	}
	f.args[m.Name] = args
	return m.Outputs.Pack(f.results[m.Name]...)
}

func (f *fakeBackend) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: f.baseFee}, nil
}

var (
	tokenAddr   = common.HexToAddress("0xfdcC3dd6671eaB0709A4C0f3F53De9a333d80798")
	factoryAddr = common.HexToAddress("0x91E60e0613810449d098b0b5Ec8b51A0FE8c8985")
	entryPoint  = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
	ownerAddr   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

func newTestClient(t *testing.T) (*Client, *fakeBackend) {
	f := newFakeBackend(t)
	f.deploy(tokenAddr, TokenABI)
	f.deploy(factoryAddr, AccountFactoryABI)
	f.deploy(entryPoint, EntryPointABI)
	return NewClient(f, big.NewInt(8453), tokenAddr), f
}

// ── token reads ───────────────────────────────────────────────────────────────

func TestPermitNonce(t *testing.T) {
	c, f := newTestClient(t)
	f.results["nonces"] = []interface{}{big.NewInt(42)}

	n, err := c.PermitNonce(context.Background(), ownerAddr)
	if err != nil {
		t.Fatalf("PermitNonce: %v", err)
	}
	if n.Int64() != 42 {
		t.Errorf("nonce: got %s want 42", n)
	}
	if got := f.args["nonces"][0].(common.Address); got != ownerAddr {
		t.Errorf("nonces arg: got %s want %s", got.Hex(), ownerAddr.Hex())
	}
}

func TestTokenMetadata(t *testing.T) {
	c, f := newTestClient(t)
	f.results["name"] = []interface{}{"Stable Coin"}
	f.results["decimals"] = []interface{}{uint8(18)}
	sep := [32]byte{1, 2, 3}
	f.results["DOMAIN_SEPARATOR"] = []interface{}{sep}
	f.results["balanceOf"] = []interface{}{big.NewInt(5_000)}
	f.results["allowance"] = []interface{}{big.NewInt(7)}

	ctx := context.Background()
	if name, err := c.TokenName(ctx); err != nil || name != "Stable Coin" {
		t.Errorf("name: got %q err=%v", name, err)
	}
	if dec, err := c.TokenDecimals(ctx); err != nil || dec != 18 {
		t.Errorf("decimals: got %d err=%v", dec, err)
	}
	if got, err := c.DomainSeparator(ctx); err != nil || got != sep {
		t.Errorf("domain separator: got %x err=%v", got, err)
	}
	if bal, err := c.TokenBalance(ctx, ownerAddr); err != nil || bal.Int64() != 5_000 {
		t.Errorf("balance: got %v err=%v", bal, err)
	}
	if al, err := c.Allowance(ctx, ownerAddr, factoryAddr); err != nil || al.Int64() != 7 {
		t.Errorf("allowance: got %v err=%v", al, err)
	}
}

func TestTokenCall_RPCError(t *testing.T) {
	c, f := newTestClient(t)
	f.callErr = errors.New("connection refused")
	if _, err := c.PermitNonce(context.Background(), ownerAddr); err == nil {
		t.Fatal("expected error")
	}
}

func TestTokenCall_NoContract(t *testing.T) {
	f := newFakeBackend(t)
	c := NewClient(f, big.NewInt(8453), tokenAddr)
	if _, err := c.TokenName(context.Background()); err == nil {
		t.Fatal("expected error when the token has no code")
	}
}

// ── account abstraction reads ─────────────────────────────────────────────────

func TestSenderAddress(t *testing.T) {
	c, f := newTestClient(t)
	account := common.HexToAddress("0x4444444444444444444444444444444444444444")
	f.results["getAddress"] = []interface{}{account}

	got, err := c.SenderAddress(context.Background(), factoryAddr, ownerAddr, big.NewInt(0))
	if err != nil {
		t.Fatalf("SenderAddress: %v", err)
	}
	if got != account {
		t.Errorf("sender: got %s want %s", got.Hex(), account.Hex())
	}
}

func TestEntryPointNonce_KeyZero(t *testing.T) {
	c, f := newTestClient(t)
	f.results["getNonce"] = []interface{}{big.NewInt(3)}
	sender := common.HexToAddress("0x4444444444444444444444444444444444444444")

	n, err := c.EntryPointNonce(context.Background(), entryPoint, sender)
	if err != nil {
		t.Fatalf("EntryPointNonce: %v", err)
	}
	if n.Int64() != 3 {
		t.Errorf("nonce: got %s want 3", n)
	}
	if key := f.args["getNonce"][1].(*big.Int); key.Sign() != 0 {
		t.Errorf("nonce key: got %s want 0", key)
	}
}

func TestIsDeployed(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	if ok, err := c.IsDeployed(ctx, tokenAddr); err != nil || !ok {
		t.Errorf("token should be deployed: ok=%v err=%v", ok, err)
	}
	if ok, err := c.IsDeployed(ctx, ownerAddr); err != nil || ok {
		t.Errorf("EOA should not be deployed: ok=%v err=%v", ok, err)
	}
}

func TestBaseFee(t *testing.T) {
	c, f := newTestClient(t)
	f.baseFee = big.NewInt(1_000_000)
	fee, err := c.BaseFee(context.Background())
	if err != nil || fee.Int64() != 1_000_000 {
		t.Fatalf("base fee: got %v err=%v", fee, err)
	}
	f.baseFee = nil
	fee, err = c.BaseFee(context.Background())
	if err != nil || fee.Sign() != 0 {
		t.Fatalf("pre-London base fee: got %v err=%v", fee, err)
	}
}
