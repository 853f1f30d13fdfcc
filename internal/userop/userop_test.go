package userop

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/stablecoinxyz/sbc-masspay/internal/batch"
	"github.com/stablecoinxyz/sbc-masspay/internal/chain"
	"github.com/stablecoinxyz/sbc-masspay/internal/permit"
	"github.com/stablecoinxyz/sbc-masspay/internal/recipient"
)

var (
	token   = common.HexToAddress("0xfdcC3dd6671eaB0709A4C0f3F53De9a333d80798")
	owner   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	account = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func testBatch(n int) batch.TransferBatch {
	rs := make([]recipient.Recipient, n)
	for i := range rs {
		rs[i] = recipient.Recipient{
			Address: common.BigToAddress(big.NewInt(int64(0x1000 + i))),
			Amount:  decimal.RequireFromString("0.01"),
		}
	}
	return batch.Plan(rs, n)[0]
}

func testAuth() *permit.Authorization {
	return &permit.Authorization{
		Owner:     owner,
		Spender:   account,
		Value:     big.NewInt(30_000),
		Nonce:     big.NewInt(0),
		Deadline:  1_700_001_800,
		Signature: permit.Signature{V: 27, R: [32]byte{1}, S: [32]byte{2}},
	}
}

func selector(name string) []byte { return chain.TokenABI.Methods[name].ID }

// ── Build ─────────────────────────────────────────────────────────────────────

func TestBuild_TransfersOnly(t *testing.T) {
	b := NewBuilder(token, owner, account, 6)
	tb := testBatch(3)

	calls, err := b.Build(tb, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("calls: got %d want 3", len(calls))
	}
	m := chain.TokenABI.Methods["transferFrom"]
	for i, c := range calls {
		if c.To != token || c.From != account {
			t.Errorf("call %d: to=%s from=%s", i, c.To.Hex(), c.From.Hex())
		}
		if !bytes.Equal(c.Data[:4], m.ID) {
			t.Fatalf("call %d: selector %x is not transferFrom", i, c.Data[:4])
		}
		args, err := m.Inputs.Unpack(c.Data[4:])
		if err != nil {
			t.Fatal(err)
		}
		if args[0].(common.Address) != owner {
			t.Errorf("call %d: from arg %s want owner", i, args[0].(common.Address).Hex())
		}
		if args[1].(common.Address) != tb.Recipients[i].Address {
			t.Errorf("call %d: recipient out of order", i)
		}
		if got := args[2].(*big.Int); got.Int64() != 10_000 {
			t.Errorf("call %d: amount got %s want 10000", i, got)
		}
	}
}

func TestBuild_PermitFirst(t *testing.T) {
	b := NewBuilder(token, owner, account, 6)
	calls, err := b.Build(testBatch(2), testAuth())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("calls: got %d want 3", len(calls))
	}
	if !bytes.Equal(calls[0].Data[:4], selector("permit")) {
		t.Fatal("first call must be permit")
	}
	for _, c := range calls[1:] {
		if !bytes.Equal(c.Data[:4], selector("transferFrom")) {
			t.Error("permit must appear only once, at the front")
		}
	}
	args, err := chain.TokenABI.Methods["permit"].Inputs.Unpack(calls[0].Data[4:])
	if err != nil {
		t.Fatal(err)
	}
	if args[2].(*big.Int).Int64() != 30_000 || args[3].(*big.Int).Int64() != 1_700_001_800 {
		t.Errorf("permit value/deadline: got %v/%v", args[2], args[3])
	}
	if args[4].(uint8) != 27 {
		t.Errorf("permit v: got %d want 27", args[4])
	}
}

func TestBuild_RejectsForeignPermit(t *testing.T) {
	b := NewBuilder(token, owner, account, 6)
	a := testAuth()
	a.Spender = common.HexToAddress("0x5555555555555555555555555555555555555555")
	if _, err := b.Build(testBatch(1), a); err == nil {
		t.Error("permit for a different spender should be rejected")
	}
	a = testAuth()
	a.Owner = account
	if _, err := b.Build(testBatch(1), a); err == nil {
		t.Error("permit from a different owner should be rejected")
	}
}

func TestBuild_RejectsValuesBeyondUint256(t *testing.T) {
	b := NewBuilder(token, owner, account, 18)

	a := testAuth()
	a.Value = new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := b.Build(testBatch(1), a); err == nil {
		t.Error("permit value of 2^256 should be rejected")
	}

	tb := testBatch(1)
	tb.Recipients[0].Amount = decimal.RequireFromString("1e70")
	if _, err := b.Build(tb, nil); err == nil {
		t.Error("transfer above uint256 base units should be rejected")
	}
}

func TestBuild_EmptyBatch(t *testing.T) {
	b := NewBuilder(token, owner, account, 6)
	if _, err := b.Build(batch.TransferBatch{}, nil); err == nil {
		t.Error("empty batch should fail")
	}
}

func TestEncodeExecuteBatch(t *testing.T) {
	calls, _ := NewBuilder(token, owner, account, 6).Build(testBatch(2), testAuth())
	data, err := EncodeExecuteBatch(calls)
	if err != nil {
		t.Fatal(err)
	}
	m := chain.SimpleAccountABI.Methods["executeBatch"]
	if !bytes.Equal(data[:4], m.ID) {
		t.Fatalf("selector %x is not executeBatch", data[:4])
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatal(err)
	}
	dest := args[0].([]common.Address)
	values := args[1].([]*big.Int)
	inner := args[2].([][]byte)
	if len(dest) != 3 || len(values) != 3 || len(inner) != 3 {
		t.Fatalf("lengths: %d/%d/%d want 3", len(dest), len(values), len(inner))
	}
	for i := range calls {
		if dest[i] != token || values[i].Sign() != 0 || !bytes.Equal(inner[i], calls[i].Data) {
			t.Errorf("call %d not encoded verbatim", i)
		}
	}
}

// ── UserOperation ─────────────────────────────────────────────────────────────

func TestPackedFields(t *testing.T) {
	op := New(account, big.NewInt(1), []byte{0xde, 0xad})
	op.VerificationGasLimit = (*hexutil.Big)(big.NewInt(0x0102))
	op.CallGasLimit = (*hexutil.Big)(big.NewInt(0x0304))
	op.MaxPriorityFeePerGas = (*hexutil.Big)(big.NewInt(0x05))
	op.MaxFeePerGas = (*hexutil.Big)(big.NewInt(0x06))

	agl := op.AccountGasLimits()
	if agl[14] != 0x01 || agl[15] != 0x02 || agl[30] != 0x03 || agl[31] != 0x04 {
		t.Errorf("accountGasLimits: %x", agl)
	}
	fees := op.GasFees()
	if fees[15] != 0x05 || fees[31] != 0x06 {
		t.Errorf("gasFees: %x", fees)
	}
	if op.PaymasterAndData() != nil || op.InitCode() != nil {
		t.Error("no paymaster/factory should pack to empty bytes")
	}

	pm := common.HexToAddress("0x7777777777777777777777777777777777777777")
	op.Paymaster = &pm
	op.PaymasterVerificationGasLimit = (*hexutil.Big)(big.NewInt(0x10))
	op.PaymasterPostOpGasLimit = (*hexutil.Big)(big.NewInt(0x20))
	op.PaymasterData = []byte{0xab}
	pad := op.PaymasterAndData()
	if len(pad) != 20+16+16+1 {
		t.Fatalf("paymasterAndData length: got %d want 53", len(pad))
	}
	if common.BytesToAddress(pad[:20]) != pm || pad[35] != 0x10 || pad[51] != 0x20 || pad[52] != 0xab {
		t.Errorf("paymasterAndData layout: %x", pad)
	}
}

func TestWithFactory_InitCode(t *testing.T) {
	op := New(account, big.NewInt(0), nil)
	factory := common.HexToAddress("0x91E60e0613810449d098b0b5Ec8b51A0FE8c8985")
	if err := op.WithFactory(factory, owner, big.NewInt(0)); err != nil {
		t.Fatal(err)
	}
	ic := op.InitCode()
	if common.BytesToAddress(ic[:20]) != factory {
		t.Errorf("initCode must start with the factory")
	}
	if !bytes.Equal(ic[20:24], chain.AccountFactoryABI.Methods["createAccount"].ID) {
		t.Errorf("initCode must call createAccount")
	}
}

func TestHash_DependsOnChainAndFields(t *testing.T) {
	ep := common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
	op := New(account, big.NewInt(0), []byte{1})
	h1, err := op.Hash(ep, big.NewInt(8453))
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := op.Hash(ep, big.NewInt(84532))
	if h1 == h2 {
		t.Error("hash must depend on chain id")
	}
	h3, _ := op.Hash(ep, big.NewInt(8453))
	if h1 != h3 {
		t.Error("hash must be deterministic")
	}
	// The signature is not part of the hash.
	op.Signature = []byte{9}
	if h4, _ := op.Hash(ep, big.NewInt(8453)); h4 != h1 {
		t.Error("signature must not affect the hash")
	}
	op.CallData = []byte{2}
	if h5, _ := op.Hash(ep, big.NewInt(8453)); h5 == h1 {
		t.Error("call data must affect the hash")
	}
}

func TestTotalGas(t *testing.T) {
	op := New(account, big.NewInt(0), nil)
	op.PreVerificationGas = (*hexutil.Big)(big.NewInt(1))
	op.CallGasLimit = (*hexutil.Big)(big.NewInt(2))
	op.VerificationGasLimit = (*hexutil.Big)(big.NewInt(4))
	op.PaymasterVerificationGasLimit = (*hexutil.Big)(big.NewInt(8))
	op.PaymasterPostOpGasLimit = (*hexutil.Big)(big.NewInt(16))
	if got := op.TotalGas().Int64(); got != 31 {
		t.Errorf("total gas: got %d want 31", got)
	}
}

func TestJSON_OmitsAbsentOptionalFields(t *testing.T) {
	op := New(account, big.NewInt(5), []byte{0x01})
	raw, err := json.Marshal(op)
	if err != nil {
		t.Fatal(err)
	}
	s := string(raw)
	for _, key := range []string{`"factory"`, `"paymaster"`, `"paymasterData"`} {
		if strings.Contains(s, key) {
			t.Errorf("%s should be omitted: %s", key, s)
		}
	}
	if !strings.Contains(s, `"nonce":"0x5"`) || !strings.Contains(s, `"callData":"0x01"`) {
		t.Errorf("unexpected encoding: %s", s)
	}
}
