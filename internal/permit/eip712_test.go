package permit

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var testDomain = Domain{
	Name:              "Stable Coin",
	Version:           "1",
	ChainID:           big.NewInt(8453),
	VerifyingContract: common.HexToAddress("0xfdcC3dd6671eaB0709A4C0f3F53De9a333d80798"),
}

func newTestAuthorization() *Authorization {
	return &Authorization{
		Owner:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Spender:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Value:    big.NewInt(1_000_000),
		Nonce:    big.NewInt(0),
		Deadline: 1_700_001_800,
	}
}

// ── Digest agrees with go-ethereum's typed-data hasher ────────────────────────

func TestDigest_MatchesTypedDataHash(t *testing.T) {
	a := newTestAuthorization()
	want, _, err := apitypes.TypedDataAndHash(TypedData(a, testDomain))
	if err != nil {
		t.Fatalf("TypedDataAndHash: %v", err)
	}
	got := Digest(a, testDomain)
	if common.BytesToHash(want) != common.Hash(got) {
		t.Errorf("digest mismatch:\n got  %x\n want %x", got, want)
	}
}

func TestDomainSeparator_MatchesTypedData(t *testing.T) {
	td := TypedData(newTestAuthorization(), testDomain)
	want, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		t.Fatalf("HashStruct: %v", err)
	}
	got := DomainSeparator(testDomain)
	if common.BytesToHash(want) != common.Hash(got) {
		t.Errorf("separator mismatch:\n got  %x\n want %x", got, want)
	}
}

// ── Sign + Verify ─────────────────────────────────────────────────────────────

func TestSign_RecoverAddress(t *testing.T) {
	privKey, _ := crypto.GenerateKey()
	expected := crypto.PubkeyToAddress(privKey.PublicKey)

	a := newTestAuthorization()
	a.Owner = expected
	if err := Sign(a, privKey, testDomain); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if a.Signature.V != 27 && a.Signature.V != 28 {
		t.Errorf("v should be 27 or 28, got %d", a.Signature.V)
	}

	recovered, err := Verify(a, testDomain)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if recovered != expected {
		t.Errorf("recovered %s, want %s", recovered.Hex(), expected.Hex())
	}
}

func TestSign_DomainSeparation(t *testing.T) {
	privKey, _ := crypto.GenerateKey()
	expected := crypto.PubkeyToAddress(privKey.PublicKey)

	a := newTestAuthorization()
	if err := Sign(a, privKey, testDomain); err != nil {
		t.Fatal(err)
	}

	variants := map[string]Domain{
		"chain":    {Name: testDomain.Name, Version: testDomain.Version, ChainID: big.NewInt(1), VerifyingContract: testDomain.VerifyingContract},
		"contract": {Name: testDomain.Name, Version: testDomain.Version, ChainID: testDomain.ChainID, VerifyingContract: common.HexToAddress("0x01")},
		"version":  {Name: testDomain.Name, Version: "2", ChainID: testDomain.ChainID, VerifyingContract: testDomain.VerifyingContract},
		"name":     {Name: "USD Coin", Version: testDomain.Version, ChainID: testDomain.ChainID, VerifyingContract: testDomain.VerifyingContract},
	}
	for name, d := range variants {
		recovered, err := Verify(a, d)
		if err != nil {
			continue
		}
		if recovered == expected {
			t.Errorf("signature should NOT verify under a different %s", name)
		}
	}
}

func TestSign_TamperedValue(t *testing.T) {
	privKey, _ := crypto.GenerateKey()
	expected := crypto.PubkeyToAddress(privKey.PublicKey)

	a := newTestAuthorization()
	if err := Sign(a, privKey, testDomain); err != nil {
		t.Fatal(err)
	}
	a.Value = big.NewInt(999_999_999)

	recovered, err := Verify(a, testDomain)
	if err != nil {
		return
	}
	if recovered == expected {
		t.Error("tampered value should invalidate the signature")
	}
}

func TestSign_NonceChangesSignature(t *testing.T) {
	privKey, _ := crypto.GenerateKey()
	a1, a2 := newTestAuthorization(), newTestAuthorization()
	a2.Nonce = big.NewInt(1)
	if err := Sign(a1, privKey, testDomain); err != nil {
		t.Fatal(err)
	}
	if err := Sign(a2, privKey, testDomain); err != nil {
		t.Fatal(err)
	}
	if a1.Signature == a2.Signature {
		t.Error("different nonces should produce different signatures")
	}
}

// ── SplitSignature ───────────────────────────────────────────────────────────

func TestSplitSignature(t *testing.T) {
	raw := make([]byte, 65)
	raw[0], raw[32], raw[64] = 0xAA, 0xBB, 1
	s, err := SplitSignature(raw)
	if err != nil {
		t.Fatalf("SplitSignature: %v", err)
	}
	if s.V != 28 || s.R[0] != 0xAA || s.S[0] != 0xBB {
		t.Errorf("unexpected split: %+v", s)
	}
	if _, err := SplitSignature(raw[:64]); err == nil {
		t.Error("short signature should fail")
	}
	raw[64] = 5
	if _, err := SplitSignature(raw); err == nil {
		t.Error("v=5 should fail")
	}
}

func TestDomainVersion(t *testing.T) {
	if DomainVersion("USD Coin") != "2" {
		t.Error("USD Coin uses version 2")
	}
	if DomainVersion("Stable Coin") != "1" {
		t.Error("other tokens use version 1")
	}
}
