package permit

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
)

// ── mocks ─────────────────────────────────────────────────────────────────────

type mockNonceReader struct {
	nonce *big.Int
	err   error
	calls int
}

func (m *mockNonceReader) PermitNonce(_ context.Context, _ common.Address) (*big.Int, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return new(big.Int).Set(m.nonce), nil
}

// keySigner signs typed data with a raw key, optionally failing or signing
// with the wrong key.
type keySigner struct {
	addr    common.Address
	signKey func() []byte
	err     error
	last    apitypes.TypedData
}

func newKeySigner(t *testing.T) *keySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	s := &keySigner{addr: crypto.PubkeyToAddress(key.PublicKey)}
	s.signKey = func() []byte {
		digest, _, err := apitypes.TypedDataAndHash(s.last)
		if err != nil {
			t.Fatalf("TypedDataAndHash: %v", err)
		}
		sig, err := crypto.Sign(digest, key)
		if err != nil {
			t.Fatal(err)
		}
		return sig
	}
	return s
}

func (s *keySigner) Address() common.Address { return s.addr }

func (s *keySigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	s.last = data
	if s.err != nil {
		return nil, s.err
	}
	return s.signKey(), nil
}

var testSpender = common.HexToAddress("0x3333333333333333333333333333333333333333")

func newTestAuthorizer(nonces NonceReader, w TypedDataSigner, now time.Time) *Authorizer {
	a := NewAuthorizer(nonces, w, testDomain, zap.NewNop())
	a.now = func() time.Time { return now }
	return a
}

// ── Authorize ─────────────────────────────────────────────────────────────────

func TestAuthorize_SignsPermit(t *testing.T) {
	w := newKeySigner(t)
	nonces := &mockNonceReader{nonce: big.NewInt(7)}
	now := time.Unix(1_700_000_000, 0)
	a := newTestAuthorizer(nonces, w, now)

	value := big.NewInt(11_000_000)
	auth, err := a.Authorize(context.Background(), testSpender, value)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if auth.Owner != w.addr || auth.Spender != testSpender {
		t.Errorf("owner/spender: got %s/%s", auth.Owner.Hex(), auth.Spender.Hex())
	}
	if auth.Value.Cmp(value) != 0 {
		t.Errorf("value: got %s want %s", auth.Value, value)
	}
	if auth.Nonce.Int64() != 7 {
		t.Errorf("nonce: got %s want 7", auth.Nonce)
	}
	if want := now.Add(30 * time.Minute).Unix(); auth.Deadline != want {
		t.Errorf("deadline: got %d want %d", auth.Deadline, want)
	}
	recovered, err := Verify(auth, testDomain)
	if err != nil || recovered != w.addr {
		t.Errorf("signature should recover owner, got %s err=%v", recovered.Hex(), err)
	}
	if w.last.PrimaryType != "Permit" {
		t.Errorf("primary type: got %q want Permit", w.last.PrimaryType)
	}
}

func TestAuthorize_ValueNotAliased(t *testing.T) {
	a := newTestAuthorizer(&mockNonceReader{nonce: big.NewInt(0)}, newKeySigner(t), time.Now())
	value := big.NewInt(5)
	auth, err := a.Authorize(context.Background(), testSpender, value)
	if err != nil {
		t.Fatal(err)
	}
	value.SetInt64(6)
	if auth.Value.Int64() != 5 {
		t.Error("authorization must not alias the caller's value")
	}
}

func TestAuthorize_NonceReadFails(t *testing.T) {
	w := newKeySigner(t)
	a := newTestAuthorizer(&mockNonceReader{err: errors.New("rpc down")}, w, time.Now())

	auth, err := a.Authorize(context.Background(), testSpender, big.NewInt(1))
	if !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected ErrAuthorizationFailed, got %v", err)
	}
	if auth != nil {
		t.Error("no authorization may be returned on failure")
	}
	if w.last.PrimaryType != "" {
		t.Error("wallet must not be asked to sign when the nonce read fails")
	}
}

func TestAuthorize_UserRejects(t *testing.T) {
	w := newKeySigner(t)
	w.err = errors.New("user rejected the request")
	a := newTestAuthorizer(&mockNonceReader{nonce: big.NewInt(0)}, w, time.Now())

	if _, err := a.Authorize(context.Background(), testSpender, big.NewInt(1)); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected ErrAuthorizationFailed, got %v", err)
	}
}

func TestAuthorize_WrongSigner(t *testing.T) {
	w := newKeySigner(t)
	other := newKeySigner(t)
	// Report one address, sign with another key.
	w.signKey = func() []byte {
		other.last = w.last
		return other.signKey()
	}
	a := newTestAuthorizer(&mockNonceReader{nonce: big.NewInt(0)}, w, time.Now())

	if _, err := a.Authorize(context.Background(), testSpender, big.NewInt(1)); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected ErrAuthorizationFailed for foreign signature, got %v", err)
	}
}

func TestAuthorize_ZeroValue(t *testing.T) {
	nonces := &mockNonceReader{nonce: big.NewInt(0)}
	a := newTestAuthorizer(nonces, newKeySigner(t), time.Now())

	if _, err := a.Authorize(context.Background(), testSpender, big.NewInt(0)); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected ErrAuthorizationFailed, got %v", err)
	}
	if nonces.calls != 0 {
		t.Error("nonce should not be read for a zero-value permit")
	}
}
