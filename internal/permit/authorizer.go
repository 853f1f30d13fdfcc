package permit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
)

// ErrAuthorizationFailed aborts the whole submission before any batch runs.
var ErrAuthorizationFailed = errors.New("authorization failed")

// Lifetime is how long a signed permit stays valid on-chain.
const Lifetime = 30 * time.Minute

// NonceReader reads the owner's current permit nonce from the token.
type NonceReader interface {
	PermitNonce(ctx context.Context, owner common.Address) (*big.Int, error)
}

// TypedDataSigner is the owner's wallet session.
type TypedDataSigner interface {
	Address() common.Address
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// Authorizer produces one signed permit per submission.
type Authorizer struct {
	nonces NonceReader
	wallet TypedDataSigner
	domain Domain
	now    func() time.Time
	log    *zap.Logger
}

func NewAuthorizer(nonces NonceReader, wallet TypedDataSigner, domain Domain, log *zap.Logger) *Authorizer {
	return &Authorizer{
		nonces: nonces,
		wallet: wallet,
		domain: domain,
		now:    time.Now,
		log:    log,
	}
}

// Owner is the address whose tokens the permit covers.
func (a *Authorizer) Owner() common.Address { return a.wallet.Address() }

// Domain returns the token domain permits are signed under.
func (a *Authorizer) Domain() Domain { return a.domain }

// Authorize signs a permit letting spender move value tokens from the owner.
// Every failure is reported as ErrAuthorizationFailed; no signature is ever
// fabricated.
func (a *Authorizer) Authorize(ctx context.Context, spender common.Address, value *big.Int) (*Authorization, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: value must be positive", ErrAuthorizationFailed)
	}
	owner := a.wallet.Address()

	nonce, err := a.nonces.PermitNonce(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: read permit nonce: %v", ErrAuthorizationFailed, err)
	}

	auth := &Authorization{
		Owner:    owner,
		Spender:  spender,
		Value:    new(big.Int).Set(value),
		Nonce:    nonce,
		Deadline: a.now().Add(Lifetime).Unix(),
	}

	raw, err := a.wallet.SignTypedData(ctx, TypedData(auth, a.domain))
	if err != nil {
		return nil, fmt.Errorf("%w: sign permit: %v", ErrAuthorizationFailed, err)
	}
	sig, err := SplitSignature(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorizationFailed, err)
	}
	auth.Signature = sig

	signer, err := Verify(auth, a.domain)
	if err != nil || signer != owner {
		return nil, fmt.Errorf("%w: signature does not recover to owner %s", ErrAuthorizationFailed, owner.Hex())
	}

	a.log.Info("permit signed",
		zap.String("owner", owner.Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("value", auth.Value.String()),
		zap.String("nonce", nonce.String()),
		zap.Int64("deadline", auth.Deadline),
	)
	return auth, nil
}
