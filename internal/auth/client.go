package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// SignHeaders returns the auth headers for calling action with body, valid
// for ttl (at most five minutes).
func SignHeaders(key *ecdsa.PrivateKey, action string, body []byte, ttl time.Duration) (http.Header, error) {
	req := SignedRequest{
		Action:    action,
		BodyHash:  BodyHash(body),
		ExpiresAt: time.Now().Add(ttl).Unix(),
		Nonce:     uuid.NewString(),
	}
	msg, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode signed request: %w", err)
	}
	sig, err := SignMessage(msg, key)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	h := http.Header{}
	h.Set(HeaderWallet, crypto.PubkeyToAddress(key.PublicKey).Hex())
	h.Set(HeaderMessage, base64.StdEncoding.EncodeToString(msg))
	h.Set(HeaderSignature, hexutil.Encode(sig))
	return h, nil
}
