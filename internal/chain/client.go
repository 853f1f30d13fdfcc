package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the read-only slice of ethclient the payout flow needs.
type Backend interface {
	bind.ContractCaller
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Client wraps go-ethereum for token, account factory and EntryPoint reads.
type Client struct {
	eth       Backend
	token     *bind.BoundContract
	tokenAddr common.Address
	chainID   *big.Int
	close     func()
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string, chainID int64, tokenAddr common.Address) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c := NewClient(eth, big.NewInt(chainID), tokenAddr)
	c.close = eth.Close
	return c, nil
}

func NewClient(backend Backend, chainID *big.Int, tokenAddr common.Address) *Client {
	return &Client{
		eth:       backend,
		token:     bind.NewBoundContract(tokenAddr, TokenABI, backend, nil, nil),
		tokenAddr: tokenAddr,
		chainID:   chainID,
		close:     func() {},
	}
}

// Close releases the RPC connection.
func (c *Client) Close() { c.close() }

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// TokenAddress returns the payout token contract address.
func (c *Client) TokenAddress() common.Address { return c.tokenAddr }

// PermitNonce returns the owner's current EIP-2612 nonce.
func (c *Client) PermitNonce(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := c.callToken(ctx, "nonces", owner)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// TokenBalance returns the token balance of account in smallest units.
func (c *Client) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := c.callToken(ctx, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Allowance returns how much spender may still move from owner.
func (c *Client) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := c.callToken(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// TokenName returns the token's name (the EIP-712 domain name).
func (c *Client) TokenName(ctx context.Context) (string, error) {
	out, err := c.callToken(ctx, "name")
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// TokenDecimals returns the token's fractional precision.
func (c *Client) TokenDecimals(ctx context.Context) (uint8, error) {
	out, err := c.callToken(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// DomainSeparator returns the token's on-chain EIP-712 domain separator.
func (c *Client) DomainSeparator(ctx context.Context) ([32]byte, error) {
	out, err := c.callToken(ctx, "DOMAIN_SEPARATOR")
	if err != nil {
		return [32]byte{}, err
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}

// BaseFee returns the base fee of the latest block.
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	if head.BaseFee == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(head.BaseFee), nil
}

// SenderAddress returns the counterfactual smart-account address for owner.
func (c *Client) SenderAddress(ctx context.Context, factory, owner common.Address, salt *big.Int) (common.Address, error) {
	contract := bind.NewBoundContract(factory, AccountFactoryABI, c.eth, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAddress", owner, salt); err != nil {
		return common.Address{}, fmt.Errorf("factory getAddress: %w", err)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// EntryPointNonce returns the smart account's next user operation nonce (key 0).
func (c *Client) EntryPointNonce(ctx context.Context, entryPoint, sender common.Address) (*big.Int, error) {
	contract := bind.NewBoundContract(entryPoint, EntryPointABI, c.eth, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "getNonce", sender, new(big.Int)); err != nil {
		return nil, fmt.Errorf("entrypoint getNonce: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// IsDeployed reports whether addr has contract code.
func (c *Client) IsDeployed(ctx context.Context, addr common.Address) (bool, error) {
	code, err := c.eth.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("code at %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

func (c *Client) callToken(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.token.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("token %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, errors.New("token " + method + ": empty result")
	}
	return out, nil
}
