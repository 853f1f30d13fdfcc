// cmd/checkbal prints the owner's on-chain payout readiness: token balance,
// permit nonce, smart account and whether the permit domain matches the token.
//
// It reads the same environment as the server.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/stablecoinxyz/sbc-masspay/internal/chain"
	"github.com/stablecoinxyz/sbc-masspay/internal/config"
	"github.com/stablecoinxyz/sbc-masspay/internal/permit"
	"github.com/stablecoinxyz/sbc-masspay/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalf("config: %v", err)
	}
	owner, err := wallet.NewKeySession(cfg.Wallet.OwnerPrivateKey)
	if err != nil {
		fatalf("owner key: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID, common.HexToAddress(cfg.Token.Address))
	if err != nil {
		fatalf("dial rpc: %v", err)
	}
	defer c.Close()

	entryPoint := common.HexToAddress(cfg.AA.EntryPoint)
	account, err := c.SenderAddress(ctx, common.HexToAddress(cfg.AA.AccountFactory), owner.Address(), big.NewInt(0))
	if err != nil {
		fatalf("resolve smart account: %v", err)
	}
	deployed, err := c.IsDeployed(ctx, account)
	if err != nil {
		fatalf("read account code: %v", err)
	}
	bal, err := c.TokenBalance(ctx, owner.Address())
	if err != nil {
		fatalf("balanceOf: %v", err)
	}
	nonce, err := c.PermitNonce(ctx, owner.Address())
	if err != nil {
		fatalf("nonces: %v", err)
	}
	allowance, err := c.Allowance(ctx, owner.Address(), account)
	if err != nil {
		fatalf("allowance: %v", err)
	}
	opNonce, err := c.EntryPointNonce(ctx, entryPoint, account)
	if err != nil {
		fatalf("getNonce: %v", err)
	}

	decimals := cfg.Token.Decimals
	if d, err := c.TokenDecimals(ctx); err == nil && int32(d) != decimals {
		fmt.Printf("warning:     TOKEN_DECIMALS=%d but token reports %d\n", decimals, d)
		decimals = int32(d)
	}

	fmt.Printf("owner:       %s\n", owner.Address().Hex())
	fmt.Printf("token:       %s\n", c.TokenAddress().Hex())
	fmt.Printf("balance:     %s\n", decimal.NewFromBigInt(bal, -decimals).String())
	fmt.Printf("nonce:       %s\n", nonce)
	fmt.Printf("account:     %s (deployed: %v)\n", account.Hex(), deployed)
	fmt.Printf("allowance:   %s\n", decimal.NewFromBigInt(allowance, -decimals).String())
	fmt.Printf("op nonce:    %s\n", opNonce)

	name, err := c.TokenName(ctx)
	if err != nil {
		fatalf("name: %v", err)
	}
	version := cfg.Token.Version
	if version == "" {
		version = permit.DomainVersion(name)
	}
	local := permit.DomainSeparator(permit.Domain{
		Name:              name,
		Version:           version,
		ChainID:           c.ChainID(),
		VerifyingContract: c.TokenAddress(),
	})
	onChain, err := c.DomainSeparator(ctx)
	if err != nil {
		fatalf("DOMAIN_SEPARATOR: %v", err)
	}
	if local != onChain {
		fmt.Printf("domain:      MISMATCH (name %q version %q)\n", name, version)
		os.Exit(1)
	}
	fmt.Printf("domain:      ok (name %q version %q)\n", name, version)
	if name != cfg.Token.Name {
		fmt.Printf("warning:     TOKEN_NAME=%q but token reports %q\n", cfg.Token.Name, name)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
