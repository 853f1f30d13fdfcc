// cmd/payout runs one payout file to completion from the command line and
// writes the receipt next to it.
//
// Chain, token, bundler and owner key come from the same environment as the
// server (RPC_URL, TOKEN_ADDRESS, BUNDLER_URL, OWNER_PRIVATE_KEY, ...).
//
// Usage:
//
//	go run ./cmd/payout/ \
//	  --file     payouts.csv \
//	  --estimate \
//	  --out      receipt.csv
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stablecoinxyz/sbc-masspay/internal/batch"
	"github.com/stablecoinxyz/sbc-masspay/internal/chain"
	"github.com/stablecoinxyz/sbc-masspay/internal/config"
	"github.com/stablecoinxyz/sbc-masspay/internal/execution"
	"github.com/stablecoinxyz/sbc-masspay/internal/gas"
	"github.com/stablecoinxyz/sbc-masspay/internal/gateway"
	"github.com/stablecoinxyz/sbc-masspay/internal/permit"
	"github.com/stablecoinxyz/sbc-masspay/internal/recipient"
	"github.com/stablecoinxyz/sbc-masspay/internal/userop"
	"github.com/stablecoinxyz/sbc-masspay/internal/wallet"
)

func main() {
	file := flag.String("file", "", "payout list: .csv with address,amount header, or \"address, amount\" lines (required)")
	out := flag.String("out", "", "receipt output path (default <file>.receipt.csv)")
	estimate := flag.Bool("estimate", false, "print a sponsored cost estimate before running")
	dryRun := flag.Bool("dry-run", false, "preview (and estimate) only, send nothing")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	useRedis := flag.Bool("redis", false, "persist run state in Redis (REDIS_ADDR) like the server")
	verbose := flag.Bool("v", false, "log gateway and controller activity")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "error: --file is required")
		flag.Usage()
		os.Exit(2)
	}
	if *out == "" {
		*out = strings.TrimSuffix(*file, ".csv") + ".receipt.csv"
	}

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		fatalf("config: %v", err)
	}

	recipients, err := readFile(*file, cfg.Token.Decimals)
	if err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	onchain, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID, common.HexToAddress(cfg.Token.Address))
	if err != nil {
		fatalf("dial rpc: %v", err)
	}
	defer onchain.Close()

	if d, err := onchain.TokenDecimals(ctx); err != nil {
		fatalf("read token decimals: %v", err)
	} else if int32(d) != cfg.Token.Decimals {
		fatalf("TOKEN_DECIMALS=%d but token reports %d", cfg.Token.Decimals, d)
	}

	owner, err := wallet.NewKeySession(cfg.Wallet.OwnerPrivateKey)
	if err != nil {
		fatalf("owner key: %v", err)
	}

	gw, err := gateway.Dial(ctx, cfg.AA.BundlerURL, onchain, owner, gateway.Config{
		EntryPoint:          common.HexToAddress(cfg.AA.EntryPoint),
		AccountFactory:      common.HexToAddress(cfg.AA.AccountFactory),
		ChainID:             onchain.ChainID(),
		SponsorshipPolicyID: cfg.AA.SponsorshipPolicyID,
		PollInterval:        time.Duration(cfg.AA.ReceiptPollMS) * time.Millisecond,
	}, log)
	if err != nil {
		fatalf("dial bundler: %v", err)
	}
	defer gw.Close()

	version := cfg.Token.Version
	if version == "" {
		version = permit.DomainVersion(cfg.Token.Name)
	}
	authorizer := permit.NewAuthorizer(onchain, owner, permit.Domain{
		Name:              cfg.Token.Name,
		Version:           version,
		ChainID:           onchain.ChainID(),
		VerifyingContract: onchain.TokenAddress(),
	}, log)
	builder := userop.NewBuilder(onchain.TokenAddress(), owner.Address(), gw.Account(), cfg.Token.Decimals)

	// ── Preview ───────────────────────────────────────────────────────────────
	batches := batch.Plan(recipients, cfg.MassPay.BatchSize)
	fmt.Printf("owner:      %s\n", owner.Address().Hex())
	fmt.Printf("account:    %s\n", gw.Account().Hex())
	fmt.Printf("recipients: %d in %d batches\n", len(recipients), len(batches))
	fmt.Printf("total:      %s\n", recipient.DisplayTotal(recipients))
	if bal, err := onchain.TokenBalance(ctx, owner.Address()); err == nil {
		fmt.Printf("balance:    %s (base units)\n", bal)
		if bal.Cmp(recipient.TotalBaseUnits(recipients, cfg.Token.Decimals)) < 0 {
			fmt.Println("warning:    balance is below the payout total")
		}
	}

	if *estimate || *dryRun {
		est, err := estimateCost(ctx, authorizer, builder, gas.NewEstimator(gw, onchain, log), gw.Account(), batches, cfg.Token.Decimals)
		if err != nil {
			fmt.Printf("estimate:   unavailable (%v)\n", err)
		} else {
			fmt.Printf("estimate:   %s ETH (%s gwei) over %d operations, sponsored\n", est.Eth(), est.Gwei(), len(batches))
		}
	}
	if *dryRun {
		return
	}
	if !*yes && !confirm("send payout?") {
		fmt.Println("aborted")
		return
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	var store execution.Store = discardStore{}
	if *useRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		if err := rdb.Ping(ctx).Err(); err != nil {
			fatalf("redis ping: %v", err)
		}
		store = execution.NewRedisStore(rdb, log)
	}
	ctrl := execution.NewController(gw, authorizer, builder, store, execution.Options{
		BatchSize:    cfg.MassPay.BatchSize,
		CallTimeout:  time.Duration(cfg.MassPay.CallTimeoutSec) * time.Second,
		Decimals:     cfg.Token.Decimals,
		ChainID:      cfg.Chain.ChainID,
		ExplorerBase: cfg.Chain.ExplorerURL,
	}, log)
	if err := ctrl.Recover(ctx); err != nil {
		fatalf("recover run state: %v", err)
	}

	if _, err := ctrl.Submit(ctx, recipients); err != nil {
		fatalf("submit: %v", err)
	}
	s := waitWithProgress(ctx, ctrl)
	if s.Phase() != execution.PhaseDone {
		fatalf("interrupted at batch %d of %d, check the explorer before resending", s.Cursor+1, len(s.Batches))
	}

	for _, b := range s.Batches {
		line := fmt.Sprintf("  %-9s %-14s %d recipients", b.Status, b.DisplayHash(), len(b.Recipients))
		if b.Error != "" {
			line += "  " + b.Error
		}
		fmt.Println(line)
	}
	if err := os.WriteFile(*out, []byte(s.Receipt), 0o644); err != nil {
		fatalf("write receipt: %v", err)
	}
	counts := s.Counts()
	fmt.Printf("done: %d complete, %d failed, receipt %s\n", counts[batch.StatusComplete], counts[batch.StatusFailed], *out)
	if counts[batch.StatusFailed] > 0 {
		os.Exit(1)
	}
}

func readFile(path string, decimals int32) ([]recipient.Recipient, error) {
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open payout file: %w", err)
		}
		defer f.Close()
		return recipient.ReadCSV(f, decimals)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payout file: %w", err)
	}
	return recipient.Parse(string(raw), decimals)
}

// estimateCost prices batch 0 with the permit and scales by the batch count.
func estimateCost(ctx context.Context, a *permit.Authorizer, b *userop.Builder, e *gas.Estimator,
	account common.Address, batches []batch.TransferBatch, decimals int32) (gas.Estimate, error) {
	pa, err := a.Authorize(ctx, account, recipient.TotalBaseUnits(batch.Flatten(batches), decimals))
	if err != nil {
		return gas.Estimate{}, err
	}
	calls, err := b.Build(batches[0], pa)
	if err != nil {
		return gas.Estimate{}, err
	}
	per, err := e.Estimate(ctx, calls)
	if err != nil {
		return gas.Estimate{}, err
	}
	return per.Times(len(batches)), nil
}

// waitWithProgress prints each batch as its outcome lands.
func waitWithProgress(ctx context.Context, ctrl *execution.Controller) execution.State {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	reported := 0
	for {
		s := ctrl.State()
		for ; reported < len(s.Batches) && s.Batches[reported].Status.IsFinal(); reported++ {
			fmt.Printf("batch %d/%d: %s %s\n", reported+1, len(s.Batches), s.Batches[reported].Status, s.Batches[reported].ExplorerURL)
		}
		if s.Phase() != execution.PhaseRunning {
			return s
		}
		select {
		case <-ctx.Done():
			return ctrl.State()
		case <-ticker.C:
		}
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// discardStore keeps nothing; a one-shot run needs no crash recovery.
type discardStore struct{}

func (discardStore) Load(context.Context, string) (execution.State, error) {
	return execution.NewState(), nil
}

func (discardStore) Save(context.Context, string, execution.State) error { return nil }

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
