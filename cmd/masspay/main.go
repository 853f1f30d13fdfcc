package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stablecoinxyz/sbc-masspay/internal/api"
	"github.com/stablecoinxyz/sbc-masspay/internal/auth"
	"github.com/stablecoinxyz/sbc-masspay/internal/chain"
	"github.com/stablecoinxyz/sbc-masspay/internal/config"
	"github.com/stablecoinxyz/sbc-masspay/internal/execution"
	"github.com/stablecoinxyz/sbc-masspay/internal/gas"
	"github.com/stablecoinxyz/sbc-masspay/internal/gateway"
	"github.com/stablecoinxyz/sbc-masspay/internal/permit"
	"github.com/stablecoinxyz/sbc-masspay/internal/userop"
	"github.com/stablecoinxyz/sbc-masspay/internal/wallet"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Chain + owner wallet ──────────────────────────────────────────────────
	onchain, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID, common.HexToAddress(cfg.Token.Address))
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}
	defer onchain.Close()

	owner, err := wallet.NewKeySession(cfg.Wallet.OwnerPrivateKey)
	if err != nil {
		log.Fatal("owner key invalid", zap.Error(err))
	}

	// ── Bundler / paymaster ───────────────────────────────────────────────────
	gw, err := gateway.Dial(ctx, cfg.AA.BundlerURL, onchain, owner, gateway.Config{
		EntryPoint:          common.HexToAddress(cfg.AA.EntryPoint),
		AccountFactory:      common.HexToAddress(cfg.AA.AccountFactory),
		ChainID:             onchain.ChainID(),
		SponsorshipPolicyID: cfg.AA.SponsorshipPolicyID,
		PollInterval:        time.Duration(cfg.AA.ReceiptPollMS) * time.Millisecond,
	}, log)
	if err != nil {
		log.Fatal("bundler init failed", zap.Error(err))
	}
	defer gw.Close()

	// ── Permit authorizer ─────────────────────────────────────────────────────
	version := cfg.Token.Version
	if version == "" {
		version = permit.DomainVersion(cfg.Token.Name)
	}
	domain := permit.Domain{
		Name:              cfg.Token.Name,
		Version:           version,
		ChainID:           onchain.ChainID(),
		VerifyingContract: onchain.TokenAddress(),
	}
	checkDomain(ctx, onchain, domain, log)
	if err := checkDecimals(ctx, onchain, cfg.Token.Decimals); err != nil {
		log.Fatal("token decimals check failed", zap.Error(err))
	}
	authorizer := permit.NewAuthorizer(onchain, owner, domain, log)

	// ── Execution controller ──────────────────────────────────────────────────
	builder := userop.NewBuilder(onchain.TokenAddress(), owner.Address(), gw.Account(), cfg.Token.Decimals)
	store := execution.NewRedisStore(rdb, log)
	ctrl := execution.NewController(gw, authorizer, builder, store, execution.Options{
		BatchSize:    cfg.MassPay.BatchSize,
		CallTimeout:  time.Duration(cfg.MassPay.CallTimeoutSec) * time.Second,
		Decimals:     cfg.Token.Decimals,
		ChainID:      cfg.Chain.ChainID,
		ExplorerBase: cfg.Chain.ExplorerURL,
	}, log)

	logStaleRuns(ctx, store, owner.Address(), log)
	if err := ctrl.Recover(ctx); err != nil {
		log.Fatal("run recovery failed", zap.Error(err))
	}

	log.Info("masspay ready",
		zap.String("owner", owner.Address().Hex()),
		zap.String("account", gw.Account().Hex()),
		zap.String("token", onchain.TokenAddress().Hex()),
		zap.Int64("chain_id", cfg.Chain.ChainID),
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api", auth.Middleware(rdb), api.RequireOwner(owner.Address()))
	api.NewHandler(api.Deps{
		Runner:     ctrl,
		Estimator:  gas.NewEstimator(gw, onchain, log),
		Authorizer: authorizer,
		Builder:    builder,
		Balances:   onchain,
		Account:    gw.Account(),
		Decimals:   cfg.Token.Decimals,
		BatchSize:  cfg.MassPay.BatchSize,
	}, log).Register(apiGroup)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	// A run still in flight is closed as interrupted on the next start.
	if s := ctrl.State(); s.Phase() == execution.PhaseRunning {
		log.Warn("exiting with run in progress", zap.String("run", s.RunID), zap.Int("cursor", s.Cursor))
	}
	log.Info("shutdown complete")
}

// checkDomain compares the configured permit domain with the token's
// DOMAIN_SEPARATOR. A mismatch means every permit would be rejected on chain.
func checkDomain(ctx context.Context, onchain *chain.Client, d permit.Domain, log *zap.Logger) {
	onChain, err := onchain.DomainSeparator(ctx)
	if err != nil {
		log.Warn("read DOMAIN_SEPARATOR failed, skipping domain check", zap.Error(err))
		return
	}
	if local := permit.DomainSeparator(d); local != onChain {
		log.Fatal("permit domain mismatch, check TOKEN_NAME and TOKEN_VERSION",
			zap.String("name", d.Name),
			zap.String("version", d.Version),
			zap.String("local", common.Hash(local).Hex()),
			zap.String("onchain", common.Hash(onChain).Hex()),
		)
	}
}

type decimalsReader interface {
	TokenDecimals(ctx context.Context) (uint8, error)
}

// checkDecimals compares TOKEN_DECIMALS with the token's decimals(). A
// mismatch would scale the permit and every transfer by a power of ten.
func checkDecimals(ctx context.Context, token decimalsReader, want int32) error {
	got, err := token.TokenDecimals(ctx)
	if err != nil {
		return fmt.Errorf("read token decimals: %w", err)
	}
	if int32(got) != want {
		return fmt.Errorf("TOKEN_DECIMALS=%d but token reports %d", want, got)
	}
	return nil
}

// logStaleRuns reports runs left Running by other owners, e.g. after a key
// rotation. Only the configured owner's run is recovered.
func logStaleRuns(ctx context.Context, store *execution.RedisStore, owner common.Address, log *zap.Logger) {
	owners, err := store.ScanRunning(ctx)
	if err != nil {
		log.Warn("scan running runs failed", zap.Error(err))
		return
	}
	for _, o := range owners {
		if strings.EqualFold(o, owner.Hex()) {
			continue
		}
		log.Warn("run left running by another owner", zap.String("owner", o))
	}
}
