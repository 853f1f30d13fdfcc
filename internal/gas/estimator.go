// Package gas gives an advisory cost for a sponsored payout.
package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stablecoinxyz/sbc-masspay/internal/metrics"
	"github.com/stablecoinxyz/sbc-masspay/internal/userop"
)

var ErrEstimationFailed = errors.New("gas estimation failed")

// SponsorFeePercent is the paymaster markup applied on top of raw gas cost.
const SponsorFeePercent = 10

// Preparer returns a sponsored operation without sending it.
type Preparer interface {
	Prepare(ctx context.Context, calls userop.CallSet) (*userop.UserOperation, error)
}

// BaseFeeReader reads the latest block base fee.
type BaseFeeReader interface {
	BaseFee(ctx context.Context) (*big.Int, error)
}

// Estimate is a cost in wei plus display conversions.
type Estimate struct {
	Wei *big.Int
}

// Gwei returns the cost in gwei.
func (e Estimate) Gwei() decimal.Decimal {
	return decimal.NewFromBigInt(e.Wei, -9)
}

// Times scales the cost to n operations of the same shape.
func (e Estimate) Times(n int) Estimate {
	if e.Wei == nil {
		return Estimate{Wei: new(big.Int)}
	}
	return Estimate{Wei: new(big.Int).Mul(e.Wei, big.NewInt(int64(n)))}
}

// Eth returns the cost in ether.
func (e Estimate) Eth() decimal.Decimal {
	return decimal.NewFromBigInt(e.Wei, -18)
}

type Estimator struct {
	gateway Preparer
	chain   BaseFeeReader
	log     *zap.Logger
}

func NewEstimator(gateway Preparer, chain BaseFeeReader, log *zap.Logger) *Estimator {
	return &Estimator{gateway: gateway, chain: chain, log: log}
}

// Estimate prices calls as gasPrice * totalGas * (100+fee)/100, where
// gasPrice = min(maxFee, maxPriority + baseFee). On any failure it returns a
// zero cost together with ErrEstimationFailed.
func (e *Estimator) Estimate(ctx context.Context, calls userop.CallSet) (Estimate, error) {
	zero := Estimate{Wei: new(big.Int)}

	op, err := e.gateway.Prepare(ctx, calls)
	if err != nil {
		return zero, e.fail("prepare user operation", err)
	}
	baseFee, err := e.chain.BaseFee(ctx)
	if err != nil {
		return zero, e.fail("read base fee", err)
	}

	price := new(big.Int).Add(op.MaxPriorityFeePerGas.ToInt(), baseFee)
	if maxFee := op.MaxFeePerGas.ToInt(); maxFee.Cmp(price) < 0 {
		price.Set(maxFee)
	}

	cost := new(big.Int).Mul(op.TotalGas(), price)
	cost.Mul(cost, big.NewInt(100+SponsorFeePercent))
	cost.Div(cost, big.NewInt(100))

	e.log.Debug("gas estimated",
		zap.String("gas", op.TotalGas().String()),
		zap.String("price", price.String()),
		zap.String("cost_wei", cost.String()),
	)
	return Estimate{Wei: cost}, nil
}

func (e *Estimator) fail(step string, err error) error {
	metrics.EstimationFailuresTotal.Inc()
	e.log.Warn("gas estimation failed", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrEstimationFailed, step, err)
}
