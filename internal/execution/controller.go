package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stablecoinxyz/sbc-masspay/internal/batch"
	"github.com/stablecoinxyz/sbc-masspay/internal/gateway"
	"github.com/stablecoinxyz/sbc-masspay/internal/metrics"
	"github.com/stablecoinxyz/sbc-masspay/internal/permit"
	"github.com/stablecoinxyz/sbc-masspay/internal/receipt"
	"github.com/stablecoinxyz/sbc-masspay/internal/recipient"
	"github.com/stablecoinxyz/sbc-masspay/internal/userop"
)

// Authorizer signs the single permit that funds a run.
type Authorizer interface {
	Owner() common.Address
	Authorize(ctx context.Context, spender common.Address, value *big.Int) (*permit.Authorization, error)
}

// CallBuilder encodes one batch, with the permit when auth is non-nil.
type CallBuilder interface {
	Build(tb batch.TransferBatch, auth *permit.Authorization) (userop.CallSet, error)
}

// Options tune a Controller.
type Options struct {
	BatchSize    int
	CallTimeout  time.Duration
	Decimals     int32
	ChainID      int64
	ExplorerBase string
}

// Controller owns one owner's run state and executes batches sequentially.
type Controller struct {
	gateway gateway.ExecutionGateway
	auth    Authorizer
	builder CallBuilder
	store   Store
	opts    Options
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	state    State
	starting bool
	done     chan struct{}
}

func NewController(gw gateway.ExecutionGateway, auth Authorizer, builder CallBuilder, store Store, opts Options, log *zap.Logger) *Controller {
	if opts.BatchSize <= 0 {
		opts.BatchSize = batch.DefaultSize
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 120 * time.Second
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		gateway: gw,
		auth:    auth,
		builder: builder,
		store:   store,
		opts:    opts,
		log:     log,
		now:     time.Now,
		state:   NewState(),
		done:    done,
	}
}

func (c *Controller) owner() string { return c.auth.Owner().Hex() }

// State returns a snapshot of the current run.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Recover loads the persisted run. A run left Running by a previous process
// is closed with Interrupted: the in-flight batch may or may not have landed,
// so it is never resubmitted.
func (c *Controller) Recover(ctx context.Context) error {
	s, err := c.store.Load(ctx, c.owner())
	if err != nil {
		return err
	}
	if s.Phase() == PhaseRunning {
		c.log.Warn("interrupted run found, closing it",
			zap.String("run", s.RunID),
			zap.Int("cursor", s.Cursor),
			zap.Int("batches", len(s.Batches)),
		)
		if s, err = Transition(s, Interrupted{At: c.now()}); err != nil {
			return err
		}
		if err := c.store.Save(ctx, c.owner(), s); err != nil {
			return err
		}
		for i := range s.Batches {
			if s.Batches[i].Error == InterruptedReason {
				metrics.BatchOutcomesTotal.WithLabelValues("interrupted").Inc()
			}
		}
	}
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	return nil
}

// Submit plans recipients, authorizes the total and starts the run in the
// background. It returns the Running snapshot. Authorization failure leaves
// the previous state untouched.
func (c *Controller) Submit(ctx context.Context, recipients []recipient.Recipient) (State, error) {
	if len(recipients) == 0 {
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return State{}, fmt.Errorf("%w: no recipients", recipient.ErrInvalidInput)
	}

	c.mu.Lock()
	if c.starting || c.state.Phase() == PhaseRunning {
		c.mu.Unlock()
		metrics.SubmissionsTotal.WithLabelValues("busy").Inc()
		return State{}, ErrRunInProgress
	}
	c.starting = true
	c.mu.Unlock()

	started := false
	defer func() {
		if !started {
			c.mu.Lock()
			c.starting = false
			c.mu.Unlock()
		}
	}()

	batches := batch.Plan(recipients, c.opts.BatchSize)
	total := recipient.TotalBaseUnits(recipients, c.opts.Decimals)

	auth, err := c.auth.Authorize(ctx, c.gateway.Account(), total)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("unauthorized").Inc()
		return State{}, err
	}

	ev := Started{
		RunID:   uuid.NewString(),
		Owner:   c.owner(),
		Batches: batches,
		At:      c.now(),
	}

	c.mu.Lock()
	next, err := Transition(c.state, ev)
	if err != nil {
		c.mu.Unlock()
		return State{}, err
	}
	c.state = next
	c.starting = false
	c.done = make(chan struct{})
	done := c.done
	snapshot := c.state.Clone()
	c.mu.Unlock()
	started = true

	c.persist(ctx, snapshot)
	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	c.log.Info("payout run started",
		zap.String("run", ev.RunID),
		zap.Int("recipients", len(recipients)),
		zap.Int("batches", len(batches)),
		zap.String("total", total.String()),
	)

	go c.run(context.WithoutCancel(ctx), auth, done)
	return snapshot, nil
}

// Run submits and blocks until the run is Done.
func (c *Controller) Run(ctx context.Context, recipients []recipient.Recipient) (State, error) {
	if _, err := c.Submit(ctx, recipients); err != nil {
		return State{}, err
	}
	return c.Wait(ctx)
}

// Wait blocks until the current run finishes or ctx ends.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	select {
	case <-done:
		return c.State(), nil
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// run drives the cursor to Done. Every batch gets exactly one outcome and
// the cursor advances whether it succeeded or not.
func (c *Controller) run(ctx context.Context, auth *permit.Authorization, done chan struct{}) {
	defer close(done)

	for {
		c.mu.Lock()
		s := c.state
		if s.Phase() != PhaseRunning {
			c.mu.Unlock()
			break
		}
		i := s.Cursor
		tb := s.Batches[i]
		c.mu.Unlock()

		if err := c.apply(ctx, Dispatched{Index: i}); err != nil {
			c.log.Error("dispatch rejected", zap.Int("batch", i), zap.Error(err))
			return
		}

		var a *permit.Authorization
		if i == 0 {
			a = auth
		}
		txHash, err := c.execute(ctx, tb, a)

		out := Outcome{Index: i, Err: err, At: c.now()}
		if txHash != (common.Hash{}) {
			out.TxHash = txHash.Hex()
			if err == nil {
				out.ExplorerURL = receipt.ExplorerURL(c.opts.ChainID, c.opts.ExplorerBase, out.TxHash)
			}
		}
		if err != nil {
			c.log.Warn("batch failed",
				zap.String("run", s.RunID),
				zap.Int("batch", i),
				zap.String("batch_id", tb.ID),
				zap.Error(err),
			)
			metrics.BatchOutcomesTotal.WithLabelValues(batch.StatusFailed.String()).Inc()
		} else {
			c.log.Info("batch complete",
				zap.String("run", s.RunID),
				zap.Int("batch", i),
				zap.String("tx", out.TxHash),
			)
			metrics.BatchOutcomesTotal.WithLabelValues(batch.StatusComplete.String()).Inc()
			metrics.RecipientsPaidTotal.Add(float64(len(tb.Recipients)))
		}
		if err := c.apply(ctx, out); err != nil {
			c.log.Error("outcome rejected", zap.Int("batch", i), zap.Error(err))
			return
		}
	}

	final := c.State()
	metrics.RunDuration.Observe(final.FinishedAt.Sub(final.StartedAt).Seconds())
	counts := final.Counts()
	c.log.Info("payout run done",
		zap.String("run", final.RunID),
		zap.Int("complete", counts[batch.StatusComplete]),
		zap.Int("failed", counts[batch.StatusFailed]),
	)
}

// execute builds and submits one batch under the per-call timeout.
func (c *Controller) execute(ctx context.Context, tb batch.TransferBatch, auth *permit.Authorization) (common.Hash, error) {
	calls, err := c.builder.Build(tb, auth)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", gateway.ErrBatchSubmissionFailed, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	hash, err := c.gateway.Submit(callCtx, calls)
	if err != nil && !errors.Is(err, gateway.ErrBatchSubmissionFailed) && !errors.Is(err, gateway.ErrGatewayUnavailable) {
		err = fmt.Errorf("%w: %v", gateway.ErrBatchSubmissionFailed, err)
	}
	return hash, err
}

func (c *Controller) apply(ctx context.Context, ev Event) error {
	c.mu.Lock()
	next, err := Transition(c.state, ev)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	snapshot := next.Clone()
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	return nil
}

// persist saves s. A storage failure is logged and the run continues: the
// in-memory state stays authoritative for this process.
func (c *Controller) persist(ctx context.Context, s State) {
	if err := c.store.Save(ctx, c.owner(), s); err != nil {
		c.log.Error("persist run state", zap.String("run", s.RunID), zap.Error(err))
	}
}
