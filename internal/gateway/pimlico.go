package gateway

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/stablecoinxyz/sbc-masspay/internal/metrics"
	"github.com/stablecoinxyz/sbc-masspay/internal/userop"
)

// AccountReader resolves the smart account and its EntryPoint state on chain.
type AccountReader interface {
	SenderAddress(ctx context.Context, factory, owner common.Address, salt *big.Int) (common.Address, error)
	EntryPointNonce(ctx context.Context, entryPoint, sender common.Address) (*big.Int, error)
	IsDeployed(ctx context.Context, addr common.Address) (bool, error)
}

// MessageSigner signs user operation hashes as the account owner.
type MessageSigner interface {
	Address() common.Address
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// Config is the bundler/paymaster setup for one chain.
type Config struct {
	EntryPoint          common.Address
	AccountFactory      common.Address
	ChainID             *big.Int
	SponsorshipPolicyID string
	PollInterval        time.Duration
}

// Pimlico talks to a Pimlico-compatible bundler + verifying paymaster.
type Pimlico struct {
	rpc     *rpc.Client
	chain   AccountReader
	signer  MessageSigner
	cfg     Config
	account common.Address
	salt    *big.Int
	log     *zap.Logger
}

// Dial connects to the bundler at url and resolves the owner's smart account.
func Dial(ctx context.Context, url string, chain AccountReader, signer MessageSigner, cfg Config, log *zap.Logger) (*Pimlico, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial bundler: %w", err)
	}
	p, err := NewPimlico(ctx, client, chain, signer, cfg, log)
	if err != nil {
		client.Close()
		return nil, err
	}
	return p, nil
}

func NewPimlico(ctx context.Context, client *rpc.Client, chain AccountReader, signer MessageSigner, cfg Config, log *zap.Logger) (*Pimlico, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	salt := new(big.Int)
	account, err := chain.SenderAddress(ctx, cfg.AccountFactory, signer.Address(), salt)
	if err != nil {
		return nil, fmt.Errorf("resolve smart account: %w", err)
	}
	log.Info("smart account resolved",
		zap.String("owner", signer.Address().Hex()),
		zap.String("account", account.Hex()),
	)
	return &Pimlico{
		rpc:     client,
		chain:   chain,
		signer:  signer,
		cfg:     cfg,
		account: account,
		salt:    salt,
		log:     log,
	}, nil
}

// Close releases the bundler connection.
func (p *Pimlico) Close() { p.rpc.Close() }

func (p *Pimlico) Account() common.Address { return p.account }

// Prepare builds the operation, fetches fast gas prices and asks the
// paymaster to sponsor it. The result carries the dummy signature.
func (p *Pimlico) Prepare(ctx context.Context, calls userop.CallSet) (*userop.UserOperation, error) {
	callData, err := userop.EncodeExecuteBatch(calls)
	if err != nil {
		return nil, err
	}
	nonce, err := p.chain.EntryPointNonce(ctx, p.cfg.EntryPoint, p.account)
	if err != nil {
		return nil, fmt.Errorf("%w: read account nonce: %v", ErrGatewayUnavailable, err)
	}
	op := userop.New(p.account, nonce, callData)

	deployed, err := p.chain.IsDeployed(ctx, p.account)
	if err != nil {
		return nil, fmt.Errorf("%w: check account code: %v", ErrGatewayUnavailable, err)
	}
	if !deployed {
		if err := op.WithFactory(p.cfg.AccountFactory, p.signer.Address(), p.salt); err != nil {
			return nil, err
		}
	}

	prices, err := p.gasPrice(ctx)
	if err != nil {
		return nil, err
	}
	op.MaxFeePerGas = prices.Fast.MaxFeePerGas
	op.MaxPriorityFeePerGas = prices.Fast.MaxPriorityFeePerGas

	if err := p.sponsor(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Submit prepares, signs and sends the operation, then polls for its receipt.
func (p *Pimlico) Submit(ctx context.Context, calls userop.CallSet) (common.Hash, error) {
	op, err := p.Prepare(ctx, calls)
	if err != nil {
		return common.Hash{}, err
	}
	opHash, err := op.Hash(p.cfg.EntryPoint, p.cfg.ChainID)
	if err != nil {
		return common.Hash{}, err
	}
	sig, err := p.signer.SignMessage(ctx, opHash.Bytes())
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: sign user operation: %v", ErrBatchSubmissionFailed, err)
	}
	op.Signature = sig

	var sent common.Hash
	if err := p.call(ctx, &sent, "eth_sendUserOperation", op, p.cfg.EntryPoint); err != nil {
		return common.Hash{}, err
	}
	p.log.Info("user operation sent",
		zap.String("user_op", sent.Hex()),
		zap.Int("calls", len(calls)),
	)
	return p.waitForReceipt(ctx, sent)
}

type feeTier struct {
	MaxFeePerGas         *hexutil.Big `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big `json:"maxPriorityFeePerGas"`
}

type gasPrices struct {
	Slow     feeTier `json:"slow"`
	Standard feeTier `json:"standard"`
	Fast     feeTier `json:"fast"`
}

func (p *Pimlico) gasPrice(ctx context.Context) (*gasPrices, error) {
	var prices gasPrices
	if err := p.call(ctx, &prices, "pimlico_getUserOperationGasPrice"); err != nil {
		return nil, err
	}
	if prices.Fast.MaxFeePerGas == nil || prices.Fast.MaxPriorityFeePerGas == nil {
		return nil, fmt.Errorf("%w: gas price response missing fast tier", ErrBatchSubmissionFailed)
	}
	return &prices, nil
}

type sponsorResult struct {
	Paymaster                     *common.Address `json:"paymaster"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
}

func (p *Pimlico) sponsor(ctx context.Context, op *userop.UserOperation) error {
	args := []interface{}{op, p.cfg.EntryPoint}
	if p.cfg.SponsorshipPolicyID != "" {
		args = append(args, map[string]string{"sponsorshipPolicyId": p.cfg.SponsorshipPolicyID})
	}
	var res sponsorResult
	if err := p.call(ctx, &res, "pm_sponsorUserOperation", args...); err != nil {
		return err
	}
	if res.Paymaster == nil || res.CallGasLimit == nil || res.VerificationGasLimit == nil || res.PreVerificationGas == nil {
		return fmt.Errorf("%w: incomplete sponsorship response", ErrBatchSubmissionFailed)
	}
	op.Paymaster = res.Paymaster
	op.PaymasterData = res.PaymasterData
	op.PaymasterVerificationGasLimit = res.PaymasterVerificationGasLimit
	op.PaymasterPostOpGasLimit = res.PaymasterPostOpGasLimit
	op.PreVerificationGas = res.PreVerificationGas
	op.VerificationGasLimit = res.VerificationGasLimit
	op.CallGasLimit = res.CallGasLimit
	return nil
}

type opReceipt struct {
	UserOpHash common.Hash `json:"userOpHash"`
	Success    bool        `json:"success"`
	Reason     string      `json:"reason"`
	Receipt    struct {
		TransactionHash common.Hash `json:"transactionHash"`
	} `json:"receipt"`
}

// waitForReceipt polls until the bundler reports the operation included or
// ctx expires.
func (p *Pimlico) waitForReceipt(ctx context.Context, opHash common.Hash) (common.Hash, error) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		var rcpt *opReceipt
		if err := p.call(ctx, &rcpt, "eth_getUserOperationReceipt", opHash); err != nil {
			return common.Hash{}, err
		}
		if rcpt != nil {
			txHash := rcpt.Receipt.TransactionHash
			if !rcpt.Success {
				return txHash, fmt.Errorf("%w: user operation %s reverted in tx %s: %s",
					ErrBatchSubmissionFailed, opHash.Hex(), txHash.Hex(), rcpt.Reason)
			}
			return txHash, nil
		}
		select {
		case <-ctx.Done():
			return common.Hash{}, fmt.Errorf("%w: waiting for user operation %s: %v", ErrGatewayUnavailable, opHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Pimlico) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	start := time.Now()
	err := p.rpc.CallContext(ctx, result, method, args...)
	metrics.ObserveGatewayCall(method, start, err)
	if err != nil {
		p.log.Warn("gateway call failed", zap.String("method", method), zap.Error(err))
	}
	return classify(method, err)
}
