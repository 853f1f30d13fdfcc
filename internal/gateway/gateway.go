// Package gateway submits sponsored user operations to a bundler and
// paymaster and waits for their inclusion.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/stablecoinxyz/sbc-masspay/internal/userop"
)

var (
	// ErrBatchSubmissionFailed means the bundler, paymaster or chain rejected
	// the operation, or it reverted on chain.
	ErrBatchSubmissionFailed = errors.New("batch submission failed")
	// ErrGatewayUnavailable means the gateway could not be reached or timed out.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
)

// ExecutionGateway turns a call set into one sponsored user operation.
type ExecutionGateway interface {
	// Account returns the smart account the operations are sent from.
	Account() common.Address
	// Prepare returns the sponsored, unsigned operation without sending it.
	Prepare(ctx context.Context, calls userop.CallSet) (*userop.UserOperation, error)
	// Submit signs and sends the operation, then blocks until it is included
	// and returns the transaction hash.
	Submit(ctx context.Context, calls userop.CallSet) (common.Hash, error)
}

// classify maps a JSON-RPC failure onto the gateway sentinels. Errors
// returned by the remote node are rejections; anything else is transport.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %s: %v", ErrBatchSubmissionFailed, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, op, err)
}
