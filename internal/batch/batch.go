package batch

import (
	"github.com/google/uuid"

	"github.com/stablecoinxyz/sbc-masspay/internal/recipient"
)

// DefaultSize keeps one sponsored executeBatch within bundler gas and size limits.
const DefaultSize = 6

// Status is the execution state of one batch.
type Status string

const (
	StatusNotStarted Status = "NotStarted"
	StatusPending    Status = "Pending"
	StatusComplete   Status = "Complete"
	StatusFailed     Status = "Failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusPending, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// IsFinal reports whether the batch has an outcome recorded.
func (s Status) IsFinal() bool {
	return s == StatusComplete || s == StatusFailed
}

// TransferBatch is a group of recipients paid by one sponsored user operation.
type TransferBatch struct {
	ID          string                `json:"id"`
	Recipients  []recipient.Recipient `json:"recipients"`
	Status      Status                `json:"status"`
	TxHash      string                `json:"tx_hash,omitempty"`
	ExplorerURL string                `json:"explorer_url,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// DisplayHash shortens the transaction hash for display, e.g. 0x1234…cdef.
func (b TransferBatch) DisplayHash() string {
	if len(b.TxHash) <= 12 {
		return b.TxHash
	}
	return b.TxHash[:6] + "…" + b.TxHash[len(b.TxHash)-4:]
}

// Plan splits recipients into contiguous batches of at most size entries.
// A non-positive size falls back to DefaultSize.
func Plan(recipients []recipient.Recipient, size int) []TransferBatch {
	if size <= 0 {
		size = DefaultSize
	}
	batches := make([]TransferBatch, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := min(start+size, len(recipients))
		group := make([]recipient.Recipient, end-start)
		copy(group, recipients[start:end])
		batches = append(batches, TransferBatch{
			ID:         uuid.NewString(),
			Recipients: group,
			Status:     StatusNotStarted,
		})
	}
	return batches
}

// Flatten returns every recipient in batch order.
func Flatten(batches []TransferBatch) []recipient.Recipient {
	var out []recipient.Recipient
	for _, b := range batches {
		out = append(out, b.Recipients...)
	}
	return out
}
