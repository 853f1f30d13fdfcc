// Package receipt renders finished payout runs as CSV and links
// transactions to a block explorer.
package receipt

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/stablecoinxyz/sbc-masspay/internal/batch"
)

// Header is the first row of every receipt.
var Header = []string{"txHash", "address to", "value", "status", "url"}

// Export writes one row per recipient, repeating the batch's hash, status
// and explorer URL on each row.
func Export(batches []batch.TransferBatch) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return "", fmt.Errorf("write receipt header: %w", err)
	}
	for _, b := range batches {
		for _, r := range b.Recipients {
			row := []string{b.TxHash, r.Address.Hex(), r.Amount.String(), b.Status.String(), b.ExplorerURL}
			if err := w.Write(row); err != nil {
				return "", fmt.Errorf("write receipt row: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush receipt: %w", err)
	}
	return buf.String(), nil
}

var explorers = map[int64]string{
	1:        "https://etherscan.io",
	11155111: "https://sepolia.etherscan.io",
	8453:     "https://basescan.org",
	84532:    "https://sepolia.basescan.org",
}

// ExplorerURL links txHash on the chain's explorer. Unknown chains use
// fallback as the explorer base. An empty hash yields an empty URL.
func ExplorerURL(chainID int64, fallback, txHash string) string {
	if txHash == "" {
		return ""
	}
	base, ok := explorers[chainID]
	if !ok {
		base = fallback
	}
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/tx/" + txHash
}
