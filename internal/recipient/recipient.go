// Package recipient parses and validates the payout list.
package recipient

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

// ErrInvalidInput rejects the whole payout list. Nothing is planned from it.
var ErrInvalidInput = errors.New("invalid input")

// MaxRows caps the number of recipients accepted from one upload.
const MaxRows = 1000

// DisplayPlaces is the precision used when showing totals to the user.
const DisplayPlaces = 6

// maxUintDigits is the number of decimal digits in 2^256-1.
const maxUintDigits = 78

// Recipient is one validated payout.
type Recipient struct {
	Address common.Address  `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// BaseUnits converts the amount to the token's smallest unit.
// Parse guarantees the amount has no more than decimals fractional digits.
func (r Recipient) BaseUnits(decimals int32) *big.Int {
	return r.Amount.Shift(decimals).BigInt()
}

// Parse turns "address, amount" lines into recipients. Blank lines are skipped;
// any other malformed line rejects the whole input.
func Parse(text string, decimals int32) ([]Recipient, error) {
	var out []Recipient
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r, err := parseLine(line, decimals)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidInput, i+1, err)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidInput)
	}
	if len(out) > MaxRows {
		return nil, fmt.Errorf("%w: %d recipients exceeds limit of %d", ErrInvalidInput, len(out), MaxRows)
	}
	if err := checkTotal(out, decimals); err != nil {
		return nil, err
	}
	return out, nil
}

// checkTotal rejects lists whose permit value would not fit in a uint256.
func checkTotal(rs []Recipient, decimals int32) error {
	if TotalBaseUnits(rs, decimals).Cmp(math.MaxBig256) > 0 {
		return fmt.Errorf("%w: total exceeds uint256 in base units", ErrInvalidInput)
	}
	return nil
}

func parseLine(line string, decimals int32) (Recipient, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 2 {
		return Recipient{}, fmt.Errorf("expected \"address, amount\", got %d fields", len(fields))
	}
	return newRecipient(fields[0], fields[1], decimals)
}

func newRecipient(rawAddr, rawAmount string, decimals int32) (Recipient, error) {
	addr, err := ParseAddress(strings.TrimSpace(rawAddr))
	if err != nil {
		return Recipient{}, err
	}
	amount, err := ParseAmount(strings.TrimSpace(rawAmount), decimals)
	if err != nil {
		return Recipient{}, err
	}
	return Recipient{Address: addr, Amount: amount}, nil
}

// ParseAddress accepts a 0x-prefixed 20-byte hex address. Mixed-case input
// must match its EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, fmt.Errorf("address %q: missing 0x prefix", s)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("address %q: not a 20-byte hex address", s)
	}
	addr := common.HexToAddress(s)
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex()[2:] != body {
		return common.Address{}, fmt.Errorf("address %q: bad checksum", s)
	}
	return addr, nil
}

// ParseAmount accepts a positive decimal with at most decimals fractional
// digits whose base-unit value fits in a uint256.
func ParseAmount(s string, decimals int32) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, errors.New("missing amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount %q: not a number", s)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("amount %q: must be greater than zero", s)
	}
	// Bound the exponent before any rescaling so "1e20000000" fails fast.
	exp := int64(d.Exponent())
	if exp < -int64(decimals) && -exp > int64(decimals)+maxUintDigits {
		return decimal.Decimal{}, fmt.Errorf("amount %q: more than %d decimal places", s, decimals)
	}
	if int64(d.NumDigits())+exp+int64(decimals) > maxUintDigits {
		return decimal.Decimal{}, fmt.Errorf("amount %q: exceeds uint256 in base units", s)
	}
	if !d.Equal(d.Truncate(decimals)) {
		return decimal.Decimal{}, fmt.Errorf("amount %q: more than %d decimal places", s, decimals)
	}
	if d.Shift(decimals).BigInt().Cmp(math.MaxBig256) > 0 {
		return decimal.Decimal{}, fmt.Errorf("amount %q: exceeds uint256 in base units", s)
	}
	return d, nil
}

// Total sums the amounts. Addition is exact, so the result does not depend on
// how recipients are grouped.
func Total(rs []Recipient) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range rs {
		sum = sum.Add(r.Amount)
	}
	return sum
}

// TotalBaseUnits is the permit value covering every recipient.
func TotalBaseUnits(rs []Recipient, decimals int32) *big.Int {
	sum := new(big.Int)
	for _, r := range rs {
		sum.Add(sum, r.BaseUnits(decimals))
	}
	return sum
}

// DisplayTotal formats the total rounded to six decimal places.
func DisplayTotal(rs []Recipient) string {
	return Total(rs).StringFixed(DisplayPlaces)
}
