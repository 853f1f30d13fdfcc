package recipient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ReadCSV parses an uploaded file whose first row is the header
// "address,amount". Column order follows the header.
func ReadCSV(r io.Reader, decimals int32) ([]Recipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidInput, err)
	}
	addrCol, amtCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "address":
			addrCol = i
		case "amount":
			amtCol = i
		}
	}
	if addrCol < 0 || amtCol < 0 {
		return nil, fmt.Errorf("%w: header must contain address,amount", ErrInvalidInput)
	}

	var out []Recipient
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidInput, row, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if addrCol >= len(rec) || amtCol >= len(rec) {
			return nil, fmt.Errorf("%w: row %d: missing column", ErrInvalidInput, row)
		}
		rcp, err := newRecipient(rec[addrCol], rec[amtCol], decimals)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidInput, row, err)
		}
		out = append(out, rcp)
		if len(out) > MaxRows {
			return nil, fmt.Errorf("%w: more than %d rows", ErrInvalidInput, MaxRows)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidInput)
	}
	if err := checkTotal(out, decimals); err != nil {
		return nil, err
	}
	return out, nil
}
