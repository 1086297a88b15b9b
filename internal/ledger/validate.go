package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/order-ledger/internal/domain"
)

// DefaultFilename names a ledger written at now.
func DefaultFilename(now time.Time) string {
	return "orders_" + now.Format("20060102_150405") + ".csv"
}

// ErrEmptyLedger is returned by Validate for a file with a header but no rows.
var ErrEmptyLedger = errors.New("ledger has no rows")

// Validate re-reads a written ledger and checks it can be imported: the
// header matches, every row has every column, dates parse with dateLayout and
// amounts are plain decimals.
func Validate(path, dateLayout string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("Validate: %w", err)
	}
	defer f.Close()
	return ValidateReader(f, dateLayout)
}

// ValidateReader is Validate over an already open ledger. It returns the
// number of data rows.
func ValidateReader(r io.Reader, dateLayout string) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(domain.LedgerHeader)

	header, err := cr.Read()
	if err == io.EOF {
		return 0, fmt.Errorf("Validate: missing header")
	}
	if err != nil {
		return 0, fmt.Errorf("Validate: header: %w", err)
	}
	for i, col := range domain.LedgerHeader {
		if header[i] != col {
			return 0, fmt.Errorf("Validate: column %d is %q, want %q", i+1, header[i], col)
		}
	}

	n := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("Validate: %w", err)
		}
		n++
		if _, err := time.Parse(dateLayout, rec[0]); err != nil {
			return n, fmt.Errorf("Validate: row %d: invalid date %q", n, rec[0])
		}
		if _, err := decimal.NewFromString(rec[1]); err != nil {
			return n, fmt.Errorf("Validate: row %d: invalid amount %q", n, rec[1])
		}
		if rec[2] == "" {
			return n, fmt.Errorf("Validate: row %d: empty description", n)
		}
	}
	if n == 0 {
		return 0, ErrEmptyLedger
	}
	return n, nil
}
