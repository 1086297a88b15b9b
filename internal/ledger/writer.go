// Package ledger serializes ledger rows as a Firefly III style CSV import
// file.
package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/fsutil"
)

// Encode writes the header and one record per row, in the order supplied.
func Encode(w io.Writer, rows []domain.LedgerRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(domain.LedgerHeader); err != nil {
		return fmt.Errorf("Encode: header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row.Columns()); err != nil {
			return fmt.Errorf("Encode: order %s: %w", row.OrderID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("Encode: flush: %w", err)
	}
	return nil
}

// Write replaces destination with the encoded ledger. The destination is
// either fully replaced or left as it was; failures are *domain.WriteError.
func Write(rows []domain.LedgerRow, destination string) error {
	var buf bytes.Buffer
	if err := Encode(&buf, rows); err != nil {
		return &domain.WriteError{Path: destination, Err: err}
	}

	dir := filepath.Dir(destination)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.WriteError{Path: destination, Err: err}
	}
	pattern := ".tmp-" + filepath.Base(destination) + "-*"
	if err := fsutil.WriteFileAtomic(destination, pattern, buf.Bytes()); err != nil {
		return &domain.WriteError{Path: destination, Err: err}
	}
	return nil
}
