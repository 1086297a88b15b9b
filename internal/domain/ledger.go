package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerHeader is the fixed positional schema of the output ledger.
var LedgerHeader = []string{"date", "amount", "description", "currency", "category", "tags"}

// TagAmbiguousDuplicate marks rows whose order id appears with differing content.
const TagAmbiguousDuplicate = "ambiguous-duplicate"

// LedgerRow is the output representation of exactly one OrderRecord.
type LedgerRow struct {
	Date        string // formatted with the configured output layout
	Amount      string
	Description string
	Currency    string
	Category    string
	Tags        []string

	// Provenance, not emitted as columns.
	OrderID   string
	OrderDate time.Time
	Value     decimal.Decimal
	Merchant  string
	Ambiguous bool
}

// Columns projects the row onto the fixed schema. Optional fields are
// emitted empty, so the column count is always len(LedgerHeader).
func (r LedgerRow) Columns() []string {
	return []string{
		r.Date,
		r.Amount,
		r.Description,
		r.Currency,
		r.Category,
		strings.Join(r.Tags, ","),
	}
}

// Key identifies the row in external sinks. Ambiguous duplicates share an
// order id, so the key also covers the same content fields as
// OrderRecord.ContentHash.
func (r LedgerRow) Key() string {
	h := sha256.New()
	for _, part := range []string{r.OrderDate.Format(DateLayout), r.Value.String(), r.Currency, r.Description, r.Merchant} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return r.OrderID + "/" + hex.EncodeToString(h.Sum(nil))[:12]
}

// FormatAmount renders a with at least two decimals, keeping every
// significant fractional digit beyond that. Trailing zeros never matter, so
// -25.500 and -25.5 render the same.
func FormatAmount(a decimal.Decimal) string {
	places := int32(2)
	if s := a.String(); strings.Contains(s, ".") {
		if frac := int32(len(s) - strings.Index(s, ".") - 1); frac > places {
			places = frac
		}
	}
	return a.StringFixed(places)
}
