package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical on-disk date format for order dates.
const DateLayout = "2006-01-02"

// SourcePage identifies the page a record was extracted from.
// It is provenance only and never part of record equality.
type SourcePage struct {
	Year int `json:"year"`
	Page int `json:"page"`
}

func (p SourcePage) String() string {
	return fmt.Sprintf("%d/p%d", p.Year, p.Page)
}

// OrderRecord is one validated transaction extracted from a source page.
type OrderRecord struct {
	OrderID     string          // opaque merchant identifier
	OrderDate   time.Time       // calendar date, UTC midnight
	Amount      decimal.Decimal // expenditures are negative
	Currency    string          // ISO 4217, may be empty for records built outside the Record Model
	Description string          // normalized, non-empty
	Merchant    string
	Source      SourcePage
}

// ContentHash returns a stable digest over the business fields of the record.
// The order id and provenance are excluded so that two captures of the same
// order on different pages hash identically.
func (r *OrderRecord) ContentHash() string {
	return r.contentHash(r.Currency)
}

// ContentHashWithDefault hashes as if an empty currency were defaultCurrency.
func (r *OrderRecord) ContentHashWithDefault(defaultCurrency string) string {
	cur := r.Currency
	if cur == "" {
		cur = defaultCurrency
	}
	return r.contentHash(cur)
}

func (r *OrderRecord) contentHash(currency string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s\x1f%s",
		r.OrderDate.Format(DateLayout),
		r.Amount.String(),
		currency,
		r.Description,
		r.Merchant,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// Key identifies a record by id and content. Two records with the same key
// are exact duplicates.
func (r *OrderRecord) Key() string {
	return r.OrderID + "/" + r.ContentHash()
}

// SameContent reports whether two records share an id and business content.
func (r *OrderRecord) SameContent(o *OrderRecord) bool {
	return r.OrderID == o.OrderID && r.ContentHash() == o.ContentHash()
}

// Less orders records by (order_date, order_id).
func (r *OrderRecord) Less(o *OrderRecord) bool {
	if !r.OrderDate.Equal(o.OrderDate) {
		return r.OrderDate.Before(o.OrderDate)
	}
	return r.OrderID < o.OrderID
}

func (r *OrderRecord) String() string {
	return fmt.Sprintf("Order %s: %s - %s %s on %s",
		r.OrderID, r.Description, r.Amount.String(), r.Currency, r.OrderDate.Format(DateLayout))
}
