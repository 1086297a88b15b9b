package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/order-ledger/internal/domain"
)

// OrderRow maps to a single row in <dataset>.orders.
type OrderRow struct {
	RowKey      string              `bigquery:"row_key"`
	OrderID     string              `bigquery:"order_id"`
	OrderDate   civil.Date          `bigquery:"order_date"`
	Amount      *big.Rat            `bigquery:"amount"` // NUMERIC
	Currency    string              `bigquery:"currency"`
	Description string              `bigquery:"description"`
	Category    bigquery.NullString `bigquery:"category"`
	Tags        []string            `bigquery:"tags"`
	Ambiguous   bool                `bigquery:"ambiguous"`

	RunID     bigquery.NullString `bigquery:"run_id"`
	CreatedTS time.Time           `bigquery:"created_ts"`
}

// NewOrderRow converts a ledger row for insertion. The amount keeps its exact
// decimal value.
func NewOrderRow(row domain.LedgerRow, runID string, now time.Time) *OrderRow {
	out := &OrderRow{
		RowKey:      row.Key(),
		OrderID:     row.OrderID,
		OrderDate:   civil.DateOf(row.OrderDate),
		Amount:      row.Value.Rat(),
		Currency:    row.Currency,
		Description: row.Description,
		Tags:        append([]string{}, row.Tags...),
		Ambiguous:   row.Ambiguous,
		CreatedTS:   now.UTC(),
	}
	if row.Category != "" {
		out.Category = bigquery.NullString{StringVal: row.Category, Valid: true}
	}
	if runID != "" {
		out.RunID = bigquery.NullString{StringVal: runID, Valid: true}
	}
	return out
}

// NewOrderRows converts a whole ledger.
func NewOrderRows(rows []domain.LedgerRow, runID string, now time.Time) []*OrderRow {
	out := make([]*OrderRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, NewOrderRow(r, runID, now))
	}
	return out
}
