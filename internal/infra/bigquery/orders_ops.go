package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/logger"
)

const (
	// DefaultDataset is used when no dataset is configured.
	DefaultDataset = "ledger"
	ordersTable    = "orders"

	// insertBatchSize keeps streaming inserts well under the request size limit.
	insertBatchSize = 500
)

// Target names the dataset the orders table lives in.
type Target struct {
	ProjectID string
	DatasetID string
}

func (t Target) table(client *bigquery.Client) *bigquery.Table {
	dataset := t.DatasetID
	if dataset == "" {
		dataset = DefaultDataset
	}
	if t.ProjectID == "" {
		return client.Dataset(dataset).Table(ordersTable)
	}
	return client.DatasetInProject(t.ProjectID, dataset).Table(ordersTable)
}

// InsertOrdersWithClient streams rows into <dataset>.orders in batches.
func InsertOrdersWithClient(ctx context.Context, client *bigquery.Client, target Target, rows []*OrderRow) error {
	if len(rows) == 0 {
		return nil
	}

	inserter := target.table(client).Inserter()
	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := inserter.Put(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("InsertOrders: put rows %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// ExistingRowKeysWithClient returns which of keys are already stored.
func ExistingRowKeysWithClient(ctx context.Context, client *bigquery.Client, target Target, keys []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(keys) == 0 {
		return found, nil
	}

	tbl := target.table(client)
	q := client.Query(fmt.Sprintf(`
		SELECT row_key
		FROM `+"`%s.%s.%s`"+`
		WHERE row_key IN UNNEST(@keys)
	`, tbl.ProjectID, tbl.DatasetID, tbl.TableID))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "keys", Value: keys},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ExistingRowKeys: query read: %w", err)
	}

	for {
		var r struct {
			RowKey string `bigquery:"row_key"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ExistingRowKeys: iter next: %w", err)
		}
		found[r.RowKey] = true
	}
	return found, nil
}

// ExportResult counts what ExportLedger did.
type ExportResult struct {
	Inserted int
	Existing int
}

// ExportLedger inserts the ledger rows not yet present in the orders table.
// Running it twice with the same ledger inserts nothing the second time.
func ExportLedger(ctx context.Context, repo OrderRepository, rows []domain.LedgerRow, runID string, now time.Time) (*ExportResult, error) {
	log := logger.FromContext(ctx)

	orderRows := NewOrderRows(rows, runID, now)
	keys := make([]string, 0, len(orderRows))
	for _, r := range orderRows {
		keys = append(keys, r.RowKey)
	}

	existing, err := repo.ExistingRowKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("ExportLedger: %w", err)
	}

	res := &ExportResult{}
	var pending []*OrderRow
	seen := make(map[string]bool, len(orderRows))
	for _, r := range orderRows {
		if existing[r.RowKey] || seen[r.RowKey] {
			res.Existing++
			continue
		}
		seen[r.RowKey] = true
		pending = append(pending, r)
	}

	if err := repo.InsertOrders(ctx, pending); err != nil {
		return nil, fmt.Errorf("ExportLedger: %w", err)
	}
	res.Inserted = len(pending)

	log.Info().
		Int("inserted", res.Inserted).
		Int("existing", res.Existing).
		Msg("Exported ledger to BigQuery")
	return res, nil
}
