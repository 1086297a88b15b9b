package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// OrderRepository is the subset of the orders table ExportLedger needs.
type OrderRepository interface {
	ExistingRowKeys(ctx context.Context, keys []string) (map[string]bool, error)
	InsertOrders(ctx context.Context, rows []*OrderRow) error
}

// BigQueryOrderRepository is the concrete implementation of OrderRepository.
// It holds a shared BigQuery client to avoid creating a new connection for
// each operation.
type BigQueryOrderRepository struct {
	client *bigquery.Client
	target Target
}

// NewBigQueryOrderRepository creates a repository writing to target.
func NewBigQueryOrderRepository(ctx context.Context, target Target) (*BigQueryOrderRepository, error) {
	projectID := target.ProjectID
	if projectID == "" {
		projectID = bigquery.DetectProjectID
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryOrderRepository: creating client: %w", err)
	}
	return &BigQueryOrderRepository{client: client, target: target}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryOrderRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ExistingRowKeys delegates to ExistingRowKeysWithClient with the shared client.
func (r *BigQueryOrderRepository) ExistingRowKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	return ExistingRowKeysWithClient(ctx, r.client, r.target, keys)
}

// InsertOrders delegates to InsertOrdersWithClient with the shared client.
func (r *BigQueryOrderRepository) InsertOrders(ctx context.Context, rows []*OrderRow) error {
	return InsertOrdersWithClient(ctx, r.client, r.target, rows)
}
