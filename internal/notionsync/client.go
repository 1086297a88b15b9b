package notionsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/sony/gobreaker"
)

// breakerTripAfter is the number of consecutive API failures that opens the
// circuit.
const breakerTripAfter = 5

// NotionClient is the concrete implementation of NotionService using the official Notion SDK.
// Calls go through a circuit breaker so a failing API stops a sync early
// instead of failing every remaining row.
type NotionClient struct {
	client *notionapi.Client
	cb     *gobreaker.CircuitBreaker
}

// NewNotionClient creates a new NotionClient with the provided API token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{
		client: notionapi.NewClient(notionapi.Token(token)),
		cb:     newBreaker("notion"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
	})
}

// CreatePage creates a new page in a Notion database with the given properties.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	}

	result, err := n.cb.Execute(func() (interface{}, error) {
		return n.client.Page.Create(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	return result.(*notionapi.Page), nil
}

// QueryDatabase queries a Notion database with the given filter.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	result, err := n.cb.Execute(func() (interface{}, error) {
		return n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), filter)
	})
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}
	return result.(*notionapi.DatabaseQueryResponse), nil
}

// ArchivePage archives a Notion page by setting its archived property to true.
func (n *NotionClient) ArchivePage(ctx context.Context, pageID string) error {
	req := &notionapi.PageUpdateRequest{
		Archived: true,
	}

	_, err := n.cb.Execute(func() (interface{}, error) {
		return n.client.Page.Update(ctx, notionapi.PageID(pageID), req)
	})
	if err != nil {
		return fmt.Errorf("ArchivePage: %w", err)
	}
	return nil
}
