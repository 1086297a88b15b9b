package notionsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/sony/gobreaker"

	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/logger"
)

const (
	// BatchSize defines the number of rows to process in a single batch
	BatchSize = 100

	queryPageSize = 100
)

// SyncResult counts what a sync did, or would do in dry-run mode.
type SyncResult struct {
	Created  int
	Skipped  int
	Archived int
	Failed   int
}

// SyncLedger creates a Notion page for every ledger row whose row key is not
// yet in the database. Rows already present are skipped, so repeating a sync
// creates nothing. When prune is set, pages whose row key is not part of the
// ledger are archived. A failure on one page is logged and counted, the rest
// of the ledger is still processed unless the client's circuit breaker has
// opened, which ends the sync with the counts so far.
func SyncLedger(ctx context.Context, notionClient NotionService, databaseID string, rows []domain.LedgerRow, prune, dryRun bool) (*SyncResult, error) {
	log := logger.FromContext(ctx)

	log.Info().
		Int("rows", len(rows)).
		Bool("prune", prune).
		Bool("dry_run", dryRun).
		Msg("Starting ledger sync to Notion")

	notionPages, err := queryAllNotionPages(ctx, notionClient, databaseID)
	if err != nil {
		return nil, fmt.Errorf("SyncLedger: %w", err)
	}
	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	existing := make(map[string]bool, len(notionPages))
	for _, page := range notionPages {
		if key := extractRowKey(page); key != "" {
			existing[key] = true
		}
	}

	res := &SyncResult{}

	if prune {
		wanted := make(map[string]bool, len(rows))
		for _, row := range rows {
			wanted[row.Key()] = true
		}
		for _, page := range notionPages {
			key := extractRowKey(page)
			if key != "" && wanted[key] {
				continue
			}
			if dryRun {
				log.Info().Str("row_key", key).Str("page_id", string(page.ID)).Msg("[DRY RUN] Would archive stale Notion page")
				res.Archived++
				continue
			}
			if err := notionClient.ArchivePage(ctx, string(page.ID)); err != nil {
				if breakerOpen(err) {
					return res, fmt.Errorf("SyncLedger: notion unavailable: %w", err)
				}
				log.Warn().Err(err).Str("row_key", key).Str("page_id", string(page.ID)).Msg("Failed to archive stale Notion page")
				res.Failed++
				continue
			}
			res.Archived++
		}
	}

	for i := 0; i < len(rows); i += BatchSize {
		end := i + BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		log.Debug().Int("batch_start", i).Int("batch_end", end).Msg("Processing batch")

		for _, row := range rows[i:end] {
			if err := ctx.Err(); err != nil {
				return res, fmt.Errorf("SyncLedger: %w", err)
			}

			key := row.Key()
			if existing[key] {
				res.Skipped++
				continue
			}
			existing[key] = true

			if dryRun {
				log.Info().Str("order_id", row.OrderID).Str("row_key", key).Msg("[DRY RUN] Would create Notion page")
				res.Created++
				continue
			}

			page, err := notionClient.CreatePage(ctx, databaseID, LedgerRowToNotionProperties(row))
			if err != nil {
				if breakerOpen(err) {
					return res, fmt.Errorf("SyncLedger: notion unavailable: %w", err)
				}
				log.Warn().Err(err).Str("order_id", row.OrderID).Msg("Failed to create Notion page")
				res.Failed++
				continue
			}
			log.Debug().Str("order_id", row.OrderID).Str("page_id", string(page.ID)).Msg("Created Notion page")
			res.Created++
		}
	}

	log.Info().
		Int("created", res.Created).
		Int("skipped", res.Skipped).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Ledger sync completed")

	return res, nil
}

func breakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// queryAllNotionPages queries all pages from a Notion database, handling pagination.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: queryPageSize,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
