package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/order-ledger/internal/config"
	"github.com/dvloznov/order-ledger/internal/logger"
	"github.com/dvloznov/order-ledger/internal/notionsync"
	"github.com/dvloznov/order-ledger/internal/runner"
)

func main() {
	// Initialize structured logger
	log := logger.New()

	// Parse CLI flags
	configPath := flag.String("config", "order-ledger.yaml", "Path to the settings file")
	notionToken := flag.String("notion-token", os.Getenv("NOTION_TOKEN"), "Notion API token (required, or NOTION_TOKEN)")
	notionDBID := flag.String("notion-db-id", os.Getenv("NOTION_DATABASE_ID"), "Notion database ID (required, or NOTION_DATABASE_ID)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	prune := flag.Bool("prune", false, "Archive pages whose row is no longer in the ledger")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: sync-notion [options] [SESSION_KEY ...]")
		flag.PrintDefaults()
	}
	flag.Parse()
	logger.SetDebug(*debug)

	// Validate required flags
	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required")
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}
	if err := settings.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid settings")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// Add logger to context
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Strs("sessions", flag.Args()).
		Bool("dry_run", *dryRun).
		Bool("prune", *prune).
		Msg("Starting Notion sync")

	// Rebuild the ledger rows from the cache
	res, err := runner.New(settings, runner.Deps{}).Replay(ctx, flag.Args(), runner.Options{NoWrite: true})
	if errors.Is(err, runner.ErrNoOrders) {
		log.Warn().Msg("No orders found to sync")
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to rebuild ledger")
	}

	// Initialize Notion client
	notionClient := notionsync.NewNotionClient(*notionToken)

	result, err := notionsync.SyncLedger(ctx, notionClient, *notionDBID, res.Rows, *prune, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: %d created, %d already present, %d archived, %d failed.\n",
		result.Created, result.Skipped, result.Archived, result.Failed)
	if result.Failed > 0 {
		os.Exit(1)
	}
}
