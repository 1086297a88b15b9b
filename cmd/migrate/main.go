package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/bigquery"

	infraBQ "github.com/dvloznov/order-ledger/internal/infra/bigquery"
	"github.com/dvloznov/order-ledger/internal/logger"
)

func main() {
	log := logger.New()

	projectID := flag.String("project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "GCP project ID (defaults to the detected project)")
	datasetID := flag.String("dataset", infraBQ.DefaultDataset, "BigQuery dataset ID")
	appliedBy := flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	dryRun := flag.Bool("dry-run", false, "List the migrations without applying them")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	project := *projectID
	if project == "" {
		project = bigquery.DetectProjectID
	}
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	target := infraBQ.Target{ProjectID: client.Project(), DatasetID: *datasetID}
	log.Info().Str("project", target.ProjectID).Str("dataset", target.DatasetID).Msg("Connected to BigQuery")

	migrations, err := infraBQ.EmbeddedMigrations(target)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}

	if *dryRun {
		for _, m := range migrations {
			fmt.Printf("[DRY RUN] %04d_%s (%s)\n", m.Version, m.Name, m.Checksum[:12])
		}
		return
	}

	n, err := infraBQ.ApplyMigrationsWithClient(ctx, client, target, migrations, *appliedBy)
	if err != nil {
		log.Fatal().Err(err).Int("applied", n).Msg("Migration failed")
	}
	if n == 0 {
		fmt.Println("No new migrations to apply. Dataset is up to date.")
		return
	}
	fmt.Printf("Successfully applied %d migration(s).\n", n)
}
