package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/order-ledger/internal/logger"
)

// Migrations holds the versioned DDL for the ledger dataset.
//
//go:embed migrations/*.sql
var Migrations embed.FS

var migrationNameRe = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration is one versioned DDL script with its placeholders resolved.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// ParseMigrationFilename splits NNNN_name.sql into version and name.
func ParseMigrationFilename(filename string) (int, string, bool) {
	m := migrationNameRe.FindStringSubmatch(filename)
	if m == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return version, m[2], true
}

// LoadMigrations reads every NNNN_name.sql file at the root of fsys, sorted by
// version. {{PROJECT_ID}} and {{DATASET_ID}} are replaced with the target; the
// checksum covers the file before substitution so it does not depend on where
// a migration is applied.
func LoadMigrations(fsys fs.FS, target Target) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("LoadMigrations: %w", err)
	}

	dataset := target.DatasetID
	if dataset == "" {
		dataset = DefaultDataset
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, ok := ParseMigrationFilename(e.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("LoadMigrations: version %04d used by %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		content, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("LoadMigrations: read %s: %w", e.Name(), err)
		}
		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", target.ProjectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", dataset)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// EmbeddedMigrations returns the migrations shipped with the binary.
func EmbeddedMigrations(target Target) ([]Migration, error) {
	sub, err := fs.Sub(Migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("EmbeddedMigrations: %w", err)
	}
	return LoadMigrations(sub, target)
}

// PendingMigrations returns the migrations not yet recorded in applied. A
// recorded migration whose file changed since it was applied is an error.
func PendingMigrations(migrations []Migration, applied []AppliedMigration) ([]Migration, error) {
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	var pending []Migration
	for _, m := range migrations {
		am, ok := byVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s changed after it was applied", m.Version, m.Name)
		}
	}
	return pending, nil
}

// ApplyMigrationsWithClient runs every pending migration in order and records
// it in schema_migrations. It returns how many were applied.
func ApplyMigrationsWithClient(ctx context.Context, client *bigquery.Client, target Target, migrations []Migration, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	if err := ensureDataset(ctx, client, target); err != nil {
		return 0, fmt.Errorf("ApplyMigrations: %w", err)
	}
	if len(migrations) > 0 && migrations[0].Version == 1 {
		// The first migration creates schema_migrations itself.
		if err := runDDL(ctx, client, migrations[0].SQL); err != nil {
			return 0, fmt.Errorf("ApplyMigrations: bootstrap: %w", err)
		}
	}

	applied, err := getAppliedMigrationsWithClient(ctx, client, target)
	if err != nil {
		return 0, fmt.Errorf("ApplyMigrations: %w", err)
	}
	pending, err := PendingMigrations(migrations, applied)
	if err != nil {
		return 0, fmt.Errorf("ApplyMigrations: %w", err)
	}

	log.Info().Int("known", len(migrations)).Int("applied", len(applied)).Int("pending", len(pending)).Msg("Checked schema migrations")

	for i, m := range pending {
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")
		if err := runDDL(ctx, client, m.SQL); err != nil {
			return i, fmt.Errorf("ApplyMigrations: %04d_%s: %w", m.Version, m.Name, err)
		}
		if err := recordMigrationWithClient(ctx, client, target, m, appliedBy); err != nil {
			return i, fmt.Errorf("ApplyMigrations: record %04d_%s: %w", m.Version, m.Name, err)
		}
	}
	return len(pending), nil
}

func ensureDataset(ctx context.Context, client *bigquery.Client, target Target) error {
	ds := target.table(client).DatasetID
	dataset := client.Dataset(ds)
	if target.ProjectID != "" {
		dataset = client.DatasetInProject(target.ProjectID, ds)
	}
	if _, err := dataset.Metadata(ctx); err == nil {
		return nil
	}
	if err := dataset.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !strings.Contains(err.Error(), "Already Exists") {
		return fmt.Errorf("create dataset %s: %w", ds, err)
	}
	return nil
}

func runDDL(ctx context.Context, client *bigquery.Client, sql string) error {
	job, err := client.Query(sql).Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func migrationsTable(client *bigquery.Client, target Target) string {
	t := target.table(client)
	return fmt.Sprintf("`%s.%s.schema_migrations`", t.ProjectID, t.DatasetID)
}

func getAppliedMigrationsWithClient(ctx context.Context, client *bigquery.Client, target Target) ([]AppliedMigration, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, migrationsTable(client, target)))

	it, err := q.Read(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return []AppliedMigration{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating applied migrations: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func recordMigrationWithClient(ctx context.Context, client *bigquery.Client, target Target, m Migration, appliedBy string) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, migrationsTable(client, target)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	return status.Err()
}
