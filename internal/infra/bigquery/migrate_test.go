package bigquery

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_schema_migrations.sql", true, 1, "schema_migrations"},
		{"0012_add_index.sql", true, 12, "add_index"},
		{"001_invalid.sql", false, 0, ""},
		{"0001_test", false, 0, ""},
		{"0001.sql", false, 0, ""},
		{"invalid_0001_test.sql", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := ParseMigrationFilename(tt.filename)
			if ok != tt.valid || version != tt.version || name != tt.name {
				t.Errorf("ParseMigrationFilename(%q) = %d, %q, %v; want %d, %q, %v",
					tt.filename, version, name, ok, tt.version, tt.name, tt.valid)
			}
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_orders.sql":   {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.orders` (x INT64);")},
		"0001_init.sql":     {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.schema_migrations` (v INT64);")},
		"README.md":         {Data: []byte("not a migration")},
		"nested/0003_x.sql": {Data: []byte("ignored")},
	}

	got, err := LoadMigrations(fsys, Target{ProjectID: "p", DatasetID: "d"})
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(got) != 2 || got[0].Version != 1 || got[1].Version != 2 {
		t.Fatalf("Unexpected migrations: %+v", got)
	}
	if !strings.Contains(got[1].SQL, "`p.d.orders`") {
		t.Errorf("placeholders not replaced: %s", got[1].SQL)
	}

	other, err := LoadMigrations(fsys, Target{ProjectID: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if other[1].Checksum != got[1].Checksum {
		t.Error("Checksum must not depend on the target")
	}
	if !strings.Contains(other[1].SQL, "`q."+DefaultDataset+".orders`") {
		t.Errorf("default dataset not used: %s", other[1].SQL)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("a")},
		"0001_b.sql": {Data: []byte("b")},
	}
	if _, err := LoadMigrations(fsys, Target{ProjectID: "p"}); err == nil {
		t.Error("Expected error for duplicate version")
	}
}

func TestPendingMigrations(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "init", Checksum: "c1"},
		{Version: 2, Name: "orders", Checksum: "c2"},
		{Version: 3, Name: "view", Checksum: "c3"},
	}

	pending, err := PendingMigrations(migrations, []AppliedMigration{{Version: 1, Checksum: "c1"}, {Version: 2}})
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Version != 3 {
		t.Errorf("pending = %+v, want only version 3", pending)
	}

	if _, err := PendingMigrations(migrations, []AppliedMigration{{Version: 2, Checksum: "edited"}}); err == nil {
		t.Error("Expected error for a migration changed after it was applied")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := EmbeddedMigrations(Target{ProjectID: "proj", DatasetID: "ledger"})
	if err != nil {
		t.Fatalf("EmbeddedMigrations() error = %v", err)
	}
	if len(got) == 0 || got[0].Name != "schema_migrations" {
		t.Fatalf("Unexpected embedded migrations: %+v", got)
	}
	var orders bool
	for i, m := range got {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d", i, m.Version)
		}
		if strings.Contains(m.SQL, "{{") {
			t.Errorf("%04d_%s has unresolved placeholders", m.Version, m.Name)
		}
		// Every OrderRow column must exist in the table.
		if m.Name == "create_orders" {
			orders = true
			for _, col := range []string{"row_key", "order_id", "order_date", "amount", "currency", "description", "category", "tags", "ambiguous", "run_id", "created_ts"} {
				if !strings.Contains(m.SQL, col) {
					t.Errorf("orders table lacks column %s", col)
				}
			}
		}
	}
	if !orders {
		t.Error("No migration creates the orders table")
	}
}
