package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/fulfillment-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestStockLedgerMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_stock_ledger"), []string{
		"CREATE TABLE IF NOT EXISTS stock_records",
		"CHECK (available_quantity >= 0)",
		"CHECK (available_quantity = quantity - reserved_quantity)",
		"COALESCE(branch_id, '00000000-0000-0000-0000-000000000000'::uuid)",
		"CHECK (type IN ('import', 'export', 'adjustment', 'damaged', 'returned'))",
		"stock_reservations_operation_key_key",
		"DROP TABLE IF EXISTS stock_records",
	})
}

func TestDeliveryTrackingMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_delivery_trackings"), []string{
		"CONSTRAINT delivery_trackings_order_id_key UNIQUE (order_id)",
		"'out_for_delivery'",
		"REFERENCES delivery_trackings(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS delivery_trackings",
	})
}

func TestSyncOutboxMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_sync_outbox"), []string{
		"CREATE TABLE IF NOT EXISTS sync_outbox_events",
		"WHERE delivered_at IS NULL",
		"CREATE TABLE IF NOT EXISTS sync_outbox_dlq",
	})
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Shipper Index!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_shipper_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func writeMigration(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestListDirOrdersByVersion(t *testing.T) {
	files, err := migrate.ListDir("migrations")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) < 3 {
		t.Fatalf("expected at least 3 migrations, got %d", len(files))
	}
	if files[0].Name != "create_stock_ledger" {
		t.Fatalf("expected stock ledger first, got %s", files[0].Name)
	}
	for i := 1; i < len(files); i++ {
		if files[i-1].Version >= files[i].Version {
			t.Fatalf("versions out of order: %s then %s", files[i-1].Version, files[i].Version)
		}
	}
}

func TestValidateDirRejectsBrokenFiles(t *testing.T) {
	cases := map[string]struct {
		name string
		body string
	}{
		"bad name": {
			name: "add_index.sql",
			body: "-- +goose Up\n-- +goose Down\n",
		},
		"missing down": {
			name: "20260301000000_no_down.sql",
			body: "-- +goose Up\nSELECT 1;\n",
		},
		"down before up": {
			name: "20260301000000_swapped.sql",
			body: "-- +goose Down\nSELECT 1;\n-- +goose Up\nSELECT 1;\n",
		},
		"unterminated block": {
			name: "20260301000000_open_block.sql",
			body: "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeMigration(t, dir, tc.name, tc.body)
			if err := migrate.ValidateDir(dir); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidateDirRejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	writeMigration(t, dir, "20260301000000_first.sql", body)
	writeMigration(t, dir, "20260301000000_second.sql", body)
	if err := migrate.ValidateDir(dir); err == nil || !strings.Contains(err.Error(), "share version") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}
