package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestLoadMigrationsPairsFilesInOrder(t *testing.T) {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations discovered")
	}
	for i, m := range migrations {
		if strings.TrimSpace(m.Down) == "" {
			t.Errorf("migration %s has no down file", m.Name)
		}
		if i > 0 && migrations[i-1].Version >= m.Version {
			t.Errorf("migration %s is out of order after %s", m.Name, migrations[i-1].Name)
		}
	}
}

func TestLoadMigrationsRejectsOrphanDown(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("0001_users.up.sql", "CREATE TABLE users (id BIGINT);")
	write("0001_users.down.sql", "DROP TABLE users;")
	write("0002_notes.down.sql", "DROP TABLE notes;")
	write("README.md", "ignored")

	if _, err := LoadMigrations(dir); err == nil || !strings.Contains(err.Error(), "0002") {
		t.Fatalf("expected missing up error for 0002, got %v", err)
	}
}

func TestLoadMigrationsSkipsUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "0003_budget.up.sql"), []byte("SELECT 1;"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "0001_init.up.sql"), []byte("SELECT 1;"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "notes.sql"), []byte("SELECT 2;"), 0o644)

	migrations, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migrations) != 2 || migrations[0].Name != "0001_init" || migrations[1].Name != "0003_budget" {
		t.Fatalf("unexpected migrations: %+v", migrations)
	}
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("NORMATIVE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("NORMATIVE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	applied, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("apply (pass 1): %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("first pass applied nothing")
	}
	for _, table := range []string{"users", "documents", "annotations"} {
		if !tableExists(t, ctx, db, table) {
			t.Fatalf("table %s missing after migrate", table)
		}
	}

	again, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("apply (idempotent): %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second pass re-applied %v", again)
	}

	if err := RollbackMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if tableExists(t, ctx, db, "annotations") {
		t.Fatal("annotations survived rollback")
	}

	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply (pass 2): %v", err)
	}
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func tableExists(t *testing.T, ctx context.Context, db *sql.DB, name string) bool {
	t.Helper()
	var ok bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('public.' || $1) IS NOT NULL`, name).Scan(&ok); err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return ok
}
