package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadMigrations_SortedByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0010_audit.sql", "CREATE TABLE audit_events ();")
	writeMigration(t, dir, "0001_init.sql", "CREATE TABLE patients ();")
	writeMigration(t, dir, "0002_indexes.sql", "CREATE INDEX idx ON patients (state);")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("got %d migrations, want 3", len(migrations))
	}
	for i, want := range []int{1, 2, 10} {
		if migrations[i].Version != want {
			t.Errorf("migration %d version = %d, want %d", i, migrations[i].Version, want)
		}
	}
	if migrations[0].SQL != "CREATE TABLE patients ();" {
		t.Errorf("migration 0 sql = %q", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsNonMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0001_init.sql", "CREATE TABLE patients ();")
	writeMigration(t, dir, "README.md", "# notes")
	writeMigration(t, dir, "noprefix.sql", "SELECT 1;")
	writeMigration(t, dir, "abc_bad.sql", "SELECT 1;")
	if err := os.Mkdir(filepath.Join(dir, "0002_dir.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Name != "0001_init.sql" {
		t.Fatalf("migrations = %+v, want only 0001_init.sql", migrations)
	}
}

func TestLoadMigrations_MissingDirectory(t *testing.T) {
	m := NewMigrator(nil, filepath.Join(t.TempDir(), "nope"))
	if _, err := m.LoadMigrations(); err == nil {
		t.Fatal("missing directory must fail")
	}
}
