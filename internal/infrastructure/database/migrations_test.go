package database

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"
)

var testMigrations = fstest.MapFS{
	"20260101_000000_create_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL) STRICT;")},
	"20260101_000000_create_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
	"20260102_000000_widget_index.up.sql":     {Data: []byte("CREATE INDEX idx_widgets_name ON widgets(name);")},
	"README.md":                               {Data: []byte("not a migration")},
}

// useMigrations swaps MigrationsFS for the duration of a test.
func useMigrations(t *testing.T, fsys fs.FS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = fsys
	MigrationsDir = "."
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "widgets") {
		t.Fatal("table widgets not created")
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("expected 2 applied migrations, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureKeepsEarlierMigrations(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER PRIMARY KEY);")},
		"20260102_000000_broken.up.sql": {Data: []byte("CREATE TABLE oops (;")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}
	if !tableExists(t, db, "ok_table") {
		t.Error("earlier migration should remain committed")
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 1 and 1", len(applied), len(pending))
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_create_widgets.up.sql":   testMigrations["20260101_000000_create_widgets.up.sql"],
		"20260101_000000_create_widgets.down.sql": testMigrations["20260101_000000_create_widgets.down.sql"],
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "widgets") {
		t.Error("table widgets should have been dropped")
	}

	applied, _, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied migrations after rollback, got %d", len(applied))
	}

	// Nothing left to roll back
	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrateDown_NoDownSQL(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Latest migration (widget_index) has no .down.sql
	if err := db.MigrateDown(ctx); err == nil {
		t.Error("MigrateDown() expected error when down SQL is missing")
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"valid up migration", "20261018_120000_parameter_history.up.sql", "20261018_120000", true, true},
		{"valid down migration", "20261018_120000_parameter_history.down.sql", "20261018_120000", false, true},
		{"not sql file", "readme.txt", "", false, false},
		{"missing direction", "20261018_120000_parameter_history.sql", "", false, false},
		{"invalid format", "invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && (version != tt.wantVersion || isUp != tt.wantIsUp) {
				t.Errorf("got (%q, %v), want (%q, %v)", version, isUp, tt.wantVersion, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20261018_120000_parameter_history.up.sql", "parameter_history"},
		{"20261018_120000_parameter_history.down.sql", "parameter_history"},
		{"20261018_120000_add_source_to_history.up.sql", "add_source_to_history"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := extractMigrationName(tt.filename); got != tt.want {
				t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}
