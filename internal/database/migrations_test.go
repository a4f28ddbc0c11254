package database

import (
	"context"
	"testing"
)

func TestMigratorRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := NewMigrator(db).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, table := range []string{"detections", "system_events", "daily_stats"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after migration: %v", table, err)
		}
	}

	// Running again is a no-op.
	if err := NewMigrator(db).Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
}

func TestMigratorRecordsVersions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := NewMigrator(db).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}

	var recorded int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&recorded); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if recorded != len(migrations) {
		t.Errorf("recorded %d migrations, want %d", recorded, len(migrations))
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations found")
	}
	for i, m := range migrations {
		if m.Version <= 0 || m.Name == "" || m.SQL == "" {
			t.Errorf("migration %d incomplete: %+v", i, m)
		}
		if i > 0 && migrations[i-1].Version >= m.Version {
			t.Errorf("migrations out of order at %d: %d then %d", i, migrations[i-1].Version, m.Version)
		}
	}
}

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		version  int
		name     string
		wantErr  bool
	}{
		{filename: "001_initial_schema.sql", version: 1, name: "initial_schema"},
		{filename: "012_add_index.sql", version: 12, name: "add_index"},
		{filename: "notes.txt", wantErr: true},
		{filename: "schema.sql", wantErr: true},
		{filename: "abc_schema.sql", wantErr: true},
		{filename: "000_zero.sql", wantErr: true},
		{filename: "001_.sql", wantErr: true},
	}
	for _, tc := range tests {
		version, name, err := parseMigrationName(tc.filename)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.filename)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.filename, err)
			continue
		}
		if version != tc.version || name != tc.name {
			t.Errorf("%s: got (%d, %q), want (%d, %q)", tc.filename, version, name, tc.version, tc.name)
		}
	}
}
