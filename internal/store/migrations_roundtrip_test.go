package store

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

func TestMigrationsRoundTripSQLite(t *testing.T) {
	ctx := context.Background()
	db, dialect, err := Open(ctx, "file:"+filepath.Join(t.TempDir(), "roundtrip.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	roundTrip(ctx, t, db, dialect)
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("SPECSYNC_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SPECSYNC_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, dialect, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	roundTrip(ctx, t, db, dialect)
}

func roundTrip(ctx context.Context, t *testing.T, db *sql.DB, dialect Dialect) {
	t.Helper()

	if err := Migrate(ctx, db, dialect); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if err := Migrate(ctx, db, dialect); err != nil {
		t.Fatalf("re-apply up migrations: %v", err)
	}
	if err := applyDownMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if err := Migrate(ctx, db, dialect); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func applyDownMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	files, err := migrationsFor(dialect)
	if err != nil {
		return err
	}
	downs, err := migrationNames(files, ".down.sql")
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))

	for _, name := range downs {
		sqlBytes, err := fs.ReadFile(files, name)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}
	return nil
}
