package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("DEVFLOW_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("DEVFLOW_TEST_DATABASE_URL is not set")
	}
	return dsn
}

// TestTagNameUniqueIgnoresCase verifies the expression index rejects a
// second row whose name differs only in casing.
func TestTagNameUniqueIgnoresCase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM tags WHERE name IN ('golang', 'GoLang')`); err != nil {
		t.Fatalf("clean tags: %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO tags (id, name, questions) VALUES ('tag_case_a', 'golang', 0)`); err != nil {
		t.Fatalf("insert first tag: %v", err)
	}
	defer db.ExecContext(ctx, `DELETE FROM tags WHERE id = 'tag_case_a'`)

	found, err := NewPostgresStore(db).GetTagByName(ctx, "GOLANG")
	if err != nil {
		t.Fatalf("lookup by case variant: %v", err)
	}
	if found.ID != "tag_case_a" || found.Name != "golang" {
		t.Fatalf("unexpected tag: %+v", found)
	}

	_, err = db.ExecContext(ctx, `INSERT INTO tags (id, name, questions) VALUES ('tag_case_b', 'GoLang', 0)`)
	if err == nil {
		t.Fatal("expected case-variant insert to be rejected")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "23505" {
		t.Fatalf("expected SQLSTATE 23505 (unique_violation), got: %s", pgErr.SQLState())
	}
}

// TestUpsertTagIncrementReusesCaseVariant verifies that upserting a name
// that matches an existing tag case-insensitively bumps the original row
// and keeps its stored casing.
func TestUpsertTagIncrementReusesCaseVariant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM tags WHERE LOWER(name) = 'postgres'`); err != nil {
		t.Fatalf("clean tags: %v", err)
	}
	defer db.ExecContext(ctx, `DELETE FROM tags WHERE LOWER(name) = 'postgres'`)

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer sqlTx.Rollback()
	tx := &Tx{tx: sqlTx}

	first, err := tx.UpsertTagIncrement(ctx, "tag_upsert_a", "Postgres")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.ID != "tag_upsert_a" || first.Questions != 1 {
		t.Fatalf("unexpected first upsert result: %+v", first)
	}

	second, err := tx.UpsertTagIncrement(ctx, "tag_upsert_b", "POSTGRES")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing tag to be reused, got new id %s", second.ID)
	}
	if second.Name != "Postgres" {
		t.Fatalf("expected stored casing to survive, got %q", second.Name)
	}
	if second.Questions != 2 {
		t.Fatalf("expected counter 2, got %d", second.Questions)
	}

	if err := tx.DecrementTagUsage(ctx, first.ID); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if err := tx.DecrementTagUsage(ctx, first.ID); err != nil {
		t.Fatalf("decrement to zero: %v", err)
	}

	var count int
	if err := sqlTx.QueryRowContext(ctx, `SELECT questions FROM tags WHERE id = $1`, first.ID).Scan(&count); err != nil {
		t.Fatalf("tag row should survive a zero counter: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected counter 0, got %d", count)
	}
}
