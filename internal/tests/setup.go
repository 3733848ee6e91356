// Package tests holds end-to-end tests that need a real PostgreSQL. They
// skip unless DATABASE_URL is set.
package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/db"
)

// OpenTestDB connects to DATABASE_URL and applies migrations, or skips t.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping postgres test")
	}

	database, err := db.Open(context.Background(), url, zap.NewNop())
	if err != nil {
		t.Fatalf("database open must succeed; check DATABASE_URL and that the test DB exists: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrations must run: %v", err)
	}
	return database
}

// TruncateAuthTables empties every table for a clean test state.
func TruncateAuthTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, "TRUNCATE TABLE refresh_sessions, otp_codes, users RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate auth tables: %w", err)
	}
	return nil
}
