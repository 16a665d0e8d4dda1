package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/hitoshi/postcache/internal/database"
)

// newTestDB はマイグレーション済みの一時SQLiteデータベースを返す。
func newTestDB(t *testing.T) (*sql.DB, database.Dialect) {
	t.Helper()

	dbURL := "sqlite://" + filepath.Join(t.TempDir(), "cache.db")
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	db, dialect, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dialect
}

func newTestPostRepo(t *testing.T) *PostRepo {
	t.Helper()
	db, dialect := newTestDB(t)
	return NewPostRepo(db, dialect)
}

var testCtx = context.Background()
