// Package dbtest はテスト用のデータベースを準備するヘルパーを提供する。
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/hitoshi/iceblink/internal/database"
)

// NewSQLite は一時ディレクトリにマイグレーション済みのSQLiteデータベースを作成する。
// テスト終了時に自動でクローズされる。
func NewSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, dialect, err := database.Open("sqlite://" + filepath.Join(t.TempDir(), "iceblink.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.RunMigrations(db, dialect); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

// InsertUser はテスト用のユーザー行を挿入する。
func InsertUser(t *testing.T, db *sql.DB, userID string) {
	t.Helper()

	if _, err := db.Exec("INSERT INTO users (id) VALUES ($1)", userID); err != nil {
		t.Fatalf("failed to insert user %q: %v", userID, err)
	}
}
