package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect は接続先データベースの種類を表す。
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// sqlitePragmas はSQLite接続ごとに適用するPRAGMA。
// 外部キー制約はSQLiteではデフォルト無効のため明示的に有効化する。
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

// Open はDATABASE_URLのスキームに応じてデータベース接続を開く。
//   - postgres:// または postgresql:// はPostgreSQL（lib/pq）
//   - sqlite:// はSQLite（modernc.org/sqlite）。sqlite:///abs/path または sqlite://rel/path
//
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sql.DB, Dialect, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		return db, DialectPostgres, nil

	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if strings.TrimSpace(path) == "" {
			return nil, "", fmt.Errorf("sqlite database path is required")
		}
		db, err := sql.Open("sqlite", SQLiteDSN(path))
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		// SQLiteは書き込みが直列化されるため接続を1本に絞る
		db.SetMaxOpenConns(1)
		return db, DialectSQLite, nil

	default:
		return nil, "", fmt.Errorf("unsupported database url scheme: %q", schemeOf(databaseURL))
	}
}

// SQLiteDSN はファイルパスからmodernc.org/sqlite用のDSNを組み立てる。
func SQLiteDSN(path string) string {
	if path != ":memory:" {
		path = filepath.Clean(path)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + sqlitePragmas
}

func schemeOf(databaseURL string) string {
	if i := strings.Index(databaseURL, "://"); i >= 0 {
		return databaseURL[:i]
	}
	return ""
}
