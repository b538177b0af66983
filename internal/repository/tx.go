package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// writeTimeout は書き込みトランザクションの上限時間。
const writeTimeout = 10 * time.Second

// writeContext はクライアントの切断から切り離した書き込み用コンテキストを返す。
// 放棄されたリクエストでもトランザクションはコミットかロールバックまで完了する。
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

// isUniqueViolation はPostgreSQL/SQLiteの一意制約違反を判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
			strings.Contains(sqliteErr.Error(), "UNIQUE")
	}

	return false
}
