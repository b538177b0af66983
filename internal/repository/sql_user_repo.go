package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/iceblink/internal/model"
)

// SQLUserRepo はdatabase/sqlを使用したユーザーリポジトリ。
// PostgreSQLとSQLiteの両方で動作するクエリのみを使用する。
type SQLUserRepo struct {
	db *sql.DB
}

// NewSQLUserRepo はSQLUserRepoを生成する。
func NewSQLUserRepo(db *sql.DB) *SQLUserRepo {
	return &SQLUserRepo{db: db}
}

// Upsert は指定IDのユーザーが存在しなければ作成し、現在の行を返す。
func (r *SQLUserRepo) Upsert(ctx context.Context, id string) (*model.User, error) {
	wctx, cancel := writeContext(ctx)
	defer cancel()

	_, err := r.db.ExecContext(wctx,
		`INSERT INTO users (id, created_at) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	user, err := r.FindByID(wctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user disappeared after upsert: %s", id)
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// DeleteWithCodes はユーザーと所有する全コードを同一トランザクションで削除する。
// ON DELETE CASCADEに依存せず、コードを明示的に削除する。
func (r *SQLUserRepo) DeleteWithCodes(ctx context.Context, id string) (bool, error) {
	wctx, cancel := writeContext(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(wctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(wctx, `DELETE FROM codes WHERE owner_id = $1`, id); err != nil {
		return false, fmt.Errorf("failed to delete codes: %w", err)
	}

	result, err := tx.ExecContext(wctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return rowsAffected > 0, nil
}

// compile-time interface check
var _ UserRepository = (*SQLUserRepo)(nil)
