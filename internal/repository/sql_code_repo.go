package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/iceblink/internal/model"
)

const codeColumns = `id, owner_id, content, display_name, icon_url, website_url`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// queryRower は*sql.DBと*sql.Txの共通インターフェース。
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLCodeRepo はdatabase/sqlを使用したコードリポジトリ。
type SQLCodeRepo struct {
	db *sql.DB
}

// NewSQLCodeRepo はSQLCodeRepoを生成する。
func NewSQLCodeRepo(db *sql.DB) *SQLCodeRepo {
	return &SQLCodeRepo{db: db}
}

func scanCode(s rowScanner) (*model.Code, error) {
	c := &model.Code{}
	if err := s.Scan(&c.ID, &c.OwnerID, &c.Content, &c.DisplayName, &c.IconURL, &c.WebsiteURL); err != nil {
		return nil, err
	}
	return c, nil
}

// nullable はnilポインタをNULL、それ以外を値としてドライバーに渡す。
func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// Create はコードを作成する。IDが重複した場合はErrDuplicateCodeIDを返す。
func (r *SQLCodeRepo) Create(ctx context.Context, code *model.Code) error {
	wctx, cancel := writeContext(ctx)
	defer cancel()

	_, err := r.db.ExecContext(wctx,
		`INSERT INTO codes (`+codeColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		code.ID, code.OwnerID, code.Content, code.DisplayName, nullable(code.IconURL), nullable(code.WebsiteURL),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateCodeID
	}
	if err != nil {
		return fmt.Errorf("コードの作成に失敗しました: %w", err)
	}
	return nil
}

// ListByOwner は所有者のコード一覧を作成順（seq昇順）で返す。
func (r *SQLCodeRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Code, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+codeColumns+` FROM codes WHERE owner_id = $1 ORDER BY seq ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("コード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	codes := []*model.Code{}
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("コードのスキャンに失敗しました: %w", err)
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コード一覧の読み取りに失敗しました: %w", err)
	}
	return codes, nil
}

// FindByIDAndOwner はIDと所有者でコードを取得する。見つからない場合はnilを返す。
func (r *SQLCodeRepo) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.Code, error) {
	return findCode(ctx, r.db, id, ownerID)
}

func findCode(ctx context.Context, q queryRower, id, ownerID string) (*model.Code, error) {
	c, err := scanCode(q.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM codes WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コードの取得に失敗しました: %w", err)
	}
	return c, nil
}

// Update は指定されたフィールドのみを同一トランザクションで更新し、更新後の行を返す。
// いずれかの更新が失敗した場合はロールバックし、どのフィールドも変更されない。
func (r *SQLCodeRepo) Update(ctx context.Context, id, ownerID string, patch model.CodePatch) (*model.Code, error) {
	wctx, cancel := writeContext(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(wctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	current, err := findCode(wctx, tx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	updates := []struct {
		column string
		set    bool
		value  any
	}{
		{"content", patch.Content != nil, nullable(patch.Content)},
		{"display_name", patch.DisplayName != nil, nullable(patch.DisplayName)},
		{"icon_url", patch.IconURL.Set, nullable(patch.IconURL.Value)},
		{"website_url", patch.WebsiteURL.Set, nullable(patch.WebsiteURL.Value)},
	}
	for _, u := range updates {
		if !u.set {
			continue
		}
		_, err := tx.ExecContext(wctx,
			`UPDATE codes SET `+u.column+` = $1 WHERE id = $2 AND owner_id = $3`,
			u.value, id, ownerID,
		)
		if err != nil {
			return nil, fmt.Errorf("%sの更新に失敗しました: %w", u.column, err)
		}
	}

	updated, err := findCode(wctx, tx, id, ownerID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return updated, nil
}

// DeleteByIDAndOwner はIDと所有者でコードを削除する。
func (r *SQLCodeRepo) DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error) {
	wctx, cancel := writeContext(ctx)
	defer cancel()

	result, err := r.db.ExecContext(wctx,
		`DELETE FROM codes WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("コードの削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ CodeRepository = (*SQLCodeRepo)(nil)
