// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/iceblink/internal/model"
)

// ErrDuplicateCodeID はコードIDの一意制約違反を表す。
// 呼び出し側はIDを再生成して再試行する。
var ErrDuplicateCodeID = errors.New("duplicate code id")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Upsert は指定IDのユーザーが存在しなければ作成し、現在の行を返す。
	Upsert(ctx context.Context, id string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// DeleteWithCodes はユーザーと所有する全コードを同一トランザクションで削除する。
	// ユーザーが存在しなかった場合はfalseを返す。
	DeleteWithCodes(ctx context.Context, id string) (bool, error)
}

// CodeRepository はコードデータの永続化インターフェース。
// 読み取り・更新・削除はすべてidとowner_idの両方をクエリ条件に含める。
type CodeRepository interface {
	// Create はコードを作成する。IDが重複した場合はErrDuplicateCodeIDを返す。
	Create(ctx context.Context, code *model.Code) error

	// ListByOwner は所有者のコード一覧を作成順で返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Code, error)

	// FindByIDAndOwner はIDと所有者でコードを取得する。見つからない場合はnilを返す。
	FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.Code, error)

	// Update は指定されたフィールドのみを同一トランザクションで更新し、更新後の行を返す。
	// 見つからない場合はnilを返す。
	Update(ctx context.Context, id, ownerID string, patch model.CodePatch) (*model.Code, error)

	// DeleteByIDAndOwner はIDと所有者でコードを削除する。
	// 該当行がなかった場合はfalseを返す。
	DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error)
}
