// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/iceblink/internal/model"
	"github.com/hitoshi/iceblink/internal/repository"
)

// TokenRevoker はセッショントークンの失効インターフェース。
// auth.TokenServiceの部分集合として定義する。
type TokenRevoker interface {
	Revoke(ctx context.Context, raw string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	revoker  TokenRevoker
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, revoker TokenRevoker) *Service {
	return &Service{
		userRepo: userRepo,
		revoker:  revoker,
	}
}

// DeleteAccount はユーザーと所有する全コードを1トランザクションで削除し、
// リクエストに使われたトークンを失効させる。
// ユーザーが存在しない場合はUSER_NOT_FOUNDを返す。
// 削除後の失効に失敗してもアカウントは既に消えているため、ログに残して成功とする。
func (s *Service) DeleteAccount(ctx context.Context, userID, token string) error {
	slog.Info("退会処理を開始します", slog.String("user_id", userID))

	deleted, err := s.userRepo.DeleteWithCodes(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewUserNotFoundError()
	}

	if s.revoker != nil && token != "" {
		if err := s.revoker.Revoke(ctx, token); err != nil {
			slog.Warn("退会後のトークン失効に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("退会処理が完了しました", slog.String("user_id", userID))
	return nil
}
