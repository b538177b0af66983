// Package auth はOpenID Connectによるログインとセッショントークン管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/iceblink/internal/model"
	"github.com/hitoshi/iceblink/internal/repository"
)

// IdentityProvider は外部IdPとの認可コード交換のインターフェース。
type IdentityProvider interface {
	// AuthCodeURL はブラウザを遷移させる認可URLを生成する。
	AuthCodeURL(state, redirectURI string) string
	// ExchangeCode は認可コードを検証済みの本人情報に交換する。
	ExchangeCode(ctx context.Context, code, redirectURI string) (*model.IdentityClaims, error)
}

// LoginRecorder はログイン結果を記録する。metrics.Collectorが実装する。
type LoginRecorder interface {
	RecordLogin(result string)
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Service はログインとログアウトのビジネスロジックを提供する。
type Service struct {
	provider IdentityProvider
	userRepo repository.UserRepository
	tokens   *TokenService
	recorder LoginRecorder
}

// NewService はServiceを生成する。recorderはnil可。
func NewService(
	provider IdentityProvider,
	userRepo repository.UserRepository,
	tokens *TokenService,
	recorder LoginRecorder,
) *Service {
	return &Service{
		provider: provider,
		userRepo: userRepo,
		tokens:   tokens,
		recorder: recorder,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state, redirectURI string) string {
	return s.provider.AuthCodeURL(state, redirectURI)
}

// Login は認可コードを交換し、初回ログインならユーザーを作成してセッショントークンを発行する。
// プロバイダー起因の失敗はAPIErrorに変換して返す。
func (s *Service) Login(ctx context.Context, code, redirectURI string) (*LoginResult, error) {
	if code == "" {
		return nil, model.NewInvalidRequestError("code is required")
	}

	// 1. 認可コードを本人情報に交換
	claims, err := s.provider.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, s.handleExchangeError(err)
	}

	// 2. ユーザーを作成（既存なら何もしない）
	user, err := s.userRepo.Upsert(ctx, claims.Subject)
	if err != nil {
		s.record("error")
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 3. セッショントークンを発行
	token, err := s.tokens.Mint(user.ID)
	if err != nil {
		s.record("error")
		return nil, fmt.Errorf("failed to mint session token: %w", err)
	}

	s.record("success")
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("issuer", claims.Issuer),
	)

	return &LoginResult{
		UserID:    user.ID,
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// handleExchangeError は交換エラーの種別をログに残し、クライアント向けエラーに変換する。
func (s *Service) handleExchangeError(err error) error {
	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		s.record("error")
		return fmt.Errorf("failed to exchange code: %w", err)
	}

	s.record(exErr.Kind.String())
	switch exErr.Kind {
	case ExchangeRejected:
		slog.Warn("authorization code rejected by provider", slog.String("error", exErr.Error()))
		return model.NewLoginFailedError()
	case ExchangeInvalidToken:
		// 設定不備または攻撃の可能性があるためerrorで記録する
		slog.Error("id token verification failed", slog.String("error", exErr.Error()))
		return model.NewIdentityVerificationFailedError()
	default:
		slog.Error("identity provider unavailable", slog.String("error", exErr.Error()))
		return model.NewProviderUnavailableError()
	}
}

// Logout はセッショントークンを失効させる。
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.tokens.Revoke(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	slog.Info("user logged out")
	return nil
}

func (s *Service) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordLogin(result)
	}
}
