package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionCookieName はセッショントークンを運ぶCookie名。
const SessionCookieName = "iceblink_jwt"

// minSecretLength はHS256署名鍵の最小バイト長。
const minSecretLength = 32

// TokenReason はセッショントークンの検証失敗理由。
// 呼び出し側はすべて同一に扱い、ログとメトリクスにのみ使用する。
type TokenReason string

const (
	ReasonMalformed TokenReason = "malformed"
	ReasonSignature TokenReason = "signature"
	ReasonExpired   TokenReason = "expired"
	ReasonRevoked   TokenReason = "revoked"
)

// TokenError はセッショントークンの検証失敗を表す。
type TokenError struct {
	Reason TokenReason
	Err    error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("invalid session token (%s): %v", e.Reason, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// SessionToken は発行済みのセッショントークン。サーバー側には保存しない。
type SessionToken struct {
	Value     string
	ID        string // jti
	UserID    string
	ExpiresAt time.Time
}

// TokenService はHS256署名のステートレスなセッショントークンを発行・検証する。
type TokenService struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	denylist Denylist
	now      func() time.Time
}

// NewTokenService はTokenServiceを生成する。
// 署名鍵が32バイト未満の場合は設定エラーを返す。denylistはnil可（失効機能なし）。
func NewTokenService(secret, issuer string, ttl time.Duration, denylist Denylist) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	return &TokenService{
		secret:   []byte(secret),
		issuer:   issuer,
		ttl:      ttl,
		denylist: denylist,
		now:      time.Now,
	}, nil
}

// TTL はトークンの有効期間を返す。
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Mint は指定ユーザーのセッショントークンを発行する。
func (s *TokenService) Mint(userID string) (*SessionToken, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	jti := uuid.NewString()

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        jti,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &SessionToken{
		Value:     signed,
		ID:        jti,
		UserID:    userID,
		ExpiresAt: time.Unix(expiresAt.Unix(), 0),
	}, nil
}

// parse は署名・アルゴリズム・発行者・有効期限・構造を検証してクレームを返す。
func (s *TokenService) parse(raw string) (*jwt.RegisteredClaims, error) {
	if raw == "" {
		return nil, &TokenError{Reason: ReasonMalformed, Err: errors.New("empty token")}
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, &TokenError{Reason: classifyJWTError(err), Err: err}
	}

	if claims.Subject == "" {
		return nil, &TokenError{Reason: ReasonMalformed, Err: errors.New("missing subject")}
	}
	if claims.ID == "" {
		return nil, &TokenError{Reason: ReasonMalformed, Err: errors.New("missing token id")}
	}
	return claims, nil
}

func classifyJWTError(err error) TokenReason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonSignature
	default:
		return ReasonMalformed
	}
}

// Validate はトークンを検証し、ユーザーIDを返す。
// 失効リストの参照に失敗した場合は安全側に倒して拒否する。
func (s *TokenService) Validate(ctx context.Context, raw string) (string, error) {
	claims, err := s.parse(raw)
	if err != nil {
		return "", err
	}

	if s.denylist != nil {
		revoked, err := s.denylist.Contains(ctx, claims.ID)
		if err != nil {
			return "", &TokenError{Reason: ReasonRevoked, Err: fmt.Errorf("denylist lookup failed: %w", err)}
		}
		if revoked {
			return "", &TokenError{Reason: ReasonRevoked, Err: errors.New("token has been revoked")}
		}
	}

	return claims.Subject, nil
}

// Revoke はトークンを有効期限まで失効リストに登録する。
// 失効リストが未設定の場合は何もしない。
func (s *TokenService) Revoke(ctx context.Context, raw string) error {
	if s.denylist == nil {
		return nil
	}

	claims, err := s.parse(raw)
	if err != nil {
		return err
	}

	if err := s.denylist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("failed to revoke session token: %w", err)
	}
	return nil
}
