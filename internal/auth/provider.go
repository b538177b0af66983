package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/hitoshi/iceblink/internal/model"
)

// OIDCConfig はOpenID Connectプロバイダーへの接続設定。
type OIDCConfig struct {
	Server       string // issuer URL（/.well-known/openid-configuration の基点）
	ClientID     string
	ClientSecret string
	RedirectURL  string // redirect_uri未指定時の既定値

	DiscoveryTimeout  time.Duration // 1回のディスカバリー試行の上限
	DiscoveryAttempts int
	ExchangeTimeout   time.Duration

	// HTTPClient はプロバイダーとの通信に使用する。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// ProviderMetadata はディスカバリーで取得したプロバイダーのエンドポイント情報。
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

// DiscoveryError はプロバイダーのディスカバリーに失敗したことを表す。
// 起動時の設定エラーとして扱う。
type DiscoveryError struct {
	Server string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("oidc discovery failed for %s: %v", e.Server, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ExchangeErrorKind は認可コード交換の失敗種別。
type ExchangeErrorKind int

const (
	// ExchangeRejected はプロバイダーが認可コードを拒否した（ログインのやり直しで回復可能）。
	ExchangeRejected ExchangeErrorKind = iota + 1
	// ExchangeUnavailable はプロバイダーに到達できない、または5xx/タイムアウト。
	ExchangeUnavailable
	// ExchangeInvalidToken はIDトークンが欠落しているか検証に失敗した。
	ExchangeInvalidToken
)

func (k ExchangeErrorKind) String() string {
	switch k {
	case ExchangeRejected:
		return "rejected"
	case ExchangeUnavailable:
		return "unavailable"
	case ExchangeInvalidToken:
		return "invalid_token"
	default:
		return "unknown"
	}
}

// ExchangeError は認可コード交換の失敗を表す。
type ExchangeError struct {
	Kind ExchangeErrorKind
	Err  error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("oidc code exchange failed (%s): %v", e.Kind, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// OIDCProvider はディスカバリー済みのOpenID Connectプロバイダークライアント。
// 生成後はイミュータブルで、複数goroutineから安全に使用できる。
type OIDCProvider struct {
	oauth2Config    oauth2.Config
	verifier        *oidc.IDTokenVerifier
	metadata        ProviderMetadata
	httpClient      *http.Client
	exchangeTimeout time.Duration
}

// Discover はプロバイダーのメタデータを取得してOIDCProviderを生成する。
// 各試行はDiscoveryTimeoutで打ち切られ、指数バックオフでDiscoveryAttempts回まで再試行する。
// 必須エンドポイント（authorization, token, jwks）が欠けている場合は再試行しない。
func Discover(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	server := strings.TrimRight(cfg.Server, "/")
	if server == "" {
		return nil, &DiscoveryError{Server: cfg.Server, Err: errors.New("server url is required")}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.DiscoveryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.DiscoveryAttempts
	if attempts < 1 {
		attempts = 1
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	expBackoff.MaxInterval = 5 * time.Second

	operation := func() (*oidc.Provider, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		p, err := oidc.NewProvider(oidc.ClientContext(attemptCtx, httpClient), server)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	provider, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(attempts)), // #nosec G115 -- attempts >= 1
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("oidc discovery attempt failed",
				slog.String("server", server),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", next),
			)
		}),
	)
	if err != nil {
		return nil, &DiscoveryError{Server: server, Err: err}
	}

	var meta ProviderMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, &DiscoveryError{Server: server, Err: fmt.Errorf("failed to decode metadata: %w", err)}
	}
	if missing := missingEndpoints(meta); len(missing) > 0 {
		return nil, &DiscoveryError{
			Server: server,
			Err:    fmt.Errorf("metadata is missing %s", strings.Join(missing, ", ")),
		}
	}

	exchangeTimeout := cfg.ExchangeTimeout
	if exchangeTimeout <= 0 {
		exchangeTimeout = 10 * time.Second
	}

	slog.Info("oidc provider discovered",
		slog.String("issuer", meta.Issuer),
		slog.String("authorization_endpoint", meta.AuthorizationEndpoint),
	)

	return &OIDCProvider{
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier:        provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		metadata:        meta,
		httpClient:      httpClient,
		exchangeTimeout: exchangeTimeout,
	}, nil
}

func missingEndpoints(meta ProviderMetadata) []string {
	var missing []string
	if meta.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if meta.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if meta.JWKSURI == "" {
		missing = append(missing, "jwks_uri")
	}
	return missing
}

// Metadata はディスカバリー済みのメタデータを返す。
func (p *OIDCProvider) Metadata() ProviderMetadata {
	return p.metadata
}

// AuthCodeURL はブラウザを遷移させる認可URLを生成する。
// redirectURIが空の場合は設定済みの既定値を使用する。
func (p *OIDCProvider) AuthCodeURL(state, redirectURI string) string {
	cfg := p.oauth2Config
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	return cfg.AuthCodeURL(state)
}

// idTokenClaims はIDトークンから読み取るクレーム。
type idTokenClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// ExchangeCode は認可コードをトークンに交換し、IDトークンを検証して本人情報を返す。
// 失敗時は*ExchangeErrorを返す。
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*model.IdentityClaims, error) {
	ctx, cancel := context.WithTimeout(ctx, p.exchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	cfg := p.oauth2Config
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, &ExchangeError{Kind: ExchangeInvalidToken, Err: errors.New("token response has no id_token")}
	}

	idToken, err := p.verifier.Verify(oidc.ClientContext(ctx, p.httpClient), rawIDToken)
	if err != nil {
		return nil, &ExchangeError{Kind: ExchangeInvalidToken, Err: fmt.Errorf("verify id token: %w", err)}
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, &ExchangeError{Kind: ExchangeInvalidToken, Err: fmt.Errorf("read claims: %w", err)}
	}
	if claims.Subject == "" {
		return nil, &ExchangeError{Kind: ExchangeInvalidToken, Err: errors.New("id token has empty subject")}
	}

	return &model.IdentityClaims{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Issuer:  idToken.Issuer,
	}, nil
}

// classifyExchangeError はトークンエンドポイントのエラーを種別に分類する。
// 4xxはコードの拒否、それ以外（接続失敗・5xx・タイムアウト）は到達不能として扱う。
func classifyExchangeError(err error) *ExchangeError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
			return &ExchangeError{Kind: ExchangeRejected, Err: err}
		}
	}
	return &ExchangeError{Kind: ExchangeUnavailable, Err: err}
}
