// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/hitoshi/iceblink/internal/auth"
	"github.com/hitoshi/iceblink/internal/middleware"
	"github.com/hitoshi/iceblink/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state, redirectURI string) string
	Login(ctx context.Context, code, redirectURI string) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL             string
	RedirectURL         string   // ブラウザフローのコールバックURL
	AllowedRedirectURIs []string // POST /v1/oauth で受け付けるredirect_uri
	CookieDomain        string
	CookieSecure        bool
	SessionTTL          time.Duration
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// oauthRequest はPOST /v1/oauth のリクエストボディ。
type oauthRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// tokenResponse はログイン成功時のレスポンス。
type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OAuthLogin はクライアントが取得した認可コードでログインを完了する。
// POST /v1/oauth
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req oauthRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if req.Code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("code is required"))
		return
	}
	if req.RedirectURI == "" {
		req.RedirectURI = h.config.RedirectURL
	}
	if !slices.Contains(h.config.AllowedRedirectURIs, req.RedirectURI) {
		slog.Warn("redirect_uri not allowed", slog.String("redirect_uri", req.RedirectURI))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("redirect_uri is not allowed"))
		return
	}

	result, err := h.service.Login(r.Context(), req.Code, req.RedirectURI)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, result.Token)
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt.UTC(),
	})
}

// Login はブラウザ向けのOAuthフローを開始する。
// GET /v1/oauth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	url := h.service.GetLoginURL(state, h.config.RedirectURL)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback はブラウザ向けOAuthフローのコールバックを処理する。
// GET /v1/oauth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid state parameter"))
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("missing authorization code"))
		return
	}

	// 3. 認証処理
	result, err := h.service.Login(r.Context(), code, h.config.RedirectURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 4. セッションCookieを設定してフロントエンドにリダイレクト
	h.setSessionCookie(w, result.Token)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout は提示されたセッショントークンを失効させる。
// POST /v1/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromContext(r.Context())
	if token == "" {
		writeUnauthorized(w)
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}

	clearSessionCookie(w, h.config.CookieDomain, h.config.CookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.config.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func clearSessionCookie(w http.ResponseWriter, domain string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
