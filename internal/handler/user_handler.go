package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/iceblink/internal/middleware"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// DeleteAccount はユーザーと全コードを削除し、提示されたトークンを失効させる。
	DeleteAccount(ctx context.Context, userID, token string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service      UserServiceInterface
	cookieDomain string
	cookieSecure bool
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, cookieDomain string, cookieSecure bool) *UserHandler {
	return &UserHandler{
		service:      service,
		cookieDomain: cookieDomain,
		cookieSecure: cookieSecure,
	}
}

// DeleteAccount はアカウントを削除する。
// DELETE /v1/user
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	if err := h.service.DeleteAccount(r.Context(), userID, middleware.TokenFromContext(r.Context())); err != nil {
		handleServiceError(w, err)
		return
	}

	clearSessionCookie(w, h.cookieDomain, h.cookieSecure)
	w.WriteHeader(http.StatusNoContent)
}
