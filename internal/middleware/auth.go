package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/iceblink/internal/auth"
	"github.com/hitoshi/iceblink/internal/model"
)

// reasonMissing はトークンが提示されなかった場合の拒否理由。
const reasonMissing = "missing"

// TokenValidator はセッショントークンの検証に必要なインターフェース。
// auth.TokenServiceの部分集合として定義する。
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (string, error)
}

// TokenRejectionRecorder はトークン拒否をメトリクスに記録する。
type TokenRejectionRecorder interface {
	RecordTokenRejection(reason string)
}

// NewAuthMiddleware はセッショントークンを検証し、
// 認証済みユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
//
// トークンはAuthorization: Bearerヘッダーを優先し、なければCookieから読み取る。
// 欠落・改ざん・期限切れ・失効はすべて同一の401レスポンスとなり、
// 理由はログとメトリクスにのみ残る。recorderはnilでもよい。
func NewAuthMiddleware(validator TokenValidator, recorder TokenRejectionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := extractToken(r)
			if raw == "" {
				rejectToken(w, r, recorder, reasonMissing)
				return
			}

			userID, err := validator.Validate(r.Context(), raw)
			if err != nil {
				reason := string(auth.ReasonMalformed)
				var tokenErr *auth.TokenError
				if errors.As(err, &tokenErr) {
					reason = string(tokenErr.Reason)
				}
				rejectToken(w, r, recorder, reason)
				return
			}

			ctx := contextWithAuth(r.Context(), userID, raw, source)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken はリクエストからセッショントークンを取り出す。
// Bearer以外のAuthorizationヘッダー（プロキシが付けるBasic認証など）は無視してCookieを見る。
func extractToken(r *http.Request) (string, AuthSource) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token), AuthSourceHeader
		}
	}

	cookie, err := r.Cookie(auth.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", AuthSourceNone
	}
	return cookie.Value, AuthSourceCookie
}

func rejectToken(w http.ResponseWriter, r *http.Request, recorder TokenRejectionRecorder, reason string) {
	slog.Warn("session token rejected",
		slog.String("reason", reason),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	if recorder != nil {
		recorder.RecordTokenRejection(reason)
	}
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}
