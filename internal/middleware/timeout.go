package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/iceblink/internal/model"
)

// NewTimeoutMiddleware はリクエスト全体の処理時間を制限するミドルウェアを返す。
// 制限を超えた場合は503とTIMEOUTエラーボディを返す。
func NewTimeoutMiddleware(timeout time.Duration) func(next http.Handler) http.Handler {
	body, _ := json.Marshal(NewErrorResponseBody(model.NewTimeoutError()))
	return func(next http.Handler) http.Handler {
		th := http.TimeoutHandler(next, timeout, string(body))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// TimeoutHandlerはタイムアウト時にContent-Typeを設定しないため先に付与する。
			// ハンドラーが完了した場合はハンドラー側のヘッダーで上書きされる。
			w.Header().Set("Content-Type", "application/json")
			th.ServeHTTP(w, r)
		})
	}
}
