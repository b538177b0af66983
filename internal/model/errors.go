// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, code, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized               = "UNAUTHORIZED"
	ErrCodeInvalidRequest             = "INVALID_REQUEST"
	ErrCodeCodeNotFound               = "CODE_NOT_FOUND"
	ErrCodeIconNotFound               = "ICON_NOT_FOUND"
	ErrCodeUserNotFound               = "USER_NOT_FOUND"
	ErrCodeLoginFailed                = "LOGIN_FAILED"
	ErrCodeProviderUnavailable        = "PROVIDER_UNAVAILABLE"
	ErrCodeIdentityVerificationFailed = "IDENTITY_VERIFICATION_FAILED"
	ErrCodeInternal                   = "INTERNAL_ERROR"
	ErrCodeTimeout                    = "TIMEOUT"
	ErrCodeRateLimited                = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFInvalid                = "CSRF_TOKEN_INVALID"
)

// NewUnauthorizedError は認証エラーを生成する。
// トークンの欠落・改ざん・期限切れを区別しない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト内容の検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewCodeNotFoundError はコード未検出エラーを生成する。
// 他ユーザーのコードに対しても同じエラーを返し、存在を漏らさない。
func NewCodeNotFoundError(codeID string) *APIError {
	return &APIError{
		Code:     ErrCodeCodeNotFound,
		Message:  fmt.Sprintf("指定されたコードが見つかりません: %s", codeID),
		Category: "code",
		Action:   "コード一覧を再取得してください。",
	}
}

// NewIconNotFoundError はアイコンを取得できなかった場合のエラーを生成する。
func NewIconNotFoundError(codeID string) *APIError {
	return &APIError{
		Code:     ErrCodeIconNotFound,
		Message:  fmt.Sprintf("コードのアイコンを取得できませんでした: %s", codeID),
		Category: "code",
		Action:   "icon_url または website_url を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewLoginFailedError はプロバイダーが認可コードを拒否した場合のエラーを生成する。
func NewLoginFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  "ログインに失敗しました。",
		Category: "auth",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewProviderUnavailableError はIDプロバイダーに到達できない場合のエラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "認証プロバイダーに接続できませんでした。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewIdentityVerificationFailedError はIDトークンの検証に失敗した場合のエラーを生成する。
func NewIdentityVerificationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityVerificationFailed,
		Message:  "認証プロバイダーの応答を検証できませんでした。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewTimeoutError はリクエストが制限時間を超えた場合のエラーを生成する。
func NewTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeTimeout,
		Message:  "リクエストがタイムアウトしました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
