// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"sync"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey      = contextKey("user_id")
	tokenContextKey       = contextKey("session_token")
	authSourceContextKey  = contextKey("auth_source")
	requestInfoContextKey = contextKey("request_info")
)

// AuthSource はセッショントークンをどこから受け取ったかを表す。
type AuthSource int

const (
	AuthSourceNone AuthSource = iota
	AuthSourceHeader
	AuthSourceCookie
)

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はユーザーIDを設定したコンテキストを返す。
// テストおよびハンドラーの単体検証で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// TokenFromContext は認証に使われた生のセッショントークンを返す。
// 未認証の場合は空文字列。
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// AuthSourceFromContext はトークンの受け取り元を返す。
func AuthSourceFromContext(ctx context.Context) AuthSource {
	source, _ := ctx.Value(authSourceContextKey).(AuthSource)
	return source
}

func contextWithAuth(ctx context.Context, userID, token string, source AuthSource) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	ctx = context.WithValue(ctx, tokenContextKey, token)
	ctx = context.WithValue(ctx, authSourceContextKey, source)
	if info := requestInfoFromContext(ctx); info != nil {
		info.setUserID(userID)
	}
	return ctx
}

// requestInfo は内側のミドルウェアで確定した値を外側のロギングへ渡す。
// TimeoutHandlerはハンドラーを別ゴルーチンで実行するため排他制御する。
type requestInfo struct {
	mu     sync.Mutex
	userID string
}

func (i *requestInfo) setUserID(userID string) {
	i.mu.Lock()
	i.userID = userID
	i.mu.Unlock()
}

func (i *requestInfo) getUserID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.userID
}

func requestInfoFromContext(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoContextKey).(*requestInfo)
	return info
}
