// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// IDはOpenID Connectプロバイダーが発行するsubjectをそのまま使用する。
type User struct {
	ID        string
	CreatedAt time.Time
}

// IdentityClaims はIDトークンの検証後に得られる本人情報を表す。
type IdentityClaims struct {
	Subject string
	Email   string
	Name    string
	Issuer  string
}
