// Package model はドメインモデルを定義する。
package model

// CodeIDLength はサーバー側で生成するコードIDの文字数。
const CodeIDLength = 16

// Code はユーザーが保存する認証コード（TOTP等）のエントリを表す。
// OwnerIDは作成後に変更されない。
type Code struct {
	ID          string
	OwnerID     string
	Content     string  // シークレットまたはotpauth URI（このレイヤーでは不透明な文字列）
	DisplayName string
	IconURL     *string // nil は未設定
	WebsiteURL  *string // nil は未設定
}

// NewCode はコード作成時の入力値を表す。
// IDとOwnerIDは含まない（サーバー側で決定する）。
type NewCode struct {
	Content     string
	DisplayName string
	IconURL     *string
	WebsiteURL  *string
}

// NullableField はnull許容カラムの部分更新値を表す。
// Set=falseは未指定、Set=trueかつValue=nilはnullへの更新を意味する。
type NullableField struct {
	Set   bool
	Value *string
}

// CodePatch はコードの部分更新を表す。
// 未指定のフィールドは変更しない。
type CodePatch struct {
	Content     *string
	DisplayName *string
	IconURL     NullableField
	WebsiteURL  NullableField
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (p CodePatch) IsEmpty() bool {
	return p.Content == nil && p.DisplayName == nil && !p.IconURL.Set && !p.WebsiteURL.Set
}
