package handler

import (
	"context"

	"github.com/hitoshi/iceblink/internal/code"
	"github.com/hitoshi/iceblink/internal/icon"
	"github.com/hitoshi/iceblink/internal/model"
)

// CodeServiceAdapter は code.Service を CodeServiceInterface に適合させるアダプタ。
type CodeServiceAdapter struct {
	svc *code.Service
}

// NewCodeServiceAdapter はCodeServiceAdapterを生成する。
func NewCodeServiceAdapter(svc *code.Service) *CodeServiceAdapter {
	return &CodeServiceAdapter{svc: svc}
}

// ListCodes はユーザーのコード一覧をhandlerレスポンス型で返す。
func (a *CodeServiceAdapter) ListCodes(ctx context.Context, userID string) ([]codeResponse, error) {
	codes, err := a.svc.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	results := make([]codeResponse, len(codes))
	for i, c := range codes {
		results[i] = toCodeResponse(c)
	}
	return results, nil
}

// GetCode はコードを1件handlerレスポンス型で返す。
func (a *CodeServiceAdapter) GetCode(ctx context.Context, userID, codeID string) (*codeResponse, error) {
	c, err := a.svc.Get(ctx, codeID, userID)
	if err != nil {
		return nil, err
	}
	resp := toCodeResponse(c)
	return &resp, nil
}

// AddCode はコードを作成しhandlerレスポンス型で返す。
func (a *CodeServiceAdapter) AddCode(ctx context.Context, userID string, in model.NewCode) (*codeResponse, error) {
	c, err := a.svc.Create(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	resp := toCodeResponse(c)
	return &resp, nil
}

// EditCode はコードを部分更新しhandlerレスポンス型で返す。
func (a *CodeServiceAdapter) EditCode(ctx context.Context, userID, codeID string, patch model.CodePatch) (*codeResponse, error) {
	c, err := a.svc.Edit(ctx, codeID, userID, patch)
	if err != nil {
		return nil, err
	}
	resp := toCodeResponse(c)
	return &resp, nil
}

// DeleteCode はコードを削除する。
func (a *CodeServiceAdapter) DeleteCode(ctx context.Context, userID, codeID string) error {
	return a.svc.Delete(ctx, codeID, userID)
}

// Checksum はユーザーのコード集合のチェックサムを返す。
func (a *CodeServiceAdapter) Checksum(ctx context.Context, userID string) (string, error) {
	return a.svc.Checksum(ctx, userID)
}

// IconServiceAdapter は所有権を確認したうえで icon.Service からアイコンを取得するアダプタ。
type IconServiceAdapter struct {
	codes *code.Service
	icons *icon.Service
}

// NewIconServiceAdapter はIconServiceAdapterを生成する。
func NewIconServiceAdapter(codes *code.Service, icons *icon.Service) *IconServiceAdapter {
	return &IconServiceAdapter{codes: codes, icons: icons}
}

// CodeIcon はユーザーのコードに対応するアイコンを返す。
// 他ユーザーのコードはCODE_NOT_FOUNDとなる。
func (a *IconServiceAdapter) CodeIcon(ctx context.Context, userID, codeID string) (*icon.Icon, error) {
	c, err := a.codes.Get(ctx, codeID, userID)
	if err != nil {
		return nil, err
	}
	return a.icons.IconForCode(ctx, c)
}

// toCodeResponse はドメインのCodeをhandlerのレスポンス型に変換する。
func toCodeResponse(c *model.Code) codeResponse {
	return codeResponse{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		Content:     c.Content,
		DisplayName: c.DisplayName,
		IconURL:     c.IconURL,
		WebsiteURL:  c.WebsiteURL,
	}
}
