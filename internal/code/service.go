// Package code はユーザーが保存するコードの管理ロジックを提供する。
//
// すべての操作は所有者IDで範囲を限定する。他ユーザーのコードは
// 存在しないコードと区別できないCODE_NOT_FOUNDとして扱う。
package code

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/iceblink/internal/model"
	"github.com/hitoshi/iceblink/internal/repository"
)

// 入力値の上限
const (
	MaxContentLength     = 4096
	MaxDisplayNameLength = 256
	MaxURLLength         = 2048
)

// maxIDAttempts はID衝突時の再生成回数の上限。
const maxIDAttempts = 5

// Service はコード管理のサービス層。
type Service struct {
	repo  repository.CodeRepository
	newID func() (string, error)
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.CodeRepository) *Service {
	return &Service{
		repo:  repo,
		newID: NewID,
	}
}

// Create はサーバー側で生成したIDでコードを作成する。
// 所有者は引数のownerIDに固定され、入力から指定することはできない。
func (s *Service) Create(ctx context.Context, ownerID string, in model.NewCode) (*model.Code, error) {
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	displayName, err := cleanDisplayName(in.DisplayName)
	if err != nil {
		return nil, err
	}
	iconURL, err := validateURL("icon_url", in.IconURL)
	if err != nil {
		return nil, err
	}
	websiteURL, err := validateURL("website_url", in.WebsiteURL)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("コードIDの生成に失敗しました: %w", err)
		}

		c := &model.Code{
			ID:          id,
			OwnerID:     ownerID,
			Content:     content,
			DisplayName: displayName,
			IconURL:     iconURL,
			WebsiteURL:  websiteURL,
		}
		err = s.repo.Create(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repository.ErrDuplicateCodeID) {
			return nil, fmt.Errorf("コードの作成に失敗しました: %w", err)
		}
		slog.Warn("code id collision, regenerating", slog.Int("attempt", attempt))
	}

	return nil, fmt.Errorf("コードIDの生成に%d回失敗しました", maxIDAttempts)
}

// List は所有者のコードを作成順で返す。
func (s *Service) List(ctx context.Context, ownerID string) ([]*model.Code, error) {
	codes, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("コード一覧の取得に失敗しました: %w", err)
	}
	return codes, nil
}

// Get はIDと所有者でコードを取得する。
func (s *Service) Get(ctx context.Context, id, ownerID string) (*model.Code, error) {
	c, err := s.repo.FindByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("コードの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewCodeNotFoundError(id)
	}
	return c, nil
}

// Edit は指定されたフィールドのみを更新する。
// 更新は1トランザクションで行われ、失敗時は何も変更されない。
// 空のパッチは現在の値をそのまま返す。
func (s *Service) Edit(ctx context.Context, id, ownerID string, patch model.CodePatch) (*model.Code, error) {
	if patch.IsEmpty() {
		return s.Get(ctx, id, ownerID)
	}

	clean, err := s.validatePatch(patch)
	if err != nil {
		return nil, err
	}

	c, err := s.repo.Update(ctx, id, ownerID, clean)
	if err != nil {
		return nil, fmt.Errorf("コードの更新に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewCodeNotFoundError(id)
	}
	return c, nil
}

// Delete はIDと所有者でコードを削除する。
func (s *Service) Delete(ctx context.Context, id, ownerID string) error {
	deleted, err := s.repo.DeleteByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		return fmt.Errorf("コードの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewCodeNotFoundError(id)
	}
	return nil
}

// Checksum は所有者のコード集合のフィンガープリントを返す。
func (s *Service) Checksum(ctx context.Context, ownerID string) (string, error) {
	codes, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("チェックサム用のコード取得に失敗しました: %w", err)
	}
	return Checksum(codes), nil
}

func (s *Service) validatePatch(patch model.CodePatch) (model.CodePatch, error) {
	var clean model.CodePatch

	if patch.Content != nil {
		content, err := validateContent(*patch.Content)
		if err != nil {
			return clean, err
		}
		clean.Content = &content
	}
	if patch.DisplayName != nil {
		name, err := cleanDisplayName(*patch.DisplayName)
		if err != nil {
			return clean, err
		}
		clean.DisplayName = &name
	}
	if patch.IconURL.Set {
		v, err := validateURL("icon_url", patch.IconURL.Value)
		if err != nil {
			return clean, err
		}
		clean.IconURL = model.NullableField{Set: true, Value: v}
	}
	if patch.WebsiteURL.Set {
		v, err := validateURL("website_url", patch.WebsiteURL.Value)
		if err != nil {
			return clean, err
		}
		clean.WebsiteURL = model.NullableField{Set: true, Value: v}
	}
	return clean, nil
}

// validateContent はcontentを不透明な値として扱い、空と長さのみ検証する。
func validateContent(content string) (string, error) {
	if content == "" {
		return "", model.NewInvalidRequestError("content は必須です")
	}
	if len(content) > MaxContentLength {
		return "", model.NewInvalidRequestError(fmt.Sprintf("content は%dバイト以内で指定してください", MaxContentLength))
	}
	return content, nil
}

// cleanDisplayName は前後の空白のみ除去する。表示名はエスケープせずそのまま保存する。
func cleanDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", model.NewInvalidRequestError("display_name は必須です")
	}
	if len(name) > MaxDisplayNameLength {
		return "", model.NewInvalidRequestError(fmt.Sprintf("display_name は%dバイト以内で指定してください", MaxDisplayNameLength))
	}
	return name, nil
}

// validateURL は任意のURLフィールドを検証する。空文字列はnullとして扱う。
func validateURL(field string, raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" {
		return nil, nil
	}
	if len(v) > MaxURLLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("%s は%dバイト以内で指定してください", field, MaxURLLength))
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("%s はhttpまたはhttpsの絶対URLで指定してください", field))
	}
	return &v, nil
}
