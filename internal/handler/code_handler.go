package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/iceblink/internal/icon"
	"github.com/hitoshi/iceblink/internal/middleware"
	"github.com/hitoshi/iceblink/internal/model"
)

// CodeServiceInterface はコードハンドラーが必要とするサービスインターフェース。
// すべての操作は認証済みユーザーのコードに限定される。
type CodeServiceInterface interface {
	// ListCodes はユーザーの全コードを返す。
	ListCodes(ctx context.Context, userID string) ([]codeResponse, error)
	// GetCode はコードを1件取得する。他ユーザーのコードはCODE_NOT_FOUNDとなる。
	GetCode(ctx context.Context, userID, codeID string) (*codeResponse, error)
	// AddCode はコードを作成する。IDはサーバー側で生成する。
	AddCode(ctx context.Context, userID string, in model.NewCode) (*codeResponse, error)
	// EditCode は指定されたフィールドのみを更新する。
	EditCode(ctx context.Context, userID, codeID string, patch model.CodePatch) (*codeResponse, error)
	// DeleteCode はコードを削除する。
	DeleteCode(ctx context.Context, userID, codeID string) error
	// Checksum はユーザーのコード集合のチェックサムを返す。
	Checksum(ctx context.Context, userID string) (string, error)
}

// IconServiceInterface はコードのアイコン取得に必要なサービスインターフェース。
type IconServiceInterface interface {
	CodeIcon(ctx context.Context, userID, codeID string) (*icon.Icon, error)
}

// CodeHandler はコード管理のHTTPハンドラー。
type CodeHandler struct {
	service      CodeServiceInterface
	icons        IconServiceInterface
	iconCacheTTL time.Duration
}

// NewCodeHandler はCodeHandlerを生成する。
// iconCacheTTLはアイコンレスポンスのCache-Control max-ageに使用する。
func NewCodeHandler(service CodeServiceInterface, icons IconServiceInterface, iconCacheTTL time.Duration) *CodeHandler {
	return &CodeHandler{
		service:      service,
		icons:        icons,
		iconCacheTTL: iconCacheTTL,
	}
}

// codeResponse はコードのAPIレスポンス。未設定の任意項目はnullとなる。
type codeResponse struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	Content     string  `json:"content"`
	DisplayName string  `json:"display_name"`
	IconURL     *string `json:"icon_url"`
	WebsiteURL  *string `json:"website_url"`
}

// checksumResponse はGET /v1/checksum のレスポンス。
type checksumResponse struct {
	Checksum string `json:"checksum"`
}

// addCodeRequest はコード作成リクエストのボディ。
type addCodeRequest struct {
	Content     string  `json:"content"`
	DisplayName string  `json:"display_name"`
	IconURL     *string `json:"icon_url"`
	WebsiteURL  *string `json:"website_url"`
}

// optionalString は「未指定」「null」「値あり」を区別するJSONフィールド。
type optionalString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON はフィールドが存在する場合のみ呼ばれるため、呼ばれた時点でSetとする。
func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// editCodeRequest はコード部分更新リクエストのボディ。
type editCodeRequest struct {
	Content     optionalString `json:"content"`
	DisplayName optionalString `json:"display_name"`
	IconURL     optionalString `json:"icon_url"`
	WebsiteURL  optionalString `json:"website_url"`
}

// toPatch はリクエストをドメインの部分更新に変換する。
// contentとdisplay_nameはnullにできない。
func (req editCodeRequest) toPatch() (model.CodePatch, *model.APIError) {
	var patch model.CodePatch
	if req.Content.Set {
		if req.Content.Value == nil {
			return patch, model.NewInvalidRequestError("content cannot be null")
		}
		patch.Content = req.Content.Value
	}
	if req.DisplayName.Set {
		if req.DisplayName.Value == nil {
			return patch, model.NewInvalidRequestError("display_name cannot be null")
		}
		patch.DisplayName = req.DisplayName.Value
	}
	patch.IconURL = model.NullableField{Set: req.IconURL.Set, Value: req.IconURL.Value}
	patch.WebsiteURL = model.NullableField{Set: req.WebsiteURL.Set, Value: req.WebsiteURL.Value}
	return patch, nil
}

// ListCodes はユーザーのコード一覧を返す。
// GET /v1/codes
func (h *CodeHandler) ListCodes(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	codes, err := h.service.ListCodes(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if codes == nil {
		codes = []codeResponse{}
	}

	writeJSON(w, http.StatusOK, codes)
}

// AddCode はコードを作成する。
// PUT /v1/code
func (h *CodeHandler) AddCode(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req addCodeRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	created, err := h.service.AddCode(r.Context(), userID, model.NewCode{
		Content:     req.Content,
		DisplayName: req.DisplayName,
		IconURL:     req.IconURL,
		WebsiteURL:  req.WebsiteURL,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// GetCode はコードを1件返す。
// GET /v1/code/{id}
func (h *CodeHandler) GetCode(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	found, err := h.service.GetCode(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, found)
}

// EditCode はコードを部分更新する。
// PATCH /v1/code/{id}
func (h *CodeHandler) EditCode(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req editCodeRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	patch, apiErr := req.toPatch()
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	updated, err := h.service.EditCode(r.Context(), userID, chi.URLParam(r, "id"), patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteCode はコードを削除する。
// DELETE /v1/code/{id}
func (h *CodeHandler) DeleteCode(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	if err := h.service.DeleteCode(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CodeIcon はコードのアイコン画像を返す。
// GET /v1/code/{id}/icon
func (h *CodeHandler) CodeIcon(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	img, err := h.icons.CodeIcon(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(h.iconCacheTTL.Seconds())))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		slog.Warn("failed to write icon", slog.String("error", err.Error()))
	}
}

// Checksum はユーザーのコード集合のチェックサムを返す。
// GET /v1/checksum
func (h *CodeHandler) Checksum(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	sum, err := h.service.Checksum(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checksumResponse{Checksum: sum})
}
