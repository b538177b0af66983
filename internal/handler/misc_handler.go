package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout はヘルスチェック時のDB疎通確認の制限時間。
const healthCheckTimeout = 2 * time.Second

// Pinger はデータベースの疎通確認インターフェース。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// InstanceInfo はクライアントがOAuthフローを開始するためのインスタンス情報。
type InstanceInfo struct {
	Version               string `json:"version"`
	BaseURL               string `json:"base_url"`
	ClientID              string `json:"client_id"`
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
}

// MiscHandler は認証不要の補助エンドポイントのHTTPハンドラー。
type MiscHandler struct {
	instance InstanceInfo
	db       Pinger
}

// NewMiscHandler はMiscHandlerを生成する。dbがnilの場合はDB疎通確認を行わない。
func NewMiscHandler(instance InstanceInfo, db Pinger) *MiscHandler {
	return &MiscHandler{
		instance: instance,
		db:       db,
	}
}

// Instance はインスタンス情報を返す。
// GET /v1/instance
func (h *MiscHandler) Instance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.instance)
}

// Health はプロセスの生存とDB疎通を返す。
// GET /health
func (h *MiscHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
