// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果ラベル
const (
	LoginSuccess      = "success"
	LoginRejected     = "rejected"
	LoginUnavailable  = "unavailable"
	LoginInvalidToken = "invalid_token"
	LoginError        = "error"
)

// アイコン取得結果ラベル
const (
	IconCacheHit = "cache_hit"
	IconFetched  = "fetched"
	IconNotFound = "not_found"
	IconBlocked  = "blocked"
)

// Collector はPrometheusメトリクスを収集する実装。
// auth.LoginRecorder、middleware.TokenRejectionRecorder、icon.Recorderを満たす。
type Collector struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	logins          *prometheus.CounterVec
	tokenRejections *prometheus.CounterVec
	iconFetches     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTPリクエストの合計数",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_requests_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iceblink_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		tokenRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iceblink_token_rejections_total",
			Help: "理由別のセッショントークン拒否数",
		}, []string{"reason"}),
		iconFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iceblink_icon_fetch_total",
			Help: "結果別のアイコン取得数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.requests,
		c.requestDuration,
		c.logins,
		c.tokenRejections,
		c.iconFetches,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordTokenRejection はセッショントークンの拒否理由を記録する。
func (c *Collector) RecordTokenRejection(reason string) {
	c.tokenRejections.WithLabelValues(reason).Inc()
}

// RecordIconFetch はアイコン取得の結果を記録する。
func (c *Collector) RecordIconFetch(result string) {
	c.iconFetches.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
