package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/iceblink/internal/metrics"
	"github.com/hitoshi/iceblink/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	TokenValidator    middleware.TokenValidator
	RateLimiter       *middleware.RateLimiter
	Metrics           *metrics.Collector // nil可
	MetricsHandler    http.Handler       // nilの場合 /metrics を公開しない
	CORSAllowedOrigin string
	RequestTimeout    time.Duration

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// コード
	CodeService  CodeServiceInterface
	IconService  IconServiceInterface
	IconCacheTTL time.Duration

	// ユーザー
	UserService UserServiceInterface

	// その他
	Instance      InstanceInfo
	HealthChecker Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → Metrics → Timeout
//	  └ 認証が必要なルート: Auth → CSRF → RateLimit
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	var rejections middleware.TokenRejectionRecorder
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
		rejections = deps.Metrics
	}
	if deps.RequestTimeout > 0 {
		r.Use(middleware.NewTimeoutMiddleware(deps.RequestTimeout))
	}

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.AuthConfig.CookieSecure,
		CookieDomain: deps.AuthConfig.CookieDomain,
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	codeHandler := NewCodeHandler(deps.CodeService, deps.IconService, deps.IconCacheTTL)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig.CookieDomain, deps.AuthConfig.CookieSecure)
	miscHandler := NewMiscHandler(deps.Instance, deps.HealthChecker)

	// --- 認証不要のルート ---
	r.Get("/health", miscHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// OAuthフロー
		r.Post("/oauth", authHandler.OAuthLogin)
		r.Get("/oauth/login", authHandler.Login)
		r.Get("/oauth/callback", authHandler.Callback)

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))
		r.Get("/instance", miscHandler.Instance)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.TokenValidator, rejections))
			r.Use(middleware.NewCSRFMiddleware(csrfConfig))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}

			r.Post("/logout", authHandler.Logout)

			// コード管理
			r.Get("/codes", codeHandler.ListCodes)
			r.Put("/code", codeHandler.AddCode)
			r.Route("/code/{id}", func(r chi.Router) {
				r.Get("/", codeHandler.GetCode)
				r.Patch("/", codeHandler.EditCode)
				r.Delete("/", codeHandler.DeleteCode)
				r.Get("/icon", codeHandler.CodeIcon)
			})
			r.Get("/checksum", codeHandler.Checksum)

			// ユーザー管理
			r.Delete("/user", userHandler.DeleteAccount)
		})
	})

	return r
}
