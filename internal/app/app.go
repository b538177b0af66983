package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/iceblink/internal/auth"
	"github.com/hitoshi/iceblink/internal/code"
	"github.com/hitoshi/iceblink/internal/config"
	"github.com/hitoshi/iceblink/internal/database"
	"github.com/hitoshi/iceblink/internal/handler"
	"github.com/hitoshi/iceblink/internal/icon"
	"github.com/hitoshi/iceblink/internal/logger"
	"github.com/hitoshi/iceblink/internal/metrics"
	"github.com/hitoshi/iceblink/internal/middleware"
	"github.com/hitoshi/iceblink/internal/repository"
	"github.com/hitoshi/iceblink/internal/security"
	"github.com/hitoshi/iceblink/internal/user"
)

// Version はビルド時に -ldflags "-X" で埋め込まれるサーバーバージョン。
var Version = "dev"

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck と version は設定を必要としないため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8085"
		}
		return runHealthcheck(port)
	case CommandVersion:
		_, err := fmt.Fprintf(w, "iceblink %s\n", Version)
		return err
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("version", Version),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// application は配線済みのHTTPハンドラーと、終了時に解放するリソースを保持する。
type application struct {
	handler http.Handler
	closers []func() error
}

// Close は保持しているリソースを生成と逆順に解放する。
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newApplication はDB、Redis、OIDCプロバイダーに接続し、全依存関係をワイヤリングする。
// OIDCディスカバリーの失敗は設定エラーとして返し、サーバーは起動しない。
func newApplication(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	a := &application{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 1. DB接続とマイグレーション
	db, dialect, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.RunMigrations(db, dialect); err != nil {
		return nil, err
	}
	slog.Info("database connection established", slog.String("dialect", string(dialect)))

	// 2. 失効リストとアイコンキャッシュ（REDIS_URL未設定ならプロセス内メモリ）
	var (
		denylist  auth.Denylist = auth.NewMemoryDenylist()
		iconCache icon.Cache    = icon.NewMemoryCache()
	)
	if cfg.RedisURL != "" {
		client, err := database.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		denylist = auth.NewRedisDenylist(client)
		iconCache = icon.NewRedisCache(client)
		slog.Info("redis connection established")
	}

	// 3. OIDCディスカバリー
	provider, err := auth.Discover(ctx, auth.OIDCConfig{
		Server:            cfg.OAuthServer,
		ClientID:          cfg.OAuthClientID,
		ClientSecret:      cfg.OAuthClientSecret,
		RedirectURL:       cfg.OAuthRedirectURL,
		DiscoveryTimeout:  cfg.DiscoveryTimeout,
		DiscoveryAttempts: cfg.DiscoveryAttempts,
		ExchangeTimeout:   cfg.ExchangeTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover identity provider: %w", err)
	}

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 5. ドメインサービスの初期化
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL, denylist)
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	userRepo := repository.NewSQLUserRepo(db)
	codeRepo := repository.NewSQLCodeRepo(db)

	authService := auth.NewService(provider, userRepo, tokens, collector)
	codeService := code.NewService(codeRepo)
	iconFetcher := icon.NewFetcher(security.NewSSRFGuard(), cfg.IconFetchTimeout, cfg.IconMaxSize)
	iconService := icon.NewService(iconFetcher, iconCache, cfg.IconCacheTTL, collector)
	userService := user.NewService(userRepo, tokens)

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral))
	a.closers = append(a.closers, func() error {
		rateLimiter.Stop()
		return nil
	})

	// 6. ルーターの構築
	meta := provider.Metadata()
	a.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		TokenValidator:    tokens,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RequestTimeout:    cfg.RequestTimeout,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:             cfg.BaseURL,
			RedirectURL:         cfg.OAuthRedirectURL,
			AllowedRedirectURIs: cfg.AllowedRedirectURIs,
			CookieDomain:        cfg.CookieDomain,
			CookieSecure:        cfg.CookieSecure,
			SessionTTL:          cfg.SessionTTL,
		},

		CodeService:  handler.NewCodeServiceAdapter(codeService),
		IconService:  handler.NewIconServiceAdapter(codeService, iconService),
		IconCacheTTL: cfg.IconCacheTTL,
		UserService:  userService,

		Instance: handler.InstanceInfo{
			Version:               Version,
			BaseURL:               cfg.BaseURL,
			ClientID:              cfg.OAuthClientID,
			Issuer:                meta.Issuer,
			AuthorizationEndpoint: meta.AuthorizationEndpoint,
		},
		HealthChecker: db,
	})

	return a, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("failed to release resources", slog.String("error", err.Error()))
		}
	}()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	db, dialect, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db, dialect); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
