package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/iceblink/internal/auth"
	"github.com/hitoshi/iceblink/internal/auth/authtest"
	"github.com/hitoshi/iceblink/internal/code"
	"github.com/hitoshi/iceblink/internal/database/dbtest"
	"github.com/hitoshi/iceblink/internal/icon"
	"github.com/hitoshi/iceblink/internal/metrics"
	"github.com/hitoshi/iceblink/internal/middleware"
	"github.com/hitoshi/iceblink/internal/model"
	"github.com/hitoshi/iceblink/internal/repository"
	"github.com/hitoshi/iceblink/internal/user"
)

const (
	integrationClientID    = "iceblink-client"
	integrationRedirectURL = "http://localhost:8085/v1/oauth/callback"
	integrationSecret      = "integration-secret-at-least-32-bytes!!"
)

// createIntegrationRouter は実際のサービス、SQLite、テスト用OIDCプロバイダーでルーターを構築する。
func createIntegrationRouter(t *testing.T) (http.Handler, *authtest.Provider) {
	t.Helper()

	idp := authtest.NewProvider(t, integrationClientID)
	provider, err := auth.Discover(context.Background(), auth.OIDCConfig{
		Server:            idp.Issuer(),
		ClientID:          integrationClientID,
		ClientSecret:      "client-secret",
		RedirectURL:       integrationRedirectURL,
		DiscoveryAttempts: 1,
		ExchangeTimeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("discovery failed: %v", err)
	}

	db := dbtest.NewSQLite(t)
	userRepo := repository.NewSQLUserRepo(db)
	codeRepo := repository.NewSQLCodeRepo(db)

	collector := metrics.NewCollector(prometheus.NewRegistry())

	tokens, err := auth.NewTokenService(integrationSecret, "iceblink", time.Hour, auth.NewMemoryDenylist())
	if err != nil {
		t.Fatalf("failed to create token service: %v", err)
	}

	authService := auth.NewService(provider, userRepo, tokens, collector)
	codeService := code.NewService(codeRepo)
	iconService := icon.NewService(icon.NewFetcher(nil, 2*time.Second, 1<<20), icon.NewMemoryCache(), time.Hour, collector)
	userService := user.NewService(userRepo, tokens)

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(1000))
	t.Cleanup(rateLimiter.Stop)

	meta := provider.Metadata()
	router := NewRouter(&RouterDeps{
		TokenValidator:    tokens,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		CORSAllowedOrigin: "http://localhost:8085",
		RequestTimeout:    5 * time.Second,

		AuthService: authService,
		AuthConfig: AuthHandlerConfig{
			BaseURL:             "http://localhost:8085",
			RedirectURL:         integrationRedirectURL,
			AllowedRedirectURIs: []string{integrationRedirectURL},
			SessionTTL:          tokens.TTL(),
		},

		CodeService:  NewCodeServiceAdapter(codeService),
		IconService:  NewIconServiceAdapter(codeService, iconService),
		IconCacheTTL: time.Hour,
		UserService:  userService,

		Instance: InstanceInfo{
			Version:               "test",
			BaseURL:               "http://localhost:8085",
			ClientID:              integrationClientID,
			Issuer:                meta.Issuer,
			AuthorizationEndpoint: meta.AuthorizationEndpoint,
		},
		HealthChecker: db,
	})

	return router, idp
}

// doRequest はBearerトークン付きでリクエストを実行する。tokenが空の場合は認証ヘッダーを付けない。
func doRequest(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// loginAs はPOST /v1/oauth でログインしトークンを返す。
func loginAs(t *testing.T, router http.Handler, idp *authtest.Provider, authCode, subject string) string {
	t.Helper()

	idp.RegisterCode(authCode, subject)
	w := doRequest(t, router, http.MethodPost, "/v1/oauth", "", `{"code":"`+authCode+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body = %s", subject, w.Code, w.Body.String())
	}
	var resp tokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("login %s: failed to decode: %v", subject, err)
	}
	if resp.Token == "" {
		t.Fatalf("login %s: empty token", subject)
	}
	return resp.Token
}

func decodeCodes(t *testing.T, w *httptest.ResponseRecorder) []codeResponse {
	t.Helper()
	var codes []codeResponse
	if err := json.NewDecoder(w.Body).Decode(&codes); err != nil {
		t.Fatalf("failed to decode codes: %v", err)
	}
	return codes
}

func fetchChecksum(t *testing.T, router http.Handler, token string) string {
	t.Helper()
	w := doRequest(t, router, http.MethodGet, "/v1/checksum", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("checksum: status = %d", w.Code)
	}
	var resp checksumResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("checksum: failed to decode: %v", err)
	}
	return resp.Checksum
}

// TestIntegration_CodeLifecycle はログインからコードの作成・一覧・編集・削除までを検証する。
func TestIntegration_CodeLifecycle(t *testing.T) {
	router, idp := createIntegrationRouter(t)

	// 1. 2人のユーザーがログイン
	alice := loginAs(t, router, idp, "code-alice", "alice")
	bob := loginAs(t, router, idp, "code-bob", "bob")

	// 2. コードを追加
	w := doRequest(t, router, http.MethodPut, "/v1/code", alice, `{"content":"abc","display_name":"X"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("step2: status = %d, body = %s", w.Code, w.Body.String())
	}
	var created map[string]any
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("step2: failed to decode: %v", err)
	}
	codeID, _ := created["id"].(string)
	if len(codeID) != model.CodeIDLength {
		t.Errorf("step2: id = %q, want %d characters", codeID, model.CodeIDLength)
	}
	if created["owner_id"] != "alice" {
		t.Errorf("step2: owner_id = %v, want alice", created["owner_id"])
	}
	if created["icon_url"] != nil || created["website_url"] != nil {
		t.Errorf("step2: icon_url = %v, website_url = %v, want null", created["icon_url"], created["website_url"])
	}

	// 3. 一覧に1件だけ含まれる
	w = doRequest(t, router, http.MethodGet, "/v1/codes", alice, "")
	codes := decodeCodes(t, w)
	if len(codes) != 1 || codes[0].ID != codeID || codes[0].Content != "abc" || codes[0].DisplayName != "X" {
		t.Fatalf("step3: codes = %+v", codes)
	}

	// 4. 別ユーザーからは見えない
	w = doRequest(t, router, http.MethodGet, "/v1/codes", bob, "")
	if codes := decodeCodes(t, w); len(codes) != 0 {
		t.Errorf("step4: bob sees %d codes, want 0", len(codes))
	}
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w = doRequest(t, router, method, "/v1/code/"+codeID, bob, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("step4: bob %s status = %d, want %d", method, w.Code, http.StatusNotFound)
		}
	}
	w = doRequest(t, router, http.MethodPatch, "/v1/code/"+codeID, bob, `{"content":"stolen"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("step4: bob PATCH status = %d, want %d", w.Code, http.StatusNotFound)
	}

	// 5. チェックサムは書き込みがなければ安定し、編集で変わる
	before := fetchChecksum(t, router, alice)
	if again := fetchChecksum(t, router, alice); again != before {
		t.Errorf("step5: checksum changed without writes: %s -> %s", before, again)
	}
	w = doRequest(t, router, http.MethodPatch, "/v1/code/"+codeID, alice, `{"display_name":"Y"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("step5: PATCH status = %d, body = %s", w.Code, w.Body.String())
	}
	var edited codeResponse
	json.NewDecoder(w.Body).Decode(&edited)
	if edited.DisplayName != "Y" || edited.Content != "abc" {
		t.Errorf("step5: edited = %+v", edited)
	}
	if after := fetchChecksum(t, router, alice); after == before {
		t.Error("step5: checksum should change after edit")
	}

	// 6. 削除後は取得・再削除ともにNotFound
	w = doRequest(t, router, http.MethodDelete, "/v1/code/"+codeID, alice, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("step6: DELETE status = %d", w.Code)
	}
	w = doRequest(t, router, http.MethodGet, "/v1/code/"+codeID, alice, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("step6: GET after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
	w = doRequest(t, router, http.MethodDelete, "/v1/code/"+codeID, alice, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("step6: second DELETE status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// TestIntegration_ProtectedEndpoints_RequireAuth は認証なし・改ざんトークンが一律401となることを検証する。
func TestIntegration_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router, idp := createIntegrationRouter(t)
	valid := loginAs(t, router, idp, "code-alice", "alice")
	tampered := valid[:len(valid)-2] + "xx"

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/codes"},
		{http.MethodPut, "/v1/code"},
		{http.MethodGet, "/v1/code/abc"},
		{http.MethodPatch, "/v1/code/abc"},
		{http.MethodDelete, "/v1/code/abc"},
		{http.MethodGet, "/v1/code/abc/icon"},
		{http.MethodGet, "/v1/checksum"},
		{http.MethodDelete, "/v1/user"},
		{http.MethodPost, "/v1/logout"},
	}

	for _, ep := range endpoints {
		for _, token := range []string{"", tampered, "not-a-jwt"} {
			w := doRequest(t, router, ep.method, ep.path, token, "")
			if w.Code != http.StatusUnauthorized {
				t.Errorf("%s %s (token=%q): status = %d, want %d", ep.method, ep.path, token, w.Code, http.StatusUnauthorized)
				continue
			}
			body := parseAPIErrorResponse(t, w)
			if body["code"] != model.ErrCodeUnauthorized {
				t.Errorf("%s %s: code = %q, want %q", ep.method, ep.path, body["code"], model.ErrCodeUnauthorized)
			}
		}
	}
}

// TestIntegration_LogoutAndAccountDeletion はログアウトとアカウント削除でトークンが失効することを検証する。
func TestIntegration_LogoutAndAccountDeletion(t *testing.T) {
	router, idp := createIntegrationRouter(t)

	alice := loginAs(t, router, idp, "code-alice", "alice")
	w := doRequest(t, router, http.MethodPost, "/v1/logout", alice, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout: status = %d", w.Code)
	}
	if w = doRequest(t, router, http.MethodGet, "/v1/codes", alice, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("after logout: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	bob := loginAs(t, router, idp, "code-bob", "bob")
	w = doRequest(t, router, http.MethodPut, "/v1/code", bob, `{"content":"secret","display_name":"Bank"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: status = %d", w.Code)
	}
	if w = doRequest(t, router, http.MethodDelete, "/v1/user", bob, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete account: status = %d", w.Code)
	}
	if w = doRequest(t, router, http.MethodGet, "/v1/codes", bob, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("after account deletion: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// 再ログインすると空のアカウントになる
	bobAgain := loginAs(t, router, idp, "code-bob-2", "bob")
	w = doRequest(t, router, http.MethodGet, "/v1/codes", bobAgain, "")
	if codes := decodeCodes(t, w); len(codes) != 0 {
		t.Errorf("re-created account has %d codes, want 0", len(codes))
	}
}

// TestIntegration_LoginFailures はプロバイダーのエラーがAPIエラーに変換されることを検証する。
func TestIntegration_LoginFailures(t *testing.T) {
	router, _ := createIntegrationRouter(t)

	tests := []struct {
		code       string
		wantStatus int
	}{
		{authtest.CodeRejected, http.StatusUnauthorized},
		{authtest.CodeServerError, http.StatusBadGateway},
		{authtest.CodeWrongAudience, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, "/v1/oauth", "", `{"code":"`+tt.code+`"}`)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

// TestIntegration_CookieAuth_RequiresCSRFToken はCookie認証の状態変更リクエストにCSRFトークンが必要なことを検証する。
func TestIntegration_CookieAuth_RequiresCSRFToken(t *testing.T) {
	router, idp := createIntegrationRouter(t)
	token := loginAs(t, router, idp, "code-alice", "alice")
	session := &http.Cookie{Name: auth.SessionCookieName, Value: token}

	// CSRFトークンなしのPUTは403
	req := httptest.NewRequest(http.MethodPut, "/v1/code", strings.NewReader(`{"content":"abc","display_name":"X"}`))
	req.AddCookie(session)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("without csrf: status = %d, want %d", w.Code, http.StatusForbidden)
	}

	// CSRFトークンを取得して再送
	req = httptest.NewRequest(http.MethodGet, "/v1/csrf-token", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var csrf map[string]string
	if err := json.NewDecoder(w.Body).Decode(&csrf); err != nil {
		t.Fatalf("failed to decode csrf token: %v", err)
	}
	csrfCookie := findCookie(w.Result(), "csrf_token")
	if csrfCookie == nil {
		t.Fatal("expected csrf_token cookie")
	}

	req = httptest.NewRequest(http.MethodPut, "/v1/code", strings.NewReader(`{"content":"abc","display_name":"X"}`))
	req.AddCookie(session)
	req.AddCookie(csrfCookie)
	req.Header.Set("X-CSRF-Token", csrf["token"])
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("with csrf: status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}

	// GETはCSRFトークン不要
	req = httptest.NewRequest(http.MethodGet, "/v1/codes", nil)
	req.AddCookie(session)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("cookie GET: status = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestIntegration_CodeIcon はicon_urlからアイコンを取得できることを検証する。
func TestIntegration_CodeIcon(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))
	t.Cleanup(site.Close)

	router, idp := createIntegrationRouter(t)
	alice := loginAs(t, router, idp, "code-alice", "alice")
	bob := loginAs(t, router, idp, "code-bob", "bob")

	w := doRequest(t, router, http.MethodPut, "/v1/code", alice,
		`{"content":"abc","display_name":"X","icon_url":"`+site.URL+`/icon.png"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: status = %d, body = %s", w.Code, w.Body.String())
	}
	var created codeResponse
	json.NewDecoder(w.Body).Decode(&created)

	w = doRequest(t, router, http.MethodGet, "/v1/code/"+created.ID+"/icon", alice, "")
	if w.Code != http.StatusOK {
		t.Fatalf("icon: status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if w.Body.String() != string(png) {
		t.Error("icon bytes mismatch")
	}

	// 他ユーザーのコードのアイコンは取得できない
	w = doRequest(t, router, http.MethodGet, "/v1/code/"+created.ID+"/icon", bob, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("bob icon: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// TestIntegration_PublicEndpoints は認証不要のエンドポイントを検証する。
func TestIntegration_PublicEndpoints(t *testing.T) {
	router, idp := createIntegrationRouter(t)

	w := doRequest(t, router, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("health: status = %d, want %d", w.Code, http.StatusOK)
	}

	w = doRequest(t, router, http.MethodGet, "/v1/instance", "", "")
	var info InstanceInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("instance: failed to decode: %v", err)
	}
	if info.ClientID != integrationClientID {
		t.Errorf("client_id = %q, want %q", info.ClientID, integrationClientID)
	}
	if !strings.HasPrefix(info.AuthorizationEndpoint, idp.Issuer()) {
		t.Errorf("authorization_endpoint = %q, want prefix %q", info.AuthorizationEndpoint, idp.Issuer())
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be applied")
	}

	// ブラウザフローは認可エンドポイントへリダイレクトする
	w = doRequest(t, router, http.MethodGet, "/v1/oauth/login", "", "")
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("login: status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, info.AuthorizationEndpoint) {
		t.Errorf("Location = %q, want prefix %q", loc, info.AuthorizationEndpoint)
	}
}

// TestIntegration_DisplayNameStoredVerbatim は表示名が書き換えられずに保存されることを検証する。
func TestIntegration_DisplayNameStoredVerbatim(t *testing.T) {
	router, idp := createIntegrationRouter(t)
	alice := loginAs(t, router, idp, "label-alice", "alice")

	labels := []string{
		"GitHub <me@example.com>",
		"AWS (prod) <root>",
		"a<b",
		"x &amp; y",
		"<b>Bank</b>",
	}
	for _, label := range labels {
		t.Run(label, func(t *testing.T) {
			body, err := json.Marshal(map[string]string{"content": "JBSWY3DPEHPK3PXP", "display_name": label})
			if err != nil {
				t.Fatalf("failed to marshal: %v", err)
			}
			w := doRequest(t, router, http.MethodPut, "/v1/code", alice, string(body))
			if w.Code != http.StatusCreated {
				t.Fatalf("PUT status = %d, body = %s", w.Code, w.Body.String())
			}
			var created codeResponse
			if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if created.DisplayName != label {
				t.Errorf("created display_name = %q, want %q", created.DisplayName, label)
			}

			w = doRequest(t, router, http.MethodGet, "/v1/code/"+created.ID, alice, "")
			if w.Code != http.StatusOK {
				t.Fatalf("GET status = %d", w.Code)
			}
			var got codeResponse
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if got.DisplayName != label {
				t.Errorf("stored display_name = %q, want %q", got.DisplayName, label)
			}
		})
	}
}
