// Package authtest はテスト用のOpenID Connectプロバイダーを提供する。
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// 特別な振る舞いをするテスト用の認可コード。
const (
	CodeRejected      = "bad"             // 400 invalid_grant
	CodeServerError   = "server-error"    // 503
	CodeNoIDToken     = "no-id-token"     // id_tokenなしの200
	CodeWrongAudience = "wrong-audience"  // 他クライアント宛のid_token
	CodeExpiredToken  = "expired-idtoken" // 期限切れのid_token
)

const keyID = "test-key-1"

// Provider はhttptest上で動作する最小限のOIDCプロバイダー。
// ディスカバリー、JWKS、トークンエンドポイントを提供する。
type Provider struct {
	Server   *httptest.Server
	ClientID string

	key *rsa.PrivateKey

	mu       sync.Mutex
	codes    map[string]string // 認可コード → subject
	mutateMD func(map[string]any)
	requests int
}

// NewProvider はテスト用プロバイダーを起動する。テスト終了時に停止する。
func NewProvider(t testing.TB, clientID string) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate rsa key: %v", err)
	}

	p := &Provider{
		ClientID: clientID,
		key:      key,
		codes:    make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /jwks", p.handleJWKS)
	mux.HandleFunc("POST /token", p.handleToken)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)

	return p
}

// Issuer はプロバイダーのissuer URLを返す。
func (p *Provider) Issuer() string {
	return p.Server.URL
}

// RegisterCode は認可コードとsubjectの対応を登録する。
func (p *Provider) RegisterCode(code, subject string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[code] = subject
}

// MutateMetadata はディスカバリー応答を書き換える関数を設定する。
func (p *Provider) MutateMetadata(fn func(map[string]any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutateMD = fn
}

// DiscoveryRequests はディスカバリー文書の取得回数を返す。
func (p *Provider) DiscoveryRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	base := p.Server.URL
	md := map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/token",
		"jwks_uri":                              base + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}

	p.mu.Lock()
	p.requests++
	mutate := p.mutateMD
	p.mu.Unlock()
	if mutate != nil {
		mutate(md)
	}

	writeJSON(w, http.StatusOK, md)
}

func (p *Provider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	set := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &p.key.PublicKey,
			KeyID:     keyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	}
	writeJSON(w, http.StatusOK, set)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	code := r.PostForm.Get("code")

	audience := p.ClientID
	expiresAt := time.Now().Add(time.Hour)

	switch code {
	case CodeServerError:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily_unavailable"})
		return
	case CodeNoIDToken:
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
		return
	case CodeWrongAudience:
		audience = "someone-else"
	case CodeExpiredToken:
		expiresAt = time.Now().Add(-time.Hour)
	}

	p.mu.Lock()
	subject, ok := p.codes[code]
	p.mu.Unlock()
	if code == CodeWrongAudience || code == CodeExpiredToken {
		subject, ok = "subject-"+code, true
	}
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "authorization code is invalid or expired",
		})
		return
	}

	idToken, err := p.SignIDToken(jwt.MapClaims{
		"iss":   p.Issuer(),
		"sub":   subject,
		"aud":   audience,
		"iat":   time.Now().Add(-time.Minute).Unix(),
		"exp":   expiresAt.Unix(),
		"email": subject + "@example.com",
		"name":  subject,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "access-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     idToken,
	})
}

// SignIDToken はプロバイダーの鍵でRS256署名したIDトークンを生成する。
func (p *Provider) SignIDToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	return token.SignedString(p.key)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
