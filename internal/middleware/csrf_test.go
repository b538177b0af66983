package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/iceblink/internal/model"
)

func cookieAuthenticated(r *http.Request) *http.Request {
	return r.WithContext(contextWithAuth(r.Context(), "user-1", "cookie-token", AuthSourceCookie))
}

func TestCSRFMiddleware_BearerAuthenticatedPOST_SkipsCheck(t *testing.T) {
	mw := NewCSRFMiddleware(CSRFConfig{})

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/logout", nil)
	req = req.WithContext(contextWithAuth(req.Context(), "user-1", "header-token", AuthSourceHeader))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !handlerCalled {
		t.Fatal("handler should be called for header-authenticated request")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestCSRFMiddleware_CookieAuthenticatedGET_SetsCookie(t *testing.T) {
	mw := NewCSRFMiddleware(CSRFConfig{CookieSecure: true})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := cookieAuthenticated(httptest.NewRequest(http.MethodGet, "/v1/codes", nil))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var found *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			found = c
		}
	}
	if found == nil {
		t.Fatal("expected CSRF cookie to be set")
	}
	if len(found.Value) != 64 {
		t.Errorf("token length = %d, want 64", len(found.Value))
	}
	if found.HttpOnly {
		t.Error("CSRF cookie must be readable by scripts")
	}
	if !found.Secure {
		t.Error("CSRF cookie should be Secure when configured")
	}
}

func TestCSRFMiddleware_CookieAuthenticatedGET_ExistingCookie_DoesNotReplace(t *testing.T) {
	mw := NewCSRFMiddleware(CSRFConfig{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := cookieAuthenticated(httptest.NewRequest(http.MethodGet, "/v1/codes", nil))
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			t.Errorf("CSRF cookie should not be replaced, got %q", c.Value)
		}
	}
}

func TestCSRFMiddleware_CookieAuthenticatedStateChange(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		cookie     string
		header     string
		wantStatus int
	}{
		{"no cookie", http.MethodPost, "", "token", http.StatusForbidden},
		{"no header", http.MethodPut, "token", "", http.StatusForbidden},
		{"mismatch", http.MethodPatch, "token-a", "token-b", http.StatusForbidden},
		{"valid delete", http.MethodDelete, "token", "token", http.StatusOK},
		{"valid post", http.MethodPost, "token", "token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewCSRFMiddleware(CSRFConfig{})
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := cookieAuthenticated(httptest.NewRequest(tt.method, "/v1/code/abc", nil))
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode body: %v", err)
				}
				if body.Code != model.ErrCodeCSRFInvalid {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCSRFInvalid)
				}
			}
		})
	}
}

func TestCSRFTokenHandler_SetsTokenCookieAndReturnsJSON(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{CookieDomain: "example.com"})

	req := httptest.NewRequest(http.MethodGet, "/v1/csrf-token", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["token"] == "" {
		t.Fatal("expected token in body")
	}

	var cookieValue string
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			cookieValue = c.Value
		}
	}
	if cookieValue != body["token"] {
		t.Errorf("cookie = %q, body token = %q, want equal", cookieValue, body["token"])
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["token"] != "existing-token" {
		t.Errorf("token = %q, want %q", body["token"], "existing-token")
	}
}
