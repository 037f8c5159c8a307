package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	handler := newHandler(e, nil, false)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/up", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWSRejectsNonGET(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	handler := newHandler(e, nil, false)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ws", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestWSRequiresToken(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	handler := newHandler(e, newJWTAuthorizer("s3cret"), true)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestWSRejectsInvalidToken(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	handler := newHandler(e, newJWTAuthorizer("s3cret"), true)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAccessTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if token := accessTokenFromRequest(req); token != "" {
		t.Fatalf("token = %q, want empty", token)
	}

	req.Header.Set("Authorization", "Bearer abc123")
	if token := accessTokenFromRequest(req); token != "abc123" {
		t.Fatalf("token = %q, want abc123", token)
	}

	cookieReq := httptest.NewRequest(http.MethodGet, "/ws", nil)
	cookieReq.AddCookie(&http.Cookie{Name: tokenCookieName, Value: "xyz789"})
	if token := accessTokenFromRequest(cookieReq); token != "xyz789" {
		t.Fatalf("token = %q, want xyz789", token)
	}
}
