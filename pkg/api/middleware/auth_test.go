package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuth_Disabled(t *testing.T) {
	handler := Auth(false, "secret", nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/services", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuth_MissingKey(t *testing.T) {
	handler := Auth(true, "secret", nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/services", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuth_HeaderKey(t *testing.T) {
	handler := Auth(true, "secret", nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/services", nil)
	req.Header.Set(apiKeyHeader, "secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuth_QueryParamKey(t *testing.T) {
	handler := Auth(true, "secret", nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/services?api_key=secret", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuth_WrongKey(t *testing.T) {
	handler := Auth(true, "secret", nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/services", nil)
	req.Header.Set(apiKeyHeader, "wrong")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuth_PublicPathBypass(t *testing.T) {
	handler := Auth(true, "secret", []string{"/health", "/ready"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuth_MissingKey_ErrorBody(t *testing.T) {
	handler := Auth(true, "secret", nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/services", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var body struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != "AUTH_001" {
		t.Errorf("code = %q, want AUTH_001", body.Code)
	}
	if body.Message != "API key authentication required" {
		t.Errorf("message = %q, want %q", body.Message, "API key authentication required")
	}
	if body.Details["remote_address"] != "203.0.113.5:54321" {
		t.Errorf("details.remote_address = %v, want %v", body.Details["remote_address"], req.RemoteAddr)
	}
	if body.Details["hint"] == "" || body.Details["hint"] == nil {
		t.Error("expected non-empty details.hint")
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
