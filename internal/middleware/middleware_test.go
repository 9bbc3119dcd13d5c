package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestInternalAuth(t *testing.T) {
	handler := InternalAuth("s3cret")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/transactions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing secret: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/transactions", nil)
	req.Header.Set("X-Internal-Secret", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/transactions", nil)
	req.Header.Set("X-Internal-Secret", "s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid secret: status = %d, want 200", rec.Code)
	}
}

func TestGatewayIPFilter(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		remote  string
		headers map[string]string
		want    int
	}{
		{"empty allowlist admits all", nil, "203.0.113.7:1234", nil, http.StatusOK},
		{"exact match", []string{"203.0.113.7"}, "203.0.113.7:1234", nil, http.StatusOK},
		{"cidr match", []string{"203.0.113.0/24"}, "203.0.113.200:1234", nil, http.StatusOK},
		{"not allowed", []string{"203.0.113.0/24"}, "198.51.100.1:1234", nil, http.StatusForbidden},
		{"x-real-ip wins", []string{"203.0.113.7"}, "10.0.0.1:1234",
			map[string]string{"X-Real-IP": "203.0.113.7"}, http.StatusOK},
		{"first forwarded hop", []string{"203.0.113.7"}, "10.0.0.1:1234",
			map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, http.StatusOK},
		{"malformed-only allowlist fails closed", []string{"not-an-ip"}, "198.51.100.1:1234", nil, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := GatewayIPFilter(tc.allowed)(okHandler())
			req := httptest.NewRequest(http.MethodPost, "/webhook/mercadopago", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	reader := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		if _, err := r.Body.Read(buf); err != nil && !strings.Contains(err.Error(), "EOF") {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := MaxBodySize(8)(reader)

	req := httptest.NewRequest(http.MethodPost, "/webhook/mercadopago", strings.NewReader("tiny"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("small body: status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook/mercadopago", strings.NewReader(strings.Repeat("x", 100)))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: status = %d, want 413", rec.Code)
	}
}

func TestParseAllowlistMalformedEntriesDoNotWiden(t *testing.T) {
	al := parseAllowlist([]string{"bogus", "300.300.300.300", "10.0.0.0/99"})
	if al.empty() {
		t.Fatal("a configured allowlist must stay configured even if no entry parses")
	}
	if al.contains(nil) {
		t.Fatal("nothing should match when no entry parsed")
	}
}
