package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name        string
		allowed     []string
		origin      string
		method      string
		wantStatus  int
		wantOrigin  string
		wantCredits bool
	}{
		{"explicit origin", []string{"https://app.example.com"}, "https://app.example.com", http.MethodGet, http.StatusTeapot, "https://app.example.com", true},
		{"wildcard", []string{"*"}, "https://any.example.com", http.MethodPost, http.StatusTeapot, "https://any.example.com", false},
		{"disallowed origin", []string{"https://app.example.com"}, "https://evil.example.com", http.MethodGet, http.StatusTeapot, "", false},
		{"preflight", []string{"*"}, "https://any.example.com", http.MethodOptions, http.StatusNoContent, "https://any.example.com", false},
		{"no origin", []string{"*"}, "", http.MethodGet, http.StatusTeapot, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/events", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Expected allow-origin %q, got %q", tt.wantOrigin, got)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCredits {
				t.Errorf("Expected credentials %v, got %v", tt.wantCredits, got)
			}
		})
	}
}
