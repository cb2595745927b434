package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name        string
		cfg         CORSConfig
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		wantCreds   bool
		wantMethods bool
	}{
		{name: "no origin", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "any origin", method: http.MethodGet, origin: "https://shop.example", wantStatus: http.StatusOK, wantOrigin: "*"},
		{
			name:   "listed origin is echoed case-insensitively",
			cfg:    CORSConfig{AllowOrigins: []string{"https://Shop.example"}},
			method: http.MethodGet, origin: "https://shop.example",
			wantStatus: http.StatusOK, wantOrigin: "https://Shop.example",
		},
		{
			name:   "unlisted origin",
			cfg:    CORSConfig{AllowOrigins: []string{"https://shop.example"}},
			method: http.MethodGet, origin: "https://evil.example",
			wantStatus: http.StatusOK,
		},
		{
			name:   "credentials with wildcard echo origin",
			cfg:    CORSConfig{AllowCredentials: true},
			method: http.MethodGet, origin: "https://shop.example",
			wantStatus: http.StatusOK, wantOrigin: "https://shop.example", wantCreds: true,
		},
		{
			name:   "preflight",
			cfg:    CORSConfig{MaxAge: 600},
			method: http.MethodOptions, origin: "https://shop.example", preflight: true,
			wantStatus: http.StatusNoContent, wantOrigin: "*", wantMethods: true,
		},
		{
			name:   "preflight from unlisted origin",
			cfg:    CORSConfig{AllowOrigins: []string{"https://shop.example"}},
			method: http.MethodOptions, origin: "https://evil.example", preflight: true,
			wantStatus: http.StatusNoContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/orders", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			CORS(tt.cfg)(ok).ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, rec.Header().Get("Access-Control-Allow-Credentials") == "true")
			assert.Equal(t, tt.wantMethods, rec.Header().Get("Access-Control-Allow-Methods") != "")
			if tt.wantMethods {
				assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
			}
			assert.Contains(t, rec.Header().Values("Vary"), "Origin")
		})
	}
}
