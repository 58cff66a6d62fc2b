package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/playrooms/backend/internal/auth"
	"github.com/playrooms/backend/internal/config"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuthAcceptsBearerToken(t *testing.T) {
	cfg := &config.Config{JWTSecret: "testsecret"}
	r := gin.New()
	r.GET("/p", RequireAuth(cfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user": c.GetString(CtxUserID),
			"name": c.GetString(CtxUsername),
			"role": c.GetString(CtxRole),
		})
	})

	tok, err := auth.Mint("testsecret", auth.Identity{UserID: "u1", Username: "Alice", Role: auth.RolePlayer}, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"user":"u1"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRequireAuthRejectsBadTokens(t *testing.T) {
	cfg := &config.Config{JWTSecret: "testsecret"}
	r := gin.New()
	r.GET("/p", RequireAuth(cfg), func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if w := serve(r, req); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d; want 401", tc.name, w.Code)
		}
	}

	// Token signed with a different secret.
	tok, _ := auth.Mint("othersecret", auth.Identity{UserID: "u1"}, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	if w := serve(r, req); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d; want 401", w.Code)
	}
}

func TestRequireAdminChecksRole(t *testing.T) {
	cfg := &config.Config{JWTSecret: "testsecret"}
	r := gin.New()
	r.GET("/a", RequireAuth(cfg), RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })

	playerTok, _ := auth.Mint("testsecret", auth.Identity{UserID: "u1", Role: auth.RolePlayer}, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	req.Header.Set("Authorization", "Bearer "+playerTok)
	if w := serve(r, req); w.Code != http.StatusForbidden {
		t.Errorf("player token: status = %d; want 403", w.Code)
	}

	adminTok, _ := auth.Mint("testsecret", auth.Identity{UserID: "3", Username: "ops", Role: auth.RoleAdmin}, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/a", nil)
	req.Header.Set("Authorization", "Bearer "+adminTok)
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Errorf("admin token: status = %d; want 200", w.Code)
	}
}

func TestRequireAPIKey(t *testing.T) {
	key := strings.Repeat("k", 40)

	cases := []struct {
		name   string
		cfg    config.Config
		header string
		want   int
	}{
		{"enforcement off", config.Config{EnforceAPIKeyValidation: false}, "", http.StatusOK},
		{"key too short", config.Config{EnforceAPIKeyValidation: true, APIKey: "short", MinAPIKeyLength: 32}, "short", http.StatusServiceUnavailable},
		{"missing header", config.Config{EnforceAPIKeyValidation: true, APIKey: key, MinAPIKeyLength: 32}, "", http.StatusUnauthorized},
		{"wrong key", config.Config{EnforceAPIKeyValidation: true, APIKey: key, MinAPIKeyLength: 32}, strings.Repeat("x", 40), http.StatusUnauthorized},
		{"right key", config.Config{EnforceAPIKeyValidation: true, APIKey: key, MinAPIKeyLength: 32}, key, http.StatusOK},
	}
	for _, tc := range cases {
		cfg := tc.cfg
		r := gin.New()
		r.POST("/t", RequireAPIKey(&cfg), func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodPost, "/t", nil)
		if tc.header != "" {
			req.Header.Set("X-API-Key", tc.header)
		}
		if w := serve(r, req); w.Code != tc.want {
			t.Errorf("%s: status = %d; want %d", tc.name, w.Code, tc.want)
		}
	}
}

func TestRequireHTTPSOutsideDevelopment(t *testing.T) {
	cfg := &config.Config{RequireHTTPS: true, Environment: "production"}
	r := gin.New()
	r.GET("/s", RequireHTTPS(cfg), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/s", nil)
	if w := serve(r, req); w.Code != http.StatusUpgradeRequired {
		t.Errorf("plain http: status = %d; want 426", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/s", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Errorf("forwarded https: status = %d; want 200", w.Code)
	}

	dev := &config.Config{RequireHTTPS: true, Environment: "development"}
	r2 := gin.New()
	r2.GET("/s", RequireHTTPS(dev), func(c *gin.Context) { c.Status(http.StatusOK) })
	if w := serve(r2, httptest.NewRequest(http.MethodGet, "/s", nil)); w.Code != http.StatusOK {
		t.Errorf("development: status = %d; want 200", w.Code)
	}
}

func TestWebSocketCORSCheckBlocksForeignOrigins(t *testing.T) {
	cfg := &config.Config{Environment: "production", FrontendURL: "https://games.example.com"}
	r := gin.New()
	r.GET("/ws", WebSocketCORSCheck(cfg), func(c *gin.Context) { c.Status(http.StatusOK) })

	upgrade := func(origin string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	if w := serve(r, upgrade("https://evil.example.com")); w.Code != http.StatusForbidden {
		t.Errorf("foreign origin: status = %d; want 403", w.Code)
	}
	if w := serve(r, upgrade("https://games.example.com")); w.Code != http.StatusOK {
		t.Errorf("frontend origin: status = %d; want 200", w.Code)
	}
	// Non-browser clients send no Origin header at all.
	if w := serve(r, upgrade("")); w.Code != http.StatusOK {
		t.Errorf("no origin: status = %d; want 200", w.Code)
	}
}
