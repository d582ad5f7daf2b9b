package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dronehq/chunkup/internal/server/auth"
	"github.com/dronehq/chunkup/internal/server/upload"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testAuthService(enabled bool) *auth.AuthService {
	return auth.NewAuthService(&auth.Config{
		Enabled:            enabled,
		TokenIssuer:        "https://uploads.dronehq.io",
		AccessTokenSecret:  "access-secret",
		AccessTokenExpiry:  time.Minute,
		RefreshTokenSecret: "refresh-secret",
		RefreshTokenExpiry: time.Hour,
	})
}

// ownerEcho reports the owner seen by both the gin context and the request context.
func ownerEcho(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"gin":     GetOwner(ctx),
		"context": upload.OwnerFromContext(ctx.Request.Context()),
	})
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	svc := testAuthService(true)
	access, refresh, err := svc.IssueTokens("pilot")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/", JWTAuth(svc), ownerEcho)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid token", header: "Bearer " + access, status: http.StatusOK},
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", status: http.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + refresh, status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc.def.ghi", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			req.Header.Set("X-Owner-Id", "spoofed")

			w := serve(r, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"gin":"pilot","context":"pilot"}`, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), "E_AUTH_INVALID_CREDENTIALS")
			}
		})
	}
}

func TestJWTAuth_Disabled(t *testing.T) {
	r := gin.New()
	r.GET("/", JWTAuth(testAuthService(false)), ownerEcho)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Owner-Id", "ground-station")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"gin":"ground-station","context":"ground-station"}`, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"gin":"","context":""}`, w.Body.String())
}

func TestRateLimiter(t *testing.T) {
	_, err := RateLimiter("lots")
	require.Error(t, err)

	limiter, err := RateLimiter("2-M")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/", func(ctx *gin.Context) {
		if owner := ctx.GetHeader("X-Owner-Id"); owner != "" {
			setOwner(ctx, owner)
		}
	}, limiter, func(ctx *gin.Context) { ctx.Status(http.StatusNoContent) })

	request := func(owner string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if owner != "" {
			req.Header.Set("X-Owner-Id", owner)
		}
		return serve(r, req)
	}

	assert.Equal(t, http.StatusNoContent, request("alice").Code)
	assert.Equal(t, http.StatusNoContent, request("alice").Code)
	w := request("alice")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "E_RATE_LIMITED")
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))

	// other owners and anonymous callers have their own budget
	assert.Equal(t, http.StatusNoContent, request("bob").Code)
	assert.Equal(t, http.StatusNoContent, request("").Code)
}

func TestSecurityHeaders(t *testing.T) {
	t.Run("plain http", func(t *testing.T) {
		r := gin.New()
		r.GET("/", SecurityHeaders(false), func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

		w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
		assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
	})

	t.Run("tls redirects plain requests", func(t *testing.T) {
		r := gin.New()
		r.GET("/", SecurityHeaders(true), func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

		w := serve(r, httptest.NewRequest(http.MethodGet, "http://uploads.example/", nil))
		assert.Equal(t, http.StatusMovedPermanently, w.Code)

		req := httptest.NewRequest(http.MethodGet, "http://uploads.example/", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		w = serve(r, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=63072000")
	})
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.POST("/upload/chunk", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/upload/chunk", nil)
	req.Header.Set("Origin", "https://console.dronehq.io")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, X-Owner-Id")

	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
