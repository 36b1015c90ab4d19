package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ashwinyue/next-prompt/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequireAdmin(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "s3cret", AdminRole: "admin"}

	r := gin.New()
	r.GET("/admin", RequireAdmin(cfg), func(c *gin.Context) {
		sub, _ := GetSubject(c)
		c.String(http.StatusOK, sub)
	})

	sign := func(secret, role string, ttl time.Duration) string {
		token, err := SignToken(secret, "ops@example.com", role, ttl)
		require.NoError(t, err)
		return token
	}

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{name: "missing header", wantCode: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer abc", wantCode: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + sign("other", "admin", time.Hour), wantCode: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + sign("s3cret", "admin", -time.Minute), wantCode: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + sign("s3cret", "viewer", time.Hour), wantCode: http.StatusForbidden},
		{name: "admin", header: "Bearer " + sign("s3cret", "admin", time.Hour), wantCode: http.StatusOK, wantBody: "ops@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestRequireAdmin_NoSecret(t *testing.T) {
	_, err := SignToken("", "ops", "admin", time.Hour)
	require.Error(t, err)

	_, err = ParseToken("", "anything")
	require.Error(t, err)
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := gin.New()
	r.Use(RecoveryMiddleware(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := gin.New()
	r.Use(LoggingMiddleware(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/ok?x=1", "/missing", "/fail"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "/ok", entries[0].ContextMap()["path"])
	assert.Equal(t, "x=1", entries[0].ContextMap()["query"])
	assert.EqualValues(t, 200, entries[0].ContextMap()["status"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}
