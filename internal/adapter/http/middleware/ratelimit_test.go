package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"donation-payments/internal/adapter/http/middleware"
	redisStore "donation-payments/internal/adapter/storage/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newRateLimitedRouter(t *testing.T, rule middleware.RateLimitRule) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := redisStore.NewRateLimitStore(client)

	router := gin.New()
	router.GET("/test",
		middleware.RateLimiter(store, "status", rule, zerolog.Nop()),
		func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) },
	)
	return router
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	router := newRateLimitedRouter(t, middleware.RateLimitRule{Limit: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	router := newRateLimitedRouter(t, middleware.RateLimitRule{Limit: 2, Window: time.Minute})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_001")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimiter_SetsHeaders(t *testing.T) {
	router := newRateLimitedRouter(t, middleware.RateLimitRule{Limit: 5, Window: time.Minute})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}
