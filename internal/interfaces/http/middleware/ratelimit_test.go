package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/fiscal/internal/interfaces/http/dto"
)

func newTestLimiter(t *testing.T, limit int, period time.Duration) *RateLimiter {
	t.Helper()
	limiter := NewRateLimiter(limit, period)
	t.Cleanup(limiter.Stop)
	return limiter
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows requests within limit", func(t *testing.T) {
		limiter := newTestLimiter(t, 5, time.Minute)
		for i := 0; i < 5; i++ {
			assert.True(t, limiter.Allow("actor:a"), "request %d should be allowed", i+1)
		}
		assert.False(t, limiter.Allow("actor:a"))
	})

	t.Run("separate limits per key", func(t *testing.T) {
		limiter := newTestLimiter(t, 2, time.Minute)
		assert.True(t, limiter.Allow("actor:a"))
		assert.True(t, limiter.Allow("actor:a"))
		assert.False(t, limiter.Allow("actor:a"))
		assert.True(t, limiter.Allow("actor:b"))
	})

	t.Run("window resets", func(t *testing.T) {
		limiter := newTestLimiter(t, 1, time.Minute)
		now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		limiter.now = func() time.Time { return now }

		assert.True(t, limiter.Allow("k"))
		assert.False(t, limiter.Allow("k"))
		assert.Equal(t, 0, limiter.Remaining("k"))

		now = now.Add(time.Minute)
		assert.Equal(t, 1, limiter.Remaining("k"))
		assert.True(t, limiter.Allow("k"))
	})

	t.Run("zero limit rejects everything", func(t *testing.T) {
		limiter := newTestLimiter(t, 0, time.Minute)
		assert.False(t, limiter.Allow("k"))
	})

	t.Run("concurrent access admits exactly the limit", func(t *testing.T) {
		limiter := newTestLimiter(t, 100, time.Minute)
		var allowed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 150; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if limiter.Allow("shared") {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(100), allowed.Load())
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		limiter := NewRateLimiter(1, time.Millisecond)
		limiter.Stop()
		assert.NotPanics(t, limiter.Stop)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	newRouter := func(limiter *RateLimiter) *gin.Engine {
		router := gin.New()
		router.Use(RequestID(), func(c *gin.Context) {
			if actor := c.GetHeader(ActorIDHeader); actor != "" {
				c.Set(ActorIDKey, actor)
			}
			c.Next()
		}, RateLimit(limiter))
		router.POST("/invoices", func(c *gin.Context) {
			c.Status(http.StatusCreated)
		})
		return router
	}
	post := func(router *gin.Engine, actor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/invoices", nil)
		if actor != "" {
			req.Header.Set(ActorIDHeader, actor)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("rejects over the limit with the error envelope", func(t *testing.T) {
		router := newRouter(newTestLimiter(t, 1, time.Minute))

		first := post(router, "ana")
		assert.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

		second := post(router, "ana")
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.Equal(t, "60", second.Header().Get("Retry-After"))
		var resp dto.Response
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, dto.ErrCodeRateLimited, resp.Error.Code)
		assert.NotEmpty(t, resp.Error.RequestID)
	})

	t.Run("actors are limited independently", func(t *testing.T) {
		router := newRouter(newTestLimiter(t, 1, time.Minute))
		assert.Equal(t, http.StatusCreated, post(router, "ana").Code)
		assert.Equal(t, http.StatusCreated, post(router, "luis").Code)
		assert.Equal(t, http.StatusTooManyRequests, post(router, "ana").Code)
	})

	t.Run("anonymous callers share the client ip key", func(t *testing.T) {
		router := newRouter(newTestLimiter(t, 1, time.Minute))
		assert.Equal(t, http.StatusCreated, post(router, "").Code)
		assert.Equal(t, http.StatusTooManyRequests, post(router, "").Code)
	})

	t.Run("nil limiter disables throttling", func(t *testing.T) {
		router := newRouter(nil)
		for i := 0; i < 3; i++ {
			assert.Equal(t, http.StatusCreated, post(router, "ana").Code)
		}
	})
}
