package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRateLimitRouter 搭一个只挂限流中间件的路由，Redis 用 miniredis 代替。
// httptest 的请求共享同一个 RemoteAddr，因此都落在同一个限流键上。
func newRateLimitRouter(t *testing.T, maxRequests int, window time.Duration) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit(client, maxRequests, window))
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	return router, mr
}

func doPing(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	return w
}

func TestRateLimitAllowsUnderThreshold(t *testing.T) {
	router, _ := newRateLimitRouter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		w := doPing(router)
		require.Equal(t, http.StatusOK, w.Code, "阈值内的第 %d 个请求应放行", i+1)
	}
}

func TestRateLimitRejectsPastThreshold(t *testing.T) {
	router, _ := newRateLimitRouter(t, 2, time.Minute)

	require.Equal(t, http.StatusOK, doPing(router).Code)
	require.Equal(t, http.StatusOK, doPing(router).Code)

	w := doPing(router)
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "超过阈值应返回 429")
}

func TestRateLimitWindowExpiryResetsCounter(t *testing.T) {
	router, mr := newRateLimitRouter(t, 1, time.Second)

	require.Equal(t, http.StatusOK, doPing(router).Code)
	require.Equal(t, http.StatusTooManyRequests, doPing(router).Code)

	// miniredis 的时钟不自己走，手动推过窗口让键过期
	mr.FastForward(2 * time.Second)

	assert.Equal(t, http.StatusOK, doPing(router).Code, "窗口过期后计数应重置")
}
