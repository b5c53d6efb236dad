package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v5"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_Allow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log, _ := logtest.NewNullLogger()
	store := &redisStore{redis: db, prefix: "ratelimit:contact", limit: 2, window: time.Minute, log: log}

	mock.ExpectIncr("ratelimit:contact:ip:1.2.3.4").SetVal(1)
	mock.ExpectExpire("ratelimit:contact:ip:1.2.3.4", time.Minute).SetVal(true)
	mock.ExpectIncr("ratelimit:contact:ip:1.2.3.4").SetVal(2)
	mock.ExpectIncr("ratelimit:contact:ip:1.2.3.4").SetVal(3)

	for _, want := range []bool{true, true, false} {
		ok, err := store.Allow("ip:1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, want, ok)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_FailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log, hook := logtest.NewNullLogger()
	store := &redisStore{redis: db, prefix: "antibot", limit: 1, window: time.Minute, log: log}

	mock.ExpectIncr("antibot:1.2.3.4").SetErr(errors.New("connection refused"))

	ok, err := store.Allow("1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "rate limit check failed", hook.LastEntry().Message)
}

func TestContactRateLimit_KeysBySession(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log, _ := logtest.NewNullLogger()
	limiter := NewRateLimiter(db, 1, 30, log)

	e := echo.New()
	e.POST("/contact", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(SessionKey, "s-1")
			return next(c)
		}
	}, limiter.ContactRateLimit())

	mock.ExpectIncr("ratelimit:contact:session:s-1").SetVal(1)
	mock.ExpectExpire("ratelimit:contact:session:s-1", time.Minute).SetVal(true)
	mock.ExpectIncr("ratelimit:contact:session:s-1").SetVal(2)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contact", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contact", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAntiBotMiddleware_BlocksCrawlers(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log, _ := logtest.NewNullLogger()
	limiter := NewRateLimiter(db, 5, 30, log)

	e := echo.New()
	e.Use(limiter.AntiBotMiddleware())
	e.GET("/", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "Googlebot/2.1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.RemoteAddr = "1.2.3.4:5555"
	mock.ExpectIncr("antibot:1.2.3.4").SetVal(31)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAntiBotMiddleware_UsesConfiguredCap(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log, _ := logtest.NewNullLogger()
	limiter := NewRateLimiter(db, 5, 2, log)

	e := echo.New()
	e.POST("/api/sessions", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	}, limiter.AntiBotMiddleware())

	mock.ExpectIncr("antibot:1.2.3.4").SetVal(2)
	mock.ExpectIncr("antibot:1.2.3.4").SetVal(3)

	for _, want := range []int{http.StatusCreated, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
		req.RemoteAddr = "1.2.3.4:5555"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsSuspiciousUserAgent(t *testing.T) {
	assert.True(t, isSuspiciousUserAgent("Mozilla/5.0 (compatible; Bingbot/2.0)"))
	assert.True(t, isSuspiciousUserAgent("my-Scraper"))
	assert.False(t, isSuspiciousUserAgent("Mozilla/5.0 (iPhone)"))
}
