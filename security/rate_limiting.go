package security

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SessionKey is the echo context key the handlers store the session id under.
const SessionKey = "session_id"

type RateLimiter struct {
	redis          redis.Cmdable
	perMinute      int
	entryPerMinute int
	log            logrus.FieldLogger
}

// NewRateLimiter caps purchase initiations at perMinute per session and entry
// requests (session creation, referral capture) at entryPerMinute per IP.
func NewRateLimiter(redisClient redis.Cmdable, perMinute, entryPerMinute int, log logrus.FieldLogger) *RateLimiter {
	return &RateLimiter{redis: redisClient, perMinute: perMinute, entryPerMinute: entryPerMinute, log: log}
}

// redisStore counts requests per identifier in fixed one-minute windows.
type redisStore struct {
	redis  redis.Cmdable
	prefix string
	limit  int64
	window time.Duration
	log    logrus.FieldLogger
}

// Allow fails open: a redis outage must not block purchases.
func (s *redisStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	key := fmt.Sprintf("%s:%s", s.prefix, identifier)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("rate limit check failed")
		return true, nil
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, s.window).Err(); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("rate limit expiry failed")
		}
	}
	return count <= s.limit, nil
}

// ContactRateLimit throttles purchase initiations per session, or per client
// IP when the request carries none.
func (r *RateLimiter) ContactRateLimit() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: &redisStore{
			redis:  r.redis,
			prefix: "ratelimit:contact",
			limit:  int64(r.perMinute),
			window: time.Minute,
			log:    r.log,
		},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if id, ok := c.Get(SessionKey).(string); ok && id != "" {
				return "session:" + id, nil
			}
			return "ip:" + c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error": "Acesso negado.",
			})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			r.log.WithField("identifier", identifier).Warn("rate limit exceeded")
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Muitas tentativas. Aguarde um minuto e tente novamente.",
				"kind":  "rate_limited",
			})
		},
	})
}

// AntiBotMiddleware rejects crawler user agents and caps any single IP at
// entryPerMinute requests a minute. It guards the entry routes only; session
// and widget polling stay outside it.
func (r *RateLimiter) AntiBotMiddleware() echo.MiddlewareFunc {
	store := &redisStore{
		redis:  r.redis,
		prefix: "antibot",
		limit:  int64(r.entryPerMinute),
		window: time.Minute,
		log:    r.log,
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isSuspiciousUserAgent(c.Request().Header.Get("User-Agent")) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "Acesso negado.",
				})
			}

			if ok, _ := store.Allow(c.RealIP()); !ok {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "Muitas requisições.",
					"kind":  "rate_limited",
				})
			}
			return next(c)
		}
	}
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
