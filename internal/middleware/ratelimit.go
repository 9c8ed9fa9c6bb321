package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/service-order-auth/internal/ratelimit"
)

// APIKey is the limiter key of a generic API request: (ip, path).
func APIKey(ip, path string) string { return "api:" + ip + ":" + path }

// RateLimit applies the sliding-window limiter to every request, keyed by
// client ip and request path.  A nil limiter disables the middleware.  When
// the store fails the request is let through and the error logged.
func RateLimit(l *ratelimit.Limiter, logger *slog.Logger) echo.MiddlewareFunc {
	if l == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			key := APIKey(ip, c.Request().URL.Path)
			dec, err := l.Hit(c.Request().Context(), key)
			if err != nil {
				logger.WarnContext(c.Request().Context(), "rate limiter unavailable", "key", key, "error", err)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining()))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))

			if !dec.Allowed {
				secs := dec.RetryAfterSeconds()
				h.Set("Retry-After", strconv.Itoa(secs))
				logger.WarnContext(c.Request().Context(), "api rate limited",
					"operation", "rate_limit", "outcome", "rejected", "ip", ip,
					"path", c.Request().URL.Path, "retry_after_s", secs)
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}
