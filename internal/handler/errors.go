package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/service-order-auth/internal/service"
)

// writeError translates a service outcome into a stable JSON error.  Only
// faults are logged at ERROR; the detail never reaches the client.
func (h *AuthHandler) writeError(c echo.Context, op string, err error) error {
	var rl *service.RateLimitedError
	switch {
	case errors.As(err, &rl):
		c.Response().Header().Set("Retry-After", strconv.Itoa(rl.Seconds))
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error":       "too many attempts",
			"retry_after": rl.Seconds,
		})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid credentials"})
	case errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrInvalidSession):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid session"})
	case errors.Is(err, service.ErrCSRFMismatch):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "csrf token mismatch"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, service.ErrUnauthenticated):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid input"})
	case errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "account already exists"})
	}
	h.Logger.ErrorContext(c.Request().Context(), "request failed",
		"operation", op, "outcome", "failure", "path", c.Request().URL.Path,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID), "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
