package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/service-order-auth/internal/model"
	"github.com/iliyamo/service-order-auth/internal/service"
)

const (
	CSRFHeader    = "x-csrf-token"
	CSRFFormField = "_csrf"
	CSRFCookie    = "csrf_token"
	// RefreshIDCookie is read as a fallback session id when the access
	// token carries none.
	RefreshIDCookie = "refresh_id"
)

// CSRFChecker compares a presented token with the one bound to a session.
type CSRFChecker interface {
	SessionCSRF(ctx context.Context, sessionID, presented string) (model.OwnerRef, error)
}

// PublicCSRFVerifier validates session-less csrf tokens.
type PublicCSRFVerifier interface {
	VerifyPublicCSRF(raw string) bool
}

// Mutating reports whether method changes server state.
func Mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// PresentedCSRF returns the token from the x-csrf-token header or the
// _csrf form field.
func PresentedCSRF(c echo.Context) string {
	if v := c.Request().Header.Get(CSRFHeader); v != "" {
		return v
	}
	if ct := c.Request().Header.Get(echo.HeaderContentType); ct != "" && ct != echo.MIMEApplicationJSON {
		return c.FormValue(CSRFFormField)
	}
	return ""
}

// SessionCSRF enforces the double-submit check on mutating requests that
// authenticated through the access cookie.  The presented token must equal
// the csrf_token cookie and the value stored with the session.  Bearer and
// anonymous requests pass through.
func SessionCSRF(sessions CSRFChecker, logger *slog.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !Mutating(c.Request().Method) || TransportFrom(c) != TransportCookie {
				return next(c)
			}
			p, _ := PrincipalFrom(c)
			presented := PresentedCSRF(c)
			ck, err := c.Cookie(CSRFCookie)
			if presented == "" || err != nil || subtle.ConstantTimeCompare([]byte(presented), []byte(ck.Value)) != 1 {
				return csrfRejected(c)
			}

			sid := ""
			if cl, ok := ClaimsFrom(c); ok {
				sid = cl.SessionID
			}
			if sid == "" {
				if rc, err := c.Cookie(RefreshIDCookie); err == nil {
					sid = rc.Value
				}
			}
			owner, err := sessions.SessionCSRF(c.Request().Context(), sid, presented)
			if err != nil {
				if service.IsAuthFailure(err) {
					logger.WarnContext(c.Request().Context(), "csrf check failed",
						"operation", "csrf", "outcome", "rejected", "session_id", sid,
						"path", c.Request().URL.Path, "error", err)
					return csrfRejected(c)
				}
				logger.ErrorContext(c.Request().Context(), "csrf session lookup failed", "error", err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			if p != nil && owner != p.Owner() {
				return csrfRejected(c)
			}
			return next(c)
		}
	}
}

// PublicCSRF guards unauthenticated mutating requests with a signed public
// csrf token obtained from GET /api/auth/csrf.
func PublicCSRF(v PublicCSRFVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !Mutating(c.Request().Method) {
				return next(c)
			}
			if !v.VerifyPublicCSRF(PresentedCSRF(c)) {
				return csrfRejected(c)
			}
			return next(c)
		}
	}
}

func csrfRejected(c echo.Context) error {
	return deny(c, service.ErrCSRFMismatch)
}
