package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/service-order-auth/internal/service"
	"github.com/iliyamo/service-order-auth/internal/utils"
)

// AccessCookie is the http-only cookie carrying the access token for
// browser sessions.
const AccessCookie = "access_token"

// Authenticate verifies the access token of the request and stores the
// principal, the claims and the transport on the context.  The bearer
// header wins over the cookie.  It never rejects: an absent or invalid
// token leaves the request anonymous and RequireAuth decides.
func Authenticate(issuer *utils.Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, transport := accessTokenOf(c.Request())
			if raw == "" {
				return next(c)
			}
			claims, err := issuer.ParseAccessToken(raw)
			if err != nil {
				return next(c)
			}
			p := claims.Principal()
			c.Set(ctxPrincipal, &p)
			c.Set(ctxClaims, claims)
			c.Set(ctxTransport, transport)
			return next(c)
		}
	}
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := PrincipalFrom(c); !ok {
				return deny(c, service.ErrUnauthenticated)
			}
			return next(c)
		}
	}
}

func accessTokenOf(r *http.Request) (string, Transport) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); raw != "" {
			return raw, TransportBearer
		}
	}
	if ck, err := r.Cookie(AccessCookie); err == nil && ck.Value != "" {
		return ck.Value, TransportCookie
	}
	return "", TransportNone
}

// deny writes the JSON rejection for an authorization outcome of the
// service package: 401 for ErrUnauthenticated, 403 for the rest.
func deny(c echo.Context, err error) error {
	status := http.StatusForbidden
	if errors.Is(err, service.ErrUnauthenticated) {
		status = http.StatusUnauthorized
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}
