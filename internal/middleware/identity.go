package middleware

// identity.go holds the echo context keys written by Authenticate and the
// typed accessors handlers use to read them back.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/service-order-auth/internal/model"
	"github.com/iliyamo/service-order-auth/internal/utils"
)

// Transport says how the access token reached the server.
type Transport string

const (
	TransportNone   Transport = ""
	TransportBearer Transport = "bearer"
	TransportCookie Transport = "cookie"
)

const (
	ctxPrincipal = "principal"
	ctxClaims    = "claims"
	ctxTransport = "auth_transport"
)

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(c echo.Context) (*model.Principal, bool) {
	p, ok := c.Get(ctxPrincipal).(*model.Principal)
	return p, ok && p != nil
}

// ClaimsFrom returns the verified access token claims, if any.
func ClaimsFrom(c echo.Context) (utils.Claims, bool) {
	cl, ok := c.Get(ctxClaims).(utils.Claims)
	return cl, ok
}

// TransportFrom reports how the current request authenticated.
func TransportFrom(c echo.Context) Transport {
	t, _ := c.Get(ctxTransport).(Transport)
	return t
}

// principalLabel identifies the caller in logs and limiter keys.  It
// returns "guest" for anonymous requests.
func principalLabel(c echo.Context) string {
	if p, ok := PrincipalFrom(c); ok {
		return p.Owner().String()
	}
	return "guest"
}
