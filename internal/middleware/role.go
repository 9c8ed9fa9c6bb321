package middleware // middleware provides shared request processing for handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/service-order-auth/internal/model"
	"github.com/iliyamo/service-order-auth/internal/service"
)

// RequireRole admits only principals holding one of roles.  Anonymous
// requests get 401, authenticated ones with another role get 403.  It
// expects Authenticate to have run earlier in the chain.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return deny(c, service.ErrUnauthenticated)
			}
			if !allowed[p.Role] {
				return deny(c, service.ErrForbidden)
			}
			return next(c)
		}
	}
}

// RequireTenant admits only principals bound to a shop.  The shop id is
// then available as PrincipalFrom(c).TenantID.
func RequireTenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return deny(c, service.ErrUnauthenticated)
			}
			if !p.Role.Tenanted() || p.TenantID == "" {
				return deny(c, service.ErrForbidden)
			}
			return next(c)
		}
	}
}
