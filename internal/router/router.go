package router // package router defines how HTTP routes are registered for the API

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/service-order-auth/internal/handler"
	"github.com/iliyamo/service-order-auth/internal/middleware"
	"github.com/iliyamo/service-order-auth/internal/model"
	"github.com/iliyamo/service-order-auth/internal/ratelimit"
	"github.com/iliyamo/service-order-auth/internal/utils"
)

// requestTimeout bounds every store call made while serving a request.
const requestTimeout = 5 * time.Second

// Deps are the collaborators wired into the HTTP surface.
type Deps struct {
	Auth       *handler.AuthHandler
	Health     *handler.HealthHandler
	Issuer     *utils.Issuer
	Sessions   middleware.CSRFChecker
	APILimiter *ratelimit.Limiter // nil disables the generic API limiter
	Logger     *slog.Logger
}

// New builds the echo instance with the global middleware chain and every
// route registered.
func New(d Deps) *echo.Echo {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(d.Logger))

	RegisterRoutes(e, d.Health)
	RegisterAuth(e, d)
	return e
}

// RegisterRoutes registers routes that do not require authentication and
// sit outside the /api group.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", h.Health)
}

// RegisterAuth registers the /api/auth routes.  Every /api request passes
// the generic limiter and Authenticate; mutating cookie-authenticated
// requests additionally pass the session csrf check.
func RegisterAuth(e *echo.Echo, d Deps) {
	a := d.Auth
	api := e.Group("/api",
		middleware.Timeout(requestTimeout),
		middleware.RateLimit(d.APILimiter, d.Logger),
		middleware.Authenticate(d.Issuer),
	)

	g := api.Group("/auth")
	g.POST("/admin", a.Login(model.KindAdmin))
	g.POST("/shop", a.Login(model.KindShop))
	g.POST("/tech", a.Login(model.KindTech))
	g.POST("/customer", a.Login(model.KindCustomer))
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
	g.GET("/csrf", a.CSRFToken)
	g.POST("/customer/register", a.RegisterCustomer, middleware.PublicCSRF(d.Issuer))

	authed := []echo.MiddlewareFunc{
		middleware.RequireAuth(),
		middleware.SessionCSRF(d.Sessions, d.Logger),
	}
	g.GET("/me", a.Me, authed...)
	g.POST("/logout-all", a.LogoutAll, authed...)
}
