package handler // declare the package name; contains HTTP handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports liveness of the service and its backing stores.
// Redis is optional; a nil probe is reported as "disabled".
type HealthHandler struct {
	DB    Pinger
	Redis func(ctx context.Context) error
}

// Health is used by load balancers and monitoring.  It answers 200 when
// every configured dependency responds and 503 otherwise.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := echo.Map{}
	healthy := true
	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			checks["mysql"] = "down"
			healthy = false
		} else {
			checks["mysql"] = "ok"
		}
	}
	if h.Redis == nil {
		checks["redis"] = "disabled"
	} else if err := h.Redis(ctx); err != nil {
		checks["redis"] = "down"
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	if !healthy {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "checks": checks})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "checks": checks})
}
