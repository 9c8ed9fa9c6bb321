package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/service-order-auth/internal/middleware"
	"github.com/iliyamo/service-order-auth/internal/service"
)

const (
	refreshIDCookie     = middleware.RefreshIDCookie
	refreshSecretCookie = "refresh_secret"
	// legacyRefreshCookie holds "id:secret" for clients predating the split
	// cookies.  It is read but never written.
	legacyRefreshCookie = "refresh_token"
)

func (h *AuthHandler) cookie(name, value, path string, httpOnly bool, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   h.Cookies.Domain,
		Expires:  expires,
		HttpOnly: httpOnly,
		Secure:   h.Cookies.Secure,
		SameSite: h.Cookies.SameSite,
	}
}

func (h *AuthHandler) setSessionCookies(c echo.Context, t service.Tokens) {
	c.SetCookie(h.cookie(refreshIDCookie, t.RefreshID, h.Cookies.Path, true, t.RefreshExpires))
	c.SetCookie(h.cookie(refreshSecretCookie, t.RefreshSecret, h.Cookies.Path, true, t.RefreshExpires))
	c.SetCookie(h.cookie(middleware.CSRFCookie, t.CSRFToken, "/", false, t.RefreshExpires))
	c.SetCookie(h.cookie(middleware.AccessCookie, t.Access.Token, "/", true, t.Access.Exp))
}

func (h *AuthHandler) clearSessionCookies(c echo.Context) {
	for _, ck := range []struct {
		name, path string
		httpOnly   bool
	}{
		{refreshIDCookie, h.Cookies.Path, true},
		{refreshSecretCookie, h.Cookies.Path, true},
		{legacyRefreshCookie, h.Cookies.Path, true},
		{middleware.CSRFCookie, "/", false},
		{middleware.AccessCookie, "/", true},
	} {
		k := h.cookie(ck.name, "", ck.path, ck.httpOnly, time.Unix(0, 0))
		k.MaxAge = -1
		c.SetCookie(k)
	}
}

// refreshCredentials reads the refresh id and secret from the split
// cookies, falling back to the legacy combined cookie.
func refreshCredentials(c echo.Context) (id, secret string) {
	if ck, err := c.Cookie(refreshIDCookie); err == nil {
		id = ck.Value
	}
	if ck, err := c.Cookie(refreshSecretCookie); err == nil {
		secret = ck.Value
	}
	if id != "" && secret != "" {
		return id, secret
	}
	if ck, err := c.Cookie(legacyRefreshCookie); err == nil {
		if lid, lsecret, ok := strings.Cut(ck.Value, ":"); ok && lid != "" && lsecret != "" {
			return lid, lsecret
		}
	}
	return id, secret
}
