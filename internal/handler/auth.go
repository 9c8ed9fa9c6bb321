package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/service-order-auth/internal/config"
	"github.com/iliyamo/service-order-auth/internal/middleware"
	"github.com/iliyamo/service-order-auth/internal/model"
	"github.com/iliyamo/service-order-auth/internal/service"
)

// Sessions is the part of service.SessionService the handlers drive.
type Sessions interface {
	Login(ctx context.Context, kind model.Kind, identifier, password string, client service.Client) (service.Tokens, error)
	Rotate(ctx context.Context, id, secret string, client service.Client) (service.Tokens, error)
	Logout(ctx context.Context, id, csrf string, client service.Client) error
	LogoutAll(ctx context.Context, owner model.OwnerRef, client service.Client) (int64, error)
	RegisterCustomer(ctx context.Context, in service.RegisterInput, client service.Client) (service.Tokens, error)
}

// PublicCSRFIssuer mints session-less csrf tokens.
type PublicCSRFIssuer interface {
	IssuePublicCSRF() (string, time.Time, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Sessions Sessions
	CSRF     PublicCSRFIssuer
	Cookies  config.CookieConfig
	Logger   *slog.Logger
}

func NewAuthHandler(s Sessions, csrf PublicCSRFIssuer, cookies config.CookieConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cookies.Path == "" {
		cookies.Path = "/api/auth"
	}
	return &AuthHandler{
		Sessions: s,
		CSRF:     csrf,
		Cookies:  cookies,
		Logger:   logger.With("module", "handler.auth", "layer", "transport"),
	}
}

// ----- DTOs -----

type loginReq struct {
	UsernameOrEmail string `json:"usernameOrEmail" form:"usernameOrEmail"`
	Username        string `json:"username" form:"username"`
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`
}

func (r loginReq) identifier() string {
	for _, v := range []string{r.UsernameOrEmail, r.Username, r.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type registerReq struct {
	ShopID   string `json:"shopId" form:"shopId"`
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type sessionResp struct {
	AccessToken          string     `json:"accessToken"`
	AccessTokenExpiresAt time.Time  `json:"accessTokenExpiresAt"`
	ID                   string     `json:"id"`
	Kind                 model.Kind `json:"kind"`
	Role                 model.Role `json:"role"`
	TenantID             string     `json:"tenantId,omitempty"`
	Username             string     `json:"username,omitempty"`
	Email                string     `json:"email,omitempty"`
}

func newSessionResp(t service.Tokens) sessionResp {
	return sessionResp{
		AccessToken:          t.Access.Token,
		AccessTokenExpiresAt: t.Access.Exp,
		ID:                   t.Principal.ID,
		Kind:                 t.Principal.Kind,
		Role:                 t.Principal.Role,
		TenantID:             t.Principal.TenantID,
		Username:             t.Principal.Username,
		Email:                t.Principal.Email,
	}
}

func clientOf(c echo.Context) service.Client {
	return service.Client{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Endpoint:  c.Request().Method + " " + c.Path(),
	}
}

// Login returns the handler of POST /api/auth/{kind}.
func (h *AuthHandler) Login(kind model.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req loginReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
		}
		ident := req.identifier()
		if ident == "" || req.Password == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "usernameOrEmail and password required"})
		}

		tokens, err := h.Sessions.Login(c.Request().Context(), kind, ident, req.Password, clientOf(c))
		if err != nil {
			return h.writeError(c, "login", err)
		}
		h.setSessionCookies(c, tokens)
		return c.JSON(http.StatusOK, newSessionResp(tokens))
	}
}

// Refresh rotates the refresh token carried in the session cookies.
func (h *AuthHandler) Refresh(c echo.Context) error {
	id, secret := refreshCredentials(c)
	if id == "" || secret == "" {
		h.clearSessionCookies(c)
		return h.writeError(c, "refresh", service.ErrInvalidSession)
	}
	tokens, err := h.Sessions.Rotate(c.Request().Context(), id, secret, clientOf(c))
	if err != nil {
		if service.IsAuthFailure(err) {
			h.clearSessionCookies(c)
		}
		return h.writeError(c, "refresh", err)
	}
	h.setSessionCookies(c, tokens)
	return c.JSON(http.StatusOK, newSessionResp(tokens))
}

// Logout ends the current session.  The x-csrf-token header must match
// both the csrf_token cookie and the value stored with the session.
func (h *AuthHandler) Logout(c echo.Context) error {
	presented := middleware.PresentedCSRF(c)
	ck, err := c.Cookie(middleware.CSRFCookie)
	if presented == "" || err != nil || subtle.ConstantTimeCompare([]byte(presented), []byte(ck.Value)) != 1 {
		return h.writeError(c, "logout", service.ErrCSRFMismatch)
	}
	id, _ := refreshCredentials(c)
	if err := h.Sessions.Logout(c.Request().Context(), id, presented, clientOf(c)); err != nil {
		return h.writeError(c, "logout", err)
	}
	h.clearSessionCookies(c)
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every session of the authenticated principal.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return h.writeError(c, "logout_all", service.ErrUnauthenticated)
	}
	n, err := h.Sessions.LogoutAll(c.Request().Context(), p.Owner(), clientOf(c))
	if err != nil {
		return h.writeError(c, "logout_all", err)
	}
	h.clearSessionCookies(c)
	return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}

// Me returns the authenticated principal as carried by its access token.
func (h *AuthHandler) Me(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return h.writeError(c, "me", service.ErrUnauthenticated)
	}
	resp := echo.Map{"id": p.ID, "kind": p.Kind, "role": p.Role}
	if p.TenantID != "" {
		resp["tenantId"] = p.TenantID
	}
	if cl, ok := middleware.ClaimsFrom(c); ok {
		resp["sessionId"] = cl.SessionID
		if cl.ExpiresAt != nil {
			resp["accessTokenExpiresAt"] = cl.ExpiresAt.Time
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// CSRFToken mints a public csrf token for unauthenticated forms.
func (h *AuthHandler) CSRFToken(c echo.Context) error {
	tok, exp, err := h.CSRF.IssuePublicCSRF()
	if err != nil {
		return h.writeError(c, "csrf", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"csrfToken": tok, "expiresAt": exp})
}

// RegisterCustomer creates a customer account and opens its first session.
func (h *AuthHandler) RegisterCustomer(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.ShopID = strings.TrimSpace(req.ShopID)
	if req.ShopID != "" {
		if _, err := strconv.ParseUint(req.ShopID, 10, 64); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid shopId"})
		}
	}
	tokens, err := h.Sessions.RegisterCustomer(c.Request().Context(), service.RegisterInput{
		ShopID:   req.ShopID,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	}, clientOf(c))
	if err != nil {
		return h.writeError(c, "register", err)
	}
	h.setSessionCookies(c, tokens)
	return c.JSON(http.StatusCreated, newSessionResp(tokens))
}
