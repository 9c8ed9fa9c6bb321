package utils // package utils provides the credential and token primitives of the auth service

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens

	"github.com/iliyamo/service-order-auth/internal/model"
)

const (
	typAccess = "access"
	typCSRF   = "csrf"

	// PublicCSRFTTL bounds how long a session-less csrf token stays valid.
	PublicCSRFTTL = 30 * time.Minute
	leeway        = 30 * time.Second
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrWeakSecret   = errors.New("jwt secret must be at least 32 bytes")
)

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// Claims is the payload of an access token.  TenantID is only set for
// shop-scoped roles; SessionID is the refresh token id current when the
// token was minted.
type Claims struct {
	Type      string     `json:"typ"`
	Kind      model.Kind `json:"kind"`
	Role      model.Role `json:"role"`
	TenantID  string     `json:"tid,omitempty"`
	SessionID string     `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the typed principal used by the
// authorization gate.  Username, email and hash are not carried in tokens.
func (c Claims) Principal() model.Principal {
	return model.Principal{
		Kind:     c.Kind,
		Role:     c.Role,
		ID:       c.Subject,
		TenantID: c.TenantID,
	}
}

type csrfClaims struct {
	Type  string `json:"typ"`
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies access tokens, refresh secrets and csrf tokens.
// The HMAC secret is held here so request handlers never touch it.
type Issuer struct {
	secret         []byte
	issuer         string
	accessTTL      time.Duration
	refreshTTLDays int
	now            func() time.Time
}

// NewIssuer builds an Issuer.  accessTTL and refreshTTLDays fall back to
// 15 minutes and 30 days when not positive.
func NewIssuer(secret, issuer string, accessTTL time.Duration, refreshTTLDays int) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTLDays <= 0 {
		refreshTTLDays = 30
	}
	return &Issuer{
		secret:         []byte(secret),
		issuer:         issuer,
		accessTTL:      accessTTL,
		refreshTTLDays: refreshTTLDays,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock replaces the time source.  Tests use it to mint expired tokens.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// IssueAccessToken builds and signs an HS256 JWT for p.  sessionID is the
// refresh token id the access token was minted alongside.
func (i *Issuer) IssueAccessToken(p model.Principal, sessionID string) (AccessToken, error) {
	now := i.now()
	exp := now.Add(i.accessTTL)
	claims := Claims{
		Type:      typAccess,
		Kind:      p.Kind,
		Role:      p.Role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if p.Role.Tenanted() || p.Kind == model.KindCustomer {
		claims.TenantID = p.TenantID
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies signature, issuer and expiry of raw and returns
// its claims.  Any failure is reported as ErrTokenInvalid wrapping the cause.
func (i *Issuer) ParseAccessToken(raw string) (Claims, error) {
	var claims Claims
	if _, err := i.parse(raw, &claims); err != nil {
		return Claims{}, errors.Join(ErrTokenInvalid, err)
	}
	if claims.Type != typAccess || claims.Subject == "" {
		return Claims{}, ErrTokenInvalid
	}
	if kind, ok := model.KindOf(claims.Role); !ok || kind != claims.Kind {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

// RefreshExpiry returns the expiry of a refresh token created at now.
func (i *Issuer) RefreshExpiry(now time.Time) time.Time {
	return now.Add(time.Duration(i.refreshTTLDays) * 24 * time.Hour)
}

// IssuePublicCSRF mints a short-lived signed csrf token that is not tied to
// any session.  It guards unauthenticated form posts such as registration.
func (i *Issuer) IssuePublicCSRF() (string, time.Time, error) {
	nonce, err := randomString(16)
	if err != nil {
		return "", time.Time{}, err
	}
	now := i.now()
	exp := now.Add(PublicCSRFTTL)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, csrfClaims{
		Type:  typCSRF,
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyPublicCSRF reports whether raw is a valid, unexpired public csrf
// token minted by this issuer.
func (i *Issuer) VerifyPublicCSRF(raw string) bool {
	var claims csrfClaims
	if _, err := i.parse(raw, &claims); err != nil {
		return false
	}
	return claims.Type == typCSRF && claims.Nonce != ""
}

func (i *Issuer) parse(raw string, claims jwt.Claims) (*jwt.Token, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	return jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, opts...)
}

// FormatID renders a numeric primary key as an opaque principal id.
func FormatID(id uint64) string { return strconv.FormatUint(id, 10) }
