package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/service-order-auth/internal/model"
)

const secret = "0123456789abcdef0123456789abcdef-test"

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer(secret, "svc", 15*time.Minute, 30)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return i
}

func TestNewIssuerRejectsWeakSecret(t *testing.T) {
	if _, err := NewIssuer("short", "svc", 0, 0); !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	i := newTestIssuer(t)
	p := model.Principal{Kind: model.KindTech, Role: model.RoleTechnician, ID: "42", TenantID: "9"}
	tok, err := i.IssueAccessToken(p, "sid-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if d := time.Until(tok.Exp); d <= 14*time.Minute || d > 15*time.Minute {
		t.Fatalf("unexpected expiry in %s", d)
	}
	claims, err := i.ParseAccessToken(tok.Token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := claims.Principal()
	if got.ID != "42" || got.Kind != model.KindTech || got.Role != model.RoleTechnician || got.TenantID != "9" {
		t.Fatalf("unexpected principal %+v", got)
	}
	if claims.SessionID != "sid-1" {
		t.Fatalf("unexpected session id %q", claims.SessionID)
	}
}

func TestAccessTokenOmitsTenantForAdmin(t *testing.T) {
	i := newTestIssuer(t)
	tok, err := i.IssueAccessToken(model.Principal{Kind: model.KindAdmin, Role: model.RolePlatformAdmin, ID: "1", TenantID: "ignored"}, "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := i.ParseAccessToken(tok.Token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.TenantID != "" {
		t.Fatalf("admin token carries tenant %q", claims.TenantID)
	}
}

func TestParseAccessTokenRejects(t *testing.T) {
	i := newTestIssuer(t)
	p := model.Principal{Kind: model.KindCustomer, Role: model.RoleCustomer, ID: "5"}

	past := time.Now().Add(-time.Hour)
	expired, err := newTestIssuer(t).WithClock(func() time.Time { return past }).IssueAccessToken(p, "")
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}

	other, _ := NewIssuer("another-secret-another-secret-1234", "svc", 0, 0)
	foreign, _ := other.IssueAccessToken(p, "")

	mismatched, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type: "access", Kind: model.KindAdmin, Role: model.RoleCustomer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "5", Issuer: "svc", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte(secret))

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Type: "access", Kind: model.KindCustomer, Role: model.RoleCustomer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "5", Issuer: "svc", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	csrf, _, _ := i.IssuePublicCSRF()

	cases := map[string]string{
		"expired":       expired.Token,
		"foreign":       foreign.Token,
		"kind mismatch": mismatched,
		"alg none":      none,
		"csrf token":    csrf,
		"garbage":       "not.a.jwt",
	}
	for name, raw := range cases {
		if _, err := i.ParseAccessToken(raw); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%s: expected ErrTokenInvalid, got %v", name, err)
		}
	}
}

func TestPublicCSRF(t *testing.T) {
	i := newTestIssuer(t)
	tok, exp, err := i.IssuePublicCSRF()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) > PublicCSRFTTL {
		t.Fatalf("expiry too far: %s", exp)
	}
	if !i.VerifyPublicCSRF(tok) {
		t.Fatalf("fresh token rejected")
	}
	access, _ := i.IssueAccessToken(model.Principal{Kind: model.KindShop, Role: model.RoleShop, ID: "1"}, "")
	if i.VerifyPublicCSRF(access.Token) {
		t.Fatalf("access token accepted as csrf token")
	}

	later := time.Now().Add(PublicCSRFTTL + time.Minute)
	i.WithClock(func() time.Time { return later })
	if i.VerifyPublicCSRF(tok) {
		t.Fatalf("expired csrf token accepted")
	}
}

func TestRefreshExpiry(t *testing.T) {
	i := newTestIssuer(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := i.RefreshExpiry(now); !got.Equal(now.Add(30 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", got)
	}
}
