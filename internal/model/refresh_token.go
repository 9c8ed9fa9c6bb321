package model

import "time"

// RefreshMeta is the metadata bag stored next to a refresh token.  Exactly
// one of the owner id fields is set, matching the owner kind; CSRFToken is
// the double-submit value bound to this session.
type RefreshMeta struct {
	AdminID    string `json:"adminId,omitempty"`
	ShopID     string `json:"shopId,omitempty"`
	TechID     string `json:"techId,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
	CSRFToken  string `json:"csrfToken"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
}

// NewRefreshMeta fills the owner id field that corresponds to owner.Kind.
func NewRefreshMeta(owner OwnerRef, csrf, ip, userAgent string) RefreshMeta {
	m := RefreshMeta{CSRFToken: csrf, IP: ip, UserAgent: userAgent}
	switch owner.Kind {
	case KindAdmin:
		m.AdminID = owner.ID
	case KindShop:
		m.ShopID = owner.ID
	case KindTech:
		m.TechID = owner.ID
	case KindCustomer:
		m.CustomerID = owner.ID
	}
	return m
}

// RefreshToken models a row of the refresh_tokens table.  The raw secret is
// handed to the client once and only its bcrypt hash is kept.
//
// Fields:
//
//	ID         – uuid, safe to expose in the refresh_id cookie.
//	SecretHash – bcrypt hash of the random secret.
//	Owner      – polymorphic owner reference.
//	Meta       – csrf token, client ip and user agent.
//	ExpiresAt  – absolute expiry; expired rows are rejected and deleted.
//	CreatedAt  – creation time.
type RefreshToken struct {
	ID         string
	SecretHash string
	Owner      OwnerRef
	Meta       RefreshMeta
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
