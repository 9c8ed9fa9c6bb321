package model

import (
	"errors"
	"strings"
)

// Kind tags which principal table an identity lives in.  It is also the
// discriminator of OwnerRef and the path segment of the login endpoints
// (/api/auth/admin, /api/auth/shop, /api/auth/tech, /api/auth/customer).
type Kind string

const (
	KindAdmin    Kind = "admin"
	KindShop     Kind = "shop"
	KindTech     Kind = "tech"
	KindCustomer Kind = "customer"
)

// Valid reports whether k is one of the known principal kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAdmin, KindShop, KindTech, KindCustomer:
		return true
	}
	return false
}

// Role is the authorization role carried in access tokens.  Managers and
// technicians share the tech kind and differ only by role.
type Role string

const (
	RolePlatformAdmin Role = "PLATFORM_ADMIN"
	RoleShop          Role = "SHOP"
	RoleManager       Role = "MANAGER"
	RoleTechnician    Role = "TECHNICIAN"
	RoleCustomer      Role = "CUSTOMER"
)

// KindOf returns the principal kind a role belongs to.
func KindOf(r Role) (Kind, bool) {
	switch r {
	case RolePlatformAdmin:
		return KindAdmin, true
	case RoleShop:
		return KindShop, true
	case RoleManager, RoleTechnician:
		return KindTech, true
	case RoleCustomer:
		return KindCustomer, true
	}
	return "", false
}

// Tenanted reports whether the role is scoped to a shop tenant.
func (r Role) Tenanted() bool {
	return r == RoleShop || r == RoleManager || r == RoleTechnician
}

// Principal is an authenticated identity resolved from one of the
// principal tables.  Records are owned by registration and admin flows;
// this service only reads them (plus customer self-registration).
//
// Fields:
//
//	Kind         – owner tag (admin, shop, tech, customer).
//	Role         – authorization role placed in the access token.
//	ID           – opaque identifier, the decimal primary key of the row.
//	TenantID     – shop id for shop-scoped roles; empty for platform admins.
//	Username     – login name (may be empty for customers).
//	Email        – login email (lower-cased).
//	PasswordHash – bcrypt hash, never leaves the service.
type Principal struct {
	Kind         Kind
	Role         Role
	ID           string
	TenantID     string
	Username     string
	Email        string
	PasswordHash string
}

// Owner returns the reference under which this principal's refresh tokens
// are stored.
func (p Principal) Owner() OwnerRef {
	return OwnerRef{Kind: p.Kind, ID: p.ID}
}

// OwnerRef is the polymorphic owner of a refresh token:
// Admin(id) | Shop(id) | Tech(id) | Customer(id).
type OwnerRef struct {
	Kind Kind
	ID   string
}

var ErrBadOwnerRef = errors.New("malformed owner reference")

// String encodes the reference as "kind:id".
func (o OwnerRef) String() string { return string(o.Kind) + ":" + o.ID }

// IsZero reports whether the reference is unset.
func (o OwnerRef) IsZero() bool { return o.Kind == "" && o.ID == "" }

// ParseOwnerRef decodes the "kind:id" form produced by String.
func ParseOwnerRef(s string) (OwnerRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" || !Kind(kind).Valid() {
		return OwnerRef{}, ErrBadOwnerRef
	}
	return OwnerRef{Kind: Kind(kind), ID: id}, nil
}
