package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/service-order-auth/internal/model"
	"github.com/iliyamo/service-order-auth/internal/utils"
)

// principalSelects maps each kind to a SELECT producing the common column
// set (id, tenant_id, role, username, email, password_hash).  The WHERE
// clause is appended by the caller.
var principalSelects = map[model.Kind]string{
	model.KindAdmin: `SELECT id, '' AS tenant_id, 'PLATFORM_ADMIN' AS role, username, email, password_hash
		FROM platform_admins`,
	model.KindShop: `SELECT id, CAST(id AS CHAR) AS tenant_id, 'SHOP' AS role, username, email, password_hash
		FROM shops`,
	model.KindTech: `SELECT id, CAST(shop_id AS CHAR) AS tenant_id, role, username, email, password_hash
		FROM technicians`,
	model.KindCustomer: `SELECT id, COALESCE(CAST(shop_id AS CHAR), '') AS tenant_id, 'CUSTOMER' AS role,
		COALESCE(username, '') AS username, email, password_hash
		FROM customers`,
}

// PrincipalRepo reads principals from the four principal tables.
type PrincipalRepo struct{ DB *sql.DB }

func NewPrincipalRepo(db *sql.DB) *PrincipalRepo { return &PrincipalRepo{DB: db} }

// FindByLogin fetches an active principal of kind whose username or
// (case-insensitive) email equals identifier.
func (r *PrincipalRepo) FindByLogin(ctx context.Context, kind model.Kind, identifier string) (model.Principal, error) {
	base, ok := principalSelects[kind]
	if !ok {
		return model.Principal{}, ErrPrincipalNotFound
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return model.Principal{}, ErrPrincipalNotFound
	}
	q := base + " WHERE (email = ? OR username = ?) AND is_active = 1 LIMIT 1"
	return r.scanOne(ctx, kind, q, strings.ToLower(identifier), identifier)
}

// Resolve fetches the current state of the principal behind owner.  A
// deleted or deactivated principal yields ErrPrincipalNotFound.
func (r *PrincipalRepo) Resolve(ctx context.Context, owner model.OwnerRef) (model.Principal, error) {
	base, ok := principalSelects[owner.Kind]
	if !ok {
		return model.Principal{}, ErrPrincipalNotFound
	}
	id, err := strconv.ParseUint(owner.ID, 10, 64)
	if err != nil {
		return model.Principal{}, ErrPrincipalNotFound
	}
	return r.scanOne(ctx, owner.Kind, base+" WHERE id = ? AND is_active = 1 LIMIT 1", id)
}

func (r *PrincipalRepo) scanOne(ctx context.Context, kind model.Kind, q string, args ...any) (model.Principal, error) {
	var (
		id   uint64
		role string
		p    = model.Principal{Kind: kind}
	)
	err := r.DB.QueryRowContext(ctx, q, args...).Scan(&id, &p.TenantID, &role, &p.Username, &p.Email, &p.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Principal{}, ErrPrincipalNotFound
		}
		return model.Principal{}, fmt.Errorf("query %s principal: %w", kind, err)
	}
	p.ID = utils.FormatID(id)
	p.Role = model.Role(role)
	if k, ok := model.KindOf(p.Role); !ok || k != kind {
		return model.Principal{}, fmt.Errorf("principal %s:%s has unexpected role %q", kind, p.ID, role)
	}
	return p, nil
}

// NewCustomer is the input of CreateCustomer.
type NewCustomer struct {
	ShopID       string // optional tenant
	Username     string // optional
	Email        string
	PasswordHash string
}

// CreateCustomer inserts a customer and returns it as a principal.
func (r *PrincipalRepo) CreateCustomer(ctx context.Context, c NewCustomer) (model.Principal, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	var username, shopID any
	if u := strings.TrimSpace(c.Username); u != "" {
		username = u
	}
	if c.ShopID != "" {
		n, err := strconv.ParseUint(c.ShopID, 10, 64)
		if err != nil {
			return model.Principal{}, fmt.Errorf("invalid shop id %q", c.ShopID)
		}
		shopID = n
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO customers (shop_id, username, email, password_hash) VALUES (?,?,?,?)",
		shopID, username, email, c.PasswordHash)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return model.Principal{}, ErrIdentifierTaken
		}
		return model.Principal{}, fmt.Errorf("insert customer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Principal{}, err
	}
	p := model.Principal{
		Kind:         model.KindCustomer,
		Role:         model.RoleCustomer,
		ID:           utils.FormatID(uint64(id)),
		TenantID:     c.ShopID,
		Email:        email,
		PasswordHash: c.PasswordHash,
	}
	if username != nil {
		p.Username = username.(string)
	}
	return p, nil
}
