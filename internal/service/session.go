// Package service holds the session lifecycle of the auth service: login,
// refresh-token rotation with reuse detection, logout and the csrf values
// bound to each session.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/service-order-auth/internal/model"
	"github.com/iliyamo/service-order-auth/internal/queue"
	"github.com/iliyamo/service-order-auth/internal/ratelimit"
	"github.com/iliyamo/service-order-auth/internal/repository"
	"github.com/iliyamo/service-order-auth/internal/utils"
)

// Directory resolves principals.  Both methods report an unknown or
// inactive principal as repository.ErrPrincipalNotFound.
type Directory interface {
	FindByLogin(ctx context.Context, kind model.Kind, identifier string) (model.Principal, error)
	Resolve(ctx context.Context, owner model.OwnerRef) (model.Principal, error)
}

// CustomerRegistry creates customers during self-registration.
type CustomerRegistry interface {
	CreateCustomer(ctx context.Context, c repository.NewCustomer) (model.Principal, error)
}

// RefreshStore is the durable refresh token table.  Rotate must apply the
// decision atomically with the read it was based on.
type RefreshStore interface {
	Create(ctx context.Context, t model.RefreshToken) error
	Get(ctx context.Context, id string) (model.RefreshToken, error)
	Rotate(ctx context.Context, id string, decide repository.DecideFunc) error
	Delete(ctx context.Context, id string) error
	DeleteByOwner(ctx context.Context, owner model.OwnerRef) (int64, error)
}

// Hasher is the credential store primitive.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) bool
	Burn(plain string)
}

// Client describes the caller of a session operation.
type Client struct {
	IP        string
	UserAgent string
	Endpoint  string
}

// Tokens is what a successful login or rotation hands back to the client.
// RefreshSecret and CSRFToken are shown exactly once.
type Tokens struct {
	Principal      model.Principal
	Access         utils.AccessToken
	RefreshID      string
	RefreshSecret  string
	RefreshExpires time.Time
	CSRFToken      string
}

// Dependencies groups the collaborators of SessionService.
type Dependencies struct {
	Directory    Directory
	Customers    CustomerRegistry
	Store        RefreshStore
	Hasher       Hasher
	Issuer       *utils.Issuer
	LoginLimiter *ratelimit.Limiter
	Events       EventPublisher
	Logger       *slog.Logger
	Now          func() time.Time
}

// SessionService implements login, rotation and logout.
type SessionService struct {
	dir       Directory
	customers CustomerRegistry
	store     RefreshStore
	hasher    Hasher
	issuer    *utils.Issuer
	limiter   *ratelimit.Limiter
	events    EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewSessionService(d Dependencies) *SessionService {
	s := &SessionService{
		dir:       d.Directory,
		customers: d.Customers,
		store:     d.Store,
		hasher:    d.Hasher,
		issuer:    d.Issuer,
		limiter:   d.LoginLimiter,
		events:    d.Events,
		logger:    d.Logger,
		now:       d.Now,
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("module", "service.session", "layer", "application")
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// LoginKey is the rate limit key of a login attempt: (endpoint, ip, identifier).
func LoginKey(kind model.Kind, ip, identifier string) string {
	return "login:" + string(kind) + ":" + ip + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

// Login verifies a password and opens a new session.
func (s *SessionService) Login(ctx context.Context, kind model.Kind, identifier, password string, client Client) (Tokens, error) {
	if !kind.Valid() || strings.TrimSpace(identifier) == "" || password == "" {
		return Tokens{}, ErrInvalidCredentials
	}
	key := LoginKey(kind, client.IP, identifier)
	if s.limiter != nil {
		dec, err := s.limiter.Hit(ctx, key)
		if err != nil {
			return Tokens{}, fmt.Errorf("login rate limit: %w", err)
		}
		if !dec.Allowed {
			s.logger.WarnContext(ctx, "login rate limited",
				"operation", "login", "outcome", "rate_limited", "kind", kind, "ip", client.IP,
				"retry_after_s", dec.RetryAfterSeconds())
			s.emit(ctx, EventLoginRateLimited, model.OwnerRef{Kind: kind}, "", client, "")
			return Tokens{}, &RateLimitedError{RetryAfter: dec.RetryAfter, Seconds: dec.RetryAfterSeconds()}
		}
	}

	p, err := s.dir.FindByLogin(ctx, kind, identifier)
	if errors.Is(err, repository.ErrPrincipalNotFound) {
		s.hasher.Burn(password)
		s.emit(ctx, EventLoginFailed, model.OwnerRef{Kind: kind}, "", client, "unknown principal")
		return Tokens{}, ErrInvalidCredentials
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("find principal: %w", err)
	}
	if !s.hasher.Verify(p.PasswordHash, password) {
		s.emit(ctx, EventLoginFailed, p.Owner(), "", client, "password mismatch")
		return Tokens{}, ErrInvalidCredentials
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "reset login limiter failed", "operation", "login", "error", err)
		}
	}
	tokens, err := s.open(ctx, p, client)
	if err != nil {
		return Tokens{}, err
	}
	s.emit(ctx, EventLoginSucceeded, p.Owner(), tokens.RefreshID, client, "")
	return tokens, nil
}

// RegisterInput is the self-registration payload of a customer.
type RegisterInput struct {
	ShopID   string
	Username string
	Email    string
	Password string
}

// RegisterCustomer creates a customer and opens a session for it.
func (s *SessionService) RegisterCustomer(ctx context.Context, in RegisterInput, client Client) (Tokens, error) {
	if s.customers == nil {
		return Tokens{}, errors.New("customer registration not configured")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") || len(in.Password) < 8 {
		return Tokens{}, ErrInvalidInput
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Tokens{}, fmt.Errorf("hash password: %w", err)
	}
	p, err := s.customers.CreateCustomer(ctx, repository.NewCustomer{
		ShopID:       in.ShopID,
		Username:     in.Username,
		Email:        email,
		PasswordHash: hash,
	})
	if errors.Is(err, repository.ErrIdentifierTaken) {
		return Tokens{}, ErrConflict
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("create customer: %w", err)
	}
	tokens, err := s.open(ctx, p, client)
	if err != nil {
		return Tokens{}, err
	}
	s.emit(ctx, EventRegistered, p.Owner(), tokens.RefreshID, client, "")
	return tokens, nil
}

// Rotate exchanges a refresh token (id + secret) for a new access token and
// a new refresh token.  The presented token is consumed:
//
//   - unknown id: ErrInvalidToken
//   - id of a token already rotated away: the owner's sessions are all
//     revoked, ErrInvalidToken
//   - expired: row deleted, ErrTokenExpired
//   - secret mismatch: the owner's sessions are all revoked, ErrInvalidToken
//   - owner no longer resolvable: row deleted, ErrInvalidSession
//
// Two concurrent calls with the same token never both succeed.
func (s *SessionService) Rotate(ctx context.Context, id, secret string, client Client) (Tokens, error) {
	if id == "" || secret == "" {
		return Tokens{}, ErrInvalidToken
	}

	var (
		failure error
		owner   model.OwnerRef
		out     Tokens
	)
	err := s.store.Rotate(ctx, id, func(cur model.RefreshToken) (repository.RotateDecision, error) {
		failure, out = nil, Tokens{}
		owner = cur.Owner
		if cur.Expired(s.now()) {
			failure = ErrTokenExpired
			return repository.RotateDecision{Action: repository.ActionDelete}, nil
		}
		if !s.hasher.Verify(cur.SecretHash, secret) {
			failure = ErrInvalidToken
			return repository.RotateDecision{Action: repository.ActionRevokeOwner}, nil
		}
		p, err := s.dir.Resolve(ctx, cur.Owner)
		if errors.Is(err, repository.ErrPrincipalNotFound) {
			failure = ErrInvalidSession
			return repository.RotateDecision{Action: repository.ActionDelete}, nil
		}
		if err != nil {
			return repository.RotateDecision{}, fmt.Errorf("resolve owner: %w", err)
		}
		if client.IP == "" {
			client.IP = cur.Meta.IP
		}
		if client.UserAgent == "" {
			client.UserAgent = cur.Meta.UserAgent
		}
		next, tokens, err := s.mint(p, client)
		if err != nil {
			return repository.RotateDecision{}, err
		}
		out = tokens
		return repository.RotateDecision{Action: repository.ActionReplace, Next: next}, nil
	})

	switch {
	case errors.Is(err, repository.ErrRefreshReused):
		var reused *repository.ReusedError
		if !errors.As(err, &reused) {
			return Tokens{}, ErrInvalidToken
		}
		return Tokens{}, s.revokeOnReuse(ctx, reused.Owner, id, client, "rotated token replayed")
	case errors.Is(err, repository.ErrRefreshNotFound):
		return Tokens{}, ErrInvalidToken
	case err != nil:
		return Tokens{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	switch failure {
	case nil:
	case ErrInvalidToken:
		s.logger.WarnContext(ctx, "refresh secret mismatch, owner sessions revoked",
			"operation", "refresh", "outcome", "reuse_detected", "owner", owner.String(), "session_id", id, "ip", client.IP)
		s.emit(ctx, EventReuseDetected, owner, id, client, "secret mismatch")
		return Tokens{}, ErrInvalidToken
	case ErrTokenExpired:
		s.emit(ctx, EventSessionExpired, owner, id, client, "")
		return Tokens{}, ErrTokenExpired
	case ErrInvalidSession:
		s.emit(ctx, EventSessionOrphaned, owner, id, client, "")
		return Tokens{}, ErrInvalidSession
	default:
		return Tokens{}, failure
	}

	s.emit(ctx, EventSessionRotated, owner, out.RefreshID, client, "from "+id)
	return out, nil
}

func (s *SessionService) revokeOnReuse(ctx context.Context, owner model.OwnerRef, id string, client Client, detail string) error {
	n, err := s.store.DeleteByOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("revoke sessions of %s: %w", owner, err)
	}
	s.logger.WarnContext(ctx, "refresh token reuse detected, owner sessions revoked",
		"operation", "refresh", "outcome", "reuse_detected", "owner", owner.String(),
		"session_id", id, "revoked", n, "ip", client.IP)
	s.emit(ctx, EventReuseDetected, owner, id, client, detail)
	return ErrInvalidToken
}

// Logout deletes the session id after checking its csrf value.  An unknown
// session is treated as already logged out.
func (s *SessionService) Logout(ctx context.Context, id, csrf string, client Client) error {
	if id == "" {
		return nil
	}
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, repository.ErrRefreshNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !equalTokens(rec.Meta.CSRFToken, csrf) {
		return ErrCSRFMismatch
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.emit(ctx, EventLogout, rec.Owner, id, client, "")
	return nil
}

// LogoutAll deletes every session of owner.
func (s *SessionService) LogoutAll(ctx context.Context, owner model.OwnerRef, client Client) (int64, error) {
	n, err := s.store.DeleteByOwner(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	s.emit(ctx, EventLogoutAll, owner, "", client, fmt.Sprintf("%d sessions", n))
	return n, nil
}

// SessionCSRF compares presented against the csrf value stored for session
// id.  A missing session yields ErrInvalidSession.
func (s *SessionService) SessionCSRF(ctx context.Context, id, presented string) (model.OwnerRef, error) {
	if id == "" {
		return model.OwnerRef{}, ErrInvalidSession
	}
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, repository.ErrRefreshNotFound) {
		return model.OwnerRef{}, ErrInvalidSession
	}
	if err != nil {
		return model.OwnerRef{}, fmt.Errorf("load session: %w", err)
	}
	if rec.Expired(s.now()) {
		return model.OwnerRef{}, ErrInvalidSession
	}
	if !equalTokens(rec.Meta.CSRFToken, presented) {
		return rec.Owner, ErrCSRFMismatch
	}
	return rec.Owner, nil
}

// open mints a session for p and persists its refresh token.
func (s *SessionService) open(ctx context.Context, p model.Principal, client Client) (Tokens, error) {
	rec, tokens, err := s.mint(p, client)
	if err != nil {
		return Tokens{}, err
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return Tokens{}, fmt.Errorf("store refresh token: %w", err)
	}
	return tokens, nil
}

// mint builds a refresh row and the matching client tokens without
// persisting anything.
func (s *SessionService) mint(p model.Principal, client Client) (model.RefreshToken, Tokens, error) {
	secret, err := utils.NewRefreshSecret()
	if err != nil {
		return model.RefreshToken{}, Tokens{}, fmt.Errorf("refresh secret: %w", err)
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return model.RefreshToken{}, Tokens{}, fmt.Errorf("hash refresh secret: %w", err)
	}
	csrf, err := utils.NewCSRFToken()
	if err != nil {
		return model.RefreshToken{}, Tokens{}, fmt.Errorf("csrf token: %w", err)
	}
	now := s.now()
	rec := model.RefreshToken{
		ID:         uuid.NewString(),
		SecretHash: hash,
		Owner:      p.Owner(),
		Meta:       model.NewRefreshMeta(p.Owner(), csrf, client.IP, client.UserAgent),
		ExpiresAt:  s.issuer.RefreshExpiry(now),
		CreatedAt:  now,
	}
	access, err := s.issuer.IssueAccessToken(p, rec.ID)
	if err != nil {
		return model.RefreshToken{}, Tokens{}, fmt.Errorf("issue access token: %w", err)
	}
	return rec, Tokens{
		Principal:      p,
		Access:         access,
		RefreshID:      rec.ID,
		RefreshSecret:  secret,
		RefreshExpires: rec.ExpiresAt,
		CSRFToken:      csrf,
	}, nil
}

func (s *SessionService) emit(ctx context.Context, typ string, owner model.OwnerRef, sessionID string, client Client, detail string) {
	s.events.Publish(ctx, queue.AuthEvent{
		Type:       typ,
		OwnerKind:  string(owner.Kind),
		OwnerID:    owner.ID,
		SessionID:  sessionID,
		Endpoint:   client.Endpoint,
		IP:         client.IP,
		UserAgent:  client.UserAgent,
		Detail:     detail,
		OccurredAt: s.now().Format(time.RFC3339),
	})
}

func equalTokens(stored, presented string) bool {
	if stored == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
