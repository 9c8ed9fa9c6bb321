package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/service-order-auth/internal/model"
	"github.com/iliyamo/service-order-auth/internal/queue"
	"github.com/iliyamo/service-order-auth/internal/ratelimit"
	"github.com/iliyamo/service-order-auth/internal/repository"
	"github.com/iliyamo/service-order-auth/internal/utils"
)

const (
	testSecret   = "test-secret-that-is-long-enough-for-hs256"
	testPassword = "correct horse battery"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDirectory struct {
	mu      sync.Mutex
	byLogin map[string]model.Principal
	byOwner map[model.OwnerRef]model.Principal
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{byLogin: map[string]model.Principal{}, byOwner: map[model.OwnerRef]model.Principal{}}
}

func (d *fakeDirectory) add(p model.Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byLogin[string(p.Kind)+"|"+p.Username] = p
	d.byLogin[string(p.Kind)+"|"+p.Email] = p
	d.byOwner[p.Owner()] = p
}

func (d *fakeDirectory) remove(o model.OwnerRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byOwner, o)
}

func (d *fakeDirectory) FindByLogin(_ context.Context, kind model.Kind, identifier string) (model.Principal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byLogin[string(kind)+"|"+identifier]
	if !ok {
		return model.Principal{}, repository.ErrPrincipalNotFound
	}
	return p, nil
}

func (d *fakeDirectory) Resolve(_ context.Context, o model.OwnerRef) (model.Principal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byOwner[o]
	if !ok {
		return model.Principal{}, repository.ErrPrincipalNotFound
	}
	return p, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.AuthEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev queue.AuthEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingPublisher) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	svc    *SessionService
	store  *repository.RedisTokenStore
	dir    *fakeDirectory
	clock  *testClock
	events *recordingPublisher
	tech   model.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &testClock{now: time.Now().UTC()}
	hasher := utils.NewHasher(bcrypt.MinCost)
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	tech := model.Principal{
		Kind: model.KindTech, Role: model.RoleManager, ID: "7", TenantID: "3",
		Username: "mgr", Email: "mgr@shop.test", PasswordHash: hash,
	}
	dir := newFakeDirectory()
	dir.add(tech)

	issuer, err := utils.NewIssuer(testSecret, "test", 15*time.Minute, 30)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	issuer.WithClock(clock.Now)
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore().WithClock(clock.Now), ratelimit.LoginPolicy)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	limiter.WithClock(clock.Now)

	store := repository.NewRedisTokenStore(rdb, "test")
	events := &recordingPublisher{}
	svc := NewSessionService(Dependencies{
		Directory:    dir,
		Store:        store,
		Hasher:       hasher,
		Issuer:       issuer,
		LoginLimiter: limiter,
		Events:       events,
		Now:          clock.Now,
	})
	return &fixture{svc: svc, store: store, dir: dir, clock: clock, events: events, tech: tech}
}

func (f *fixture) login(t *testing.T) Tokens {
	t.Helper()
	tok, err := f.svc.Login(context.Background(), model.KindTech, "mgr", testPassword, Client{IP: "10.0.0.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return tok
}

func TestLoginIssuesSession(t *testing.T) {
	f := newFixture(t)
	tok := f.login(t)

	if tok.RefreshID == "" || tok.RefreshSecret == "" || tok.CSRFToken == "" || tok.Access.Token == "" {
		t.Fatalf("incomplete tokens: %+v", tok)
	}
	if tok.Principal.TenantID != "3" {
		t.Fatalf("expected tenant 3, got %q", tok.Principal.TenantID)
	}
	rec, err := f.store.Get(context.Background(), tok.RefreshID)
	if err != nil {
		t.Fatalf("stored token missing: %v", err)
	}
	if rec.SecretHash == tok.RefreshSecret {
		t.Fatalf("secret stored in clear")
	}
	if rec.Meta.CSRFToken != tok.CSRFToken || rec.Meta.TechID != "7" {
		t.Fatalf("unexpected meta: %+v", rec.Meta)
	}
	if got := rec.ExpiresAt.Sub(f.clock.Now()); got != 30*24*time.Hour {
		t.Fatalf("expected 30 day expiry, got %s", got)
	}
}

func TestLoginRejectsUnknownAndWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Login(ctx, model.KindTech, "nobody", testPassword, Client{IP: "1.1.1.1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown principal: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.Login(ctx, model.KindTech, "mgr", "wrong", Client{IP: "1.1.1.1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.Login(ctx, model.KindShop, "mgr", testPassword, Client{IP: "1.1.1.1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong endpoint: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginRateLimitAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := Client{IP: "10.0.0.9"}

	for i := 0; i < 4; i++ {
		if _, err := f.svc.Login(ctx, model.KindTech, "mgr", "wrong", client); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	// fifth attempt succeeds and clears the window
	if _, err := f.svc.Login(ctx, model.KindTech, "mgr", testPassword, client); err != nil {
		t.Fatalf("correct password within budget failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.svc.Login(ctx, model.KindTech, "mgr", "wrong", client); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d after reset: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	_, err := f.svc.Login(ctx, model.KindTech, "mgr", testPassword, client)
	var rl *RateLimitedError
	if !errors.As(err, &rl) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.Seconds <= 0 || rl.Seconds > 900 {
		t.Fatalf("retry after out of range: %d", rl.Seconds)
	}

	f.clock.Advance(15*time.Minute + time.Second)
	if _, err := f.svc.Login(ctx, model.KindTech, "mgr", testPassword, client); err != nil {
		t.Fatalf("login after window expiry failed: %v", err)
	}
}

func TestRotateChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.login(t)

	second, err := f.svc.Rotate(ctx, first.RefreshID, first.RefreshSecret, Client{})
	if err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}
	if second.RefreshID == first.RefreshID || second.RefreshSecret == first.RefreshSecret || second.CSRFToken == first.CSRFToken {
		t.Fatalf("rotation reused credentials")
	}
	if _, err := f.store.Get(ctx, first.RefreshID); !errors.Is(err, repository.ErrRefreshNotFound) {
		t.Fatalf("predecessor still stored: %v", err)
	}
	rec, err := f.store.Get(ctx, second.RefreshID)
	if err != nil {
		t.Fatalf("successor missing: %v", err)
	}
	if rec.Meta.IP != "10.0.0.1" {
		t.Fatalf("client ip not carried forward: %+v", rec.Meta)
	}

	third, err := f.svc.Rotate(ctx, second.RefreshID, second.RefreshSecret, Client{})
	if err != nil {
		t.Fatalf("second rotation failed: %v", err)
	}
	claims, err := f.svc.issuer.ParseAccessToken(third.Access.Token)
	if err != nil {
		t.Fatalf("parse rotated access token: %v", err)
	}
	if claims.SessionID != third.RefreshID || claims.TenantID != "3" || claims.Role != model.RoleManager {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestRotateReplayRevokesEverySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stolen := f.login(t)
	other := f.login(t)

	rotated, err := f.svc.Rotate(ctx, stolen.RefreshID, stolen.RefreshSecret, Client{})
	if err != nil {
		t.Fatalf("rotation failed: %v", err)
	}

	if _, err := f.svc.Rotate(ctx, stolen.RefreshID, stolen.RefreshSecret, Client{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("replay: expected ErrInvalidToken, got %v", err)
	}
	for _, id := range []string{rotated.RefreshID, other.RefreshID} {
		if _, err := f.store.Get(ctx, id); !errors.Is(err, repository.ErrRefreshNotFound) {
			t.Fatalf("session %s survived reuse detection: %v", id, err)
		}
	}
	if _, err := f.svc.Rotate(ctx, rotated.RefreshID, rotated.RefreshSecret, Client{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("rotated token after revocation: expected ErrInvalidToken, got %v", err)
	}
	if f.events.count(EventReuseDetected) == 0 {
		t.Fatalf("reuse event not published")
	}
}

func TestRotateWrongSecretRevokesOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.login(t)
	b := f.login(t)

	if _, err := f.svc.Rotate(ctx, a.RefreshID, "guessed-secret", Client{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	for _, id := range []string{a.RefreshID, b.RefreshID} {
		if _, err := f.store.Get(ctx, id); !errors.Is(err, repository.ErrRefreshNotFound) {
			t.Fatalf("session %s survived: %v", id, err)
		}
	}
}

func TestRotateUnknownID(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Rotate(context.Background(), "does-not-exist", "x", Client{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRotateExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.login(t)

	f.clock.Advance(31 * 24 * time.Hour)
	if _, err := f.svc.Rotate(ctx, tok.RefreshID, tok.RefreshSecret, Client{}); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := f.store.Get(ctx, tok.RefreshID); !errors.Is(err, repository.ErrRefreshNotFound) {
		t.Fatalf("expired row not deleted: %v", err)
	}
}

func TestRotateOwnerGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.login(t)

	f.dir.remove(f.tech.Owner())
	if _, err := f.svc.Rotate(ctx, tok.RefreshID, tok.RefreshSecret, Client{}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if _, err := f.store.Get(ctx, tok.RefreshID); !errors.Is(err, repository.ErrRefreshNotFound) {
		t.Fatalf("orphaned row not deleted: %v", err)
	}
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.login(t)

	const workers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Rotate(ctx, tok.RefreshID, tok.RefreshSecret, Client{})
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrInvalidToken):
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestLogoutChecksCSRF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.login(t)

	if err := f.svc.Logout(ctx, tok.RefreshID, "wrong", Client{}); !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected ErrCSRFMismatch, got %v", err)
	}
	if err := f.svc.Logout(ctx, tok.RefreshID, tok.CSRFToken, Client{}); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := f.store.Get(ctx, tok.RefreshID); !errors.Is(err, repository.ErrRefreshNotFound) {
		t.Fatalf("session survived logout: %v", err)
	}
	if err := f.svc.Logout(ctx, tok.RefreshID, tok.CSRFToken, Client{}); err != nil {
		t.Fatalf("second logout should be a no-op, got %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t)
	f.login(t)

	n, err := f.svc.LogoutAll(ctx, f.tech.Owner(), Client{})
	if err != nil {
		t.Fatalf("logout all failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", n)
	}
}

func TestSessionCSRF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.login(t)

	owner, err := f.svc.SessionCSRF(ctx, tok.RefreshID, tok.CSRFToken)
	if err != nil {
		t.Fatalf("matching csrf rejected: %v", err)
	}
	if owner != f.tech.Owner() {
		t.Fatalf("unexpected owner %v", owner)
	}
	if _, err := f.svc.SessionCSRF(ctx, tok.RefreshID, "other"); !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected ErrCSRFMismatch, got %v", err)
	}
	if _, err := f.svc.SessionCSRF(ctx, "missing", tok.CSRFToken); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}
