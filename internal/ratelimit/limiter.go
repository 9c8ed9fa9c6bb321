// Package ratelimit implements the sliding-window abuse counter used by the
// login endpoints and the generic API limiter.
//
// A window opens on the first attempt for a key and lasts Policy.Window.
// Attempts inside the window increment the counter; once the counter has
// reached Policy.Max further attempts are rejected until the window ends.
// An expired window is replaced, never incremented.  Reset deletes the entry
// so a successful login is not penalized by earlier failures.
package ratelimit

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// Entry is the persisted state of one key.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Expired reports whether the window of e has ended at now.
func (e Entry) Expired(now time.Time) bool { return !now.Before(e.ResetAt) }

// Store is the backing table of a Limiter.  Implementations must be safe for
// concurrent use; the Limiter serializes read-modify-write per key itself.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
}

// AtomicStore is a Store that can perform the whole check-expire-increment
// step on its side, which keeps limits exact across several processes.
type AtomicStore interface {
	Store
	Hit(ctx context.Context, key string, p Policy, now time.Time) (Entry, bool, error)
}

// Policy is the attempt budget of a limiter.
type Policy struct {
	Max    int
	Window time.Duration
}

var (
	LoginPolicy = Policy{Max: 5, Window: 15 * time.Minute}
	APIPolicy   = Policy{Max: 100, Window: 15 * time.Minute}
)

var ErrInvalidPolicy = errors.New("ratelimit: policy needs Max > 0 and Window > 0")

// Decision is the outcome of one Hit.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Remaining is the number of attempts left in the current window.
func (d Decision) Remaining() int {
	if r := d.Limit - d.Count; r > 0 {
		return r
	}
	return 0
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the
// Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

const lockStripes = 64

// Limiter applies a Policy over a Store.
type Limiter struct {
	store  Store
	policy Policy
	now    func() time.Time
	locks  [lockStripes]sync.Mutex
}

// New returns a Limiter over store.
func New(store Store, p Policy) (*Limiter, error) {
	if p.Max <= 0 || p.Window <= 0 {
		return nil, ErrInvalidPolicy
	}
	return &Limiter{store: store, policy: p, now: time.Now}, nil
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Policy returns the limiter's budget.
func (l *Limiter) Policy() Policy { return l.policy }

// Hit records an attempt for key and reports whether it is allowed.
func (l *Limiter) Hit(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	if as, ok := l.store.(AtomicStore); ok {
		e, allowed, err := as.Hit(ctx, key, l.policy, now)
		if err != nil {
			return Decision{}, err
		}
		return l.decision(e, allowed, now), nil
	}

	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	e, found, err := l.store.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	switch {
	case !found || e.Expired(now):
		e = Entry{Count: 1, ResetAt: now.Add(l.policy.Window)}
	case e.Count >= l.policy.Max:
		return l.decision(e, false, now), nil
	default:
		e.Count++
	}
	if err := l.store.Set(ctx, key, e); err != nil {
		return Decision{}, err
	}
	return l.decision(e, true, now), nil
}

// Reset forgets key.  Called after a successful authentication.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	return l.store.Delete(ctx, key)
}

func (l *Limiter) decision(e Entry, allowed bool, now time.Time) Decision {
	d := Decision{Allowed: allowed, Count: e.Count, Limit: l.policy.Max, ResetAt: e.ResetAt}
	if !allowed {
		d.RetryAfter = e.ResetAt.Sub(now)
	}
	return d
}

func (l *Limiter) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.locks[h.Sum32()%lockStripes]
}
