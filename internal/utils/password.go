package utils

import "golang.org/x/crypto/bcrypt"

// DefaultBcryptCost is used when no cost is configured.
const DefaultBcryptCost = 12

// dummyHash is verified against when a login names an unknown principal so
// that the response time matches a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.MinCost)

// Hasher hashes and verifies secrets with bcrypt.  It is used both for
// principal passwords and for refresh-token secrets.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher; a cost outside bcrypt's range falls back to
// DefaultBcryptCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns a bcrypt hash of plain with a fresh salt.
func (h *Hasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether plain matches hash.  A malformed hash, an empty
// input or a wrong password all yield false.
func (h *Hasher) Verify(hash, plain string) bool {
	if hash == "" || plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Burn performs one throwaway comparison.  Login calls it for unknown
// principals.
func (h *Hasher) Burn(plain string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(plain))
}
