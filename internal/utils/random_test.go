package utils

import (
	"strings"
	"testing"
)

func TestRandomTokens(t *testing.T) {
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	if len(secret) != 64 || strings.ContainsAny(secret, "+/=") {
		t.Fatalf("unexpected refresh secret encoding %q", secret)
	}
	csrf, err := NewCSRFToken()
	if err != nil {
		t.Fatalf("csrf: %v", err)
	}
	if len(csrf) != 43 {
		t.Fatalf("csrf token length %d", len(csrf))
	}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		s, _ := NewCSRFToken()
		if seen[s] {
			t.Fatalf("duplicate token %q", s)
		}
		seen[s] = true
	}
}
