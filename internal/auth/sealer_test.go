package auth

import (
	"strings"
	"testing"
)

func newTestSealer(t *testing.T, secret string) *Sealer {
	t.Helper()
	s, err := NewSealer(secret)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestSealer_RoundTrip(t *testing.T) {
	s := newTestSealer(t, "test-secret-at-least-16-chars!!")

	sealed, err := s.Seal("gho_example_token")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.Contains(sealed, "gho_example_token") {
		t.Fatal("Seal() output contains the plaintext")
	}

	got, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got != "gho_example_token" {
		t.Errorf("Open() = %q, want %q", got, "gho_example_token")
	}
}

func TestSealer_FreshNoncePerSeal(t *testing.T) {
	s := newTestSealer(t, "test-secret-at-least-16-chars!!")

	a, _ := s.Seal("same")
	b, _ := s.Seal("same")
	if a == b {
		t.Error("Seal() produced identical output for two calls")
	}
}

func TestSealer_WrongKey(t *testing.T) {
	sealed, _ := newTestSealer(t, "first-secret-16-chars").Seal("token")

	if _, err := newTestSealer(t, "other-secret-16-chars").Open(sealed); err == nil {
		t.Fatal("Open() should fail under a different secret")
	}
}

func TestSealer_Garbage(t *testing.T) {
	s := newTestSealer(t, "test-secret-at-least-16-chars!!")

	for _, in := range []string{"", "%%%", "c2hvcnQ"} {
		if _, err := s.Open(in); err == nil {
			t.Errorf("Open(%q) should fail", in)
		}
	}
}

func TestNewSealer_ShortSecret(t *testing.T) {
	if _, err := NewSealer("short"); err == nil {
		t.Fatal("NewSealer() should reject short secrets")
	}
}
