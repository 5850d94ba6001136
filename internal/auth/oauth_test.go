package auth

import (
	"net/url"
	"strings"
	"testing"
)

func TestAuthURL_IncludesStateAndScopes(t *testing.T) {
	p := NewGitHubProvider("client-id", "secret", "http://localhost:8080/auth/github/callback", "")

	u, err := url.Parse(p.AuthURL("state-123"))
	if err != nil {
		t.Fatalf("AuthURL() not a URL: %v", err)
	}
	if u.Host != "github.com" {
		t.Errorf("host = %q, want github.com", u.Host)
	}
	q := u.Query()
	if q.Get("state") != "state-123" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if q.Get("client_id") != "client-id" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if !strings.Contains(q.Get("scope"), "repo") {
		t.Errorf("scope %q should request repo access", q.Get("scope"))
	}
}

func TestAuthURL_Enterprise(t *testing.T) {
	p := NewGitHubProvider("id", "secret", "cb", "https://ghe.example.com/api/v3/")

	u, err := url.Parse(p.AuthURL("s"))
	if err != nil {
		t.Fatalf("AuthURL() not a URL: %v", err)
	}
	if u.Host != "ghe.example.com" || u.Path != "/login/oauth/authorize" {
		t.Errorf("AuthURL() = %s, want the enterprise authorize endpoint", u)
	}
}
