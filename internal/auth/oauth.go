package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// GitHubUser is the profile returned after a successful sign-in, together with
// the access token granted by the user.
type GitHubUser struct {
	ID          int64
	Login       string
	Name        string
	Email       string
	AvatarURL   string
	AccessToken string
}

// GitHubProvider runs the OAuth authorization-code flow. The repo scope is
// requested because analyses read private repository contents with the
// caller's token.
type GitHubProvider struct {
	config  *oauth2.Config
	baseURL string
}

// NewGitHubProvider configures the flow for github.com, or for a GitHub
// Enterprise host when baseURL is set (e.g. https://ghe.example.com/api/v3/).
func NewGitHubProvider(clientID, clientSecret, callbackURL, baseURL string) *GitHubProvider {
	endpoint := github.Endpoint
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err == nil {
			host := u.Scheme + "://" + u.Host
			endpoint = oauth2.Endpoint{
				AuthURL:  host + "/login/oauth/authorize",
				TokenURL: host + "/login/oauth/access_token",
			}
		}
	}
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email", "repo"},
			Endpoint:     endpoint,
		},
		baseURL: baseURL,
	}
}

// AuthURL is where the browser is sent to approve access. state is echoed back
// to the callback and must match the state cookie.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the callback code for a token and fetches the profile.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	client := gogithub.NewClient(p.config.Client(ctx, token))
	if p.baseURL != "" {
		base := strings.TrimRight(p.baseURL, "/") + "/"
		client, err = client.WithEnterpriseURLs(base, base)
		if err != nil {
			return nil, fmt.Errorf("auth: configuring enterprise URL: %w", err)
		}
	}

	u, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("auth: fetching GitHub profile: %w", err)
	}
	if u.GetID() == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	email := u.GetEmail()
	if email == "" {
		// Hidden public email: fall back to the primary verified address.
		emails, _, err := client.Users.ListEmails(ctx, nil)
		if err == nil {
			for _, e := range emails {
				if e.GetPrimary() && e.GetVerified() {
					email = e.GetEmail()
					break
				}
			}
		}
	}

	return &GitHubUser{
		ID:          u.GetID(),
		Login:       u.GetLogin(),
		Name:        u.GetName(),
		Email:       email,
		AvatarURL:   u.GetAvatarURL(),
		AccessToken: token.AccessToken,
	}, nil
}
