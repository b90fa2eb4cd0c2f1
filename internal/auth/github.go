package auth

import (
	"context"
	"encoding/json"
	"errors"

	"golang.org/x/oauth2/github"

	"github.com/sakif/docx/internal/apperror"
)

const githubUserURL = "https://api.github.com/user"

// GitHubUser is the portion of the GitHub /user API response we care about.
//
// GitHub API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type GitHubUser struct {
	ID    json.Number `json:"id"`    // numeric, stable, never changes
	Login string      `json:"login"` // GitHub username; can be changed by the user
}

// GitHubProvider exchanges GitHub authorization codes.
type GitHubProvider struct {
	oauthProvider
}

// NewGitHubProvider creates a GitHubProvider. Register the OAuth App at
// https://github.com/settings/developers; the callback URL must match
// cfg.RedirectURL exactly.
func NewGitHubProvider(cfg ProviderConfig) *GitHubProvider {
	return &GitHubProvider{
		oauthProvider: newOAuthProvider("github", cfg, github.Endpoint, []string{"read:user"}, githubUserURL),
	}
}

// Exchange trades the code for a token, then reads /user.
// The login becomes the display name and is re-synced on every login.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*ExternalIdentity, error) {
	tok, err := p.token(ctx, code)
	if err != nil {
		return nil, err
	}

	var u GitHubUser
	if err := p.fetchProfile(ctx, tok, &u); err != nil {
		return nil, err
	}
	if u.ID == "" || u.ID == "0" {
		return nil, apperror.ExchangeFailed(p.name, errors.New("profile has no id"))
	}

	return &ExternalIdentity{ExternalID: u.ID.String(), DisplayName: u.Login}, nil
}
