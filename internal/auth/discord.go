package auth

import (
	"context"
	"errors"

	"golang.org/x/oauth2"

	"github.com/sakif/docx/internal/apperror"
)

const discordUserURL = "https://discord.com/api/users/@me"

// discordEndpoint is Discord's OAuth2 endpoint pair.
var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

// DiscordUser is the subset of GET /users/@me we read.
type DiscordUser struct {
	ID       string `json:"id"` // snowflake, sent as a string
	Username string `json:"username"`
}

// DiscordProvider exchanges Discord authorization codes. Only the
// "identify" scope is requested.
type DiscordProvider struct {
	oauthProvider
}

func NewDiscordProvider(cfg ProviderConfig) *DiscordProvider {
	return &DiscordProvider{
		oauthProvider: newOAuthProvider("discord", cfg, discordEndpoint, []string{"identify"}, discordUserURL),
	}
}

func (p *DiscordProvider) Exchange(ctx context.Context, code string) (*ExternalIdentity, error) {
	tok, err := p.token(ctx, code)
	if err != nil {
		return nil, err
	}

	var u DiscordUser
	if err := p.fetchProfile(ctx, tok, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, apperror.ExchangeFailed(p.name, errors.New("profile has no id"))
	}

	return &ExternalIdentity{ExternalID: u.ID, DisplayName: u.Username}, nil
}
