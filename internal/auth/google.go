package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/sakif/docx/internal/apperror"
)

// GoogleProvider exchanges Google authorization codes.
//
// The profile is read through the generated Google API client
// (oauth2/v2 Userinfo.Get). Google's payload has no durable handle, so
// DisplayName stays empty and the caller generates a username instead.
type GoogleProvider struct {
	oauthProvider
}

// NewGoogleProvider creates a GoogleProvider. cfg.UserInfoURL, when set,
// replaces the Google API base URL (tests only).
func NewGoogleProvider(cfg ProviderConfig) *GoogleProvider {
	return &GoogleProvider{
		oauthProvider: newOAuthProvider("google", cfg, google.Endpoint, []string{"openid", "profile"}, ""),
	}
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*ExternalIdentity, error) {
	tok, err := p.token(ctx, code)
	if err != nil {
		return nil, err
	}

	ctx = p.withClient(ctx)
	opts := []option.ClientOption{option.WithHTTPClient(p.config.Client(ctx, tok))}
	if p.userInfoURL != "" {
		opts = append(opts, option.WithEndpoint(p.userInfoURL))
	}

	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, apperror.ExchangeFailed(p.name, fmt.Errorf("creating userinfo client: %w", err))
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, apperror.ExchangeFailed(p.name, fmt.Errorf("fetching userinfo: %w", err))
	}
	if info.Id == "" {
		return nil, apperror.ExchangeFailed(p.name, errors.New("userinfo has no id"))
	}

	return &ExternalIdentity{ExternalID: info.Id}, nil
}
