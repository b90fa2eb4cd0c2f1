package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/sakif/docx/internal/apperror"
)

// ExternalIdentity is what every provider adapter boils a login down to:
// the provider's stable account ID and its current display name.
type ExternalIdentity struct {
	ExternalID  string
	DisplayName string // empty when the provider has no usable handle (Google)
}

// Exchanger turns an OAuth authorization code into an ExternalIdentity.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. AuthURL sends the browser to the provider's consent screen
//  2. The provider redirects back to our callback with a short-lived "code"
//  3. Exchange trades the code for an access token (server-to-server,
//     form-encoded, using our client secret)
//  4. Exchange calls the provider's "current user" endpoint with that token
//
// Every failure in steps 3 and 4 is an apperror.ExchangeFailed.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*ExternalIdentity, error)
	AuthURL(state string) string
}

// ProviderConfig holds one provider's client credentials.
//
// The endpoint fields are optional overrides; leave them empty in
// production. Tests point them at an httptest server.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string // profile endpoint (GitHub, Discord) or API base URL (Google)

	// HTTPClient is used for both the token and the profile call.
	// nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Enabled reports whether credentials are configured. A provider without
// them is left out and its flow fails instead of crashing the process.
func (c ProviderConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// oauthProvider is the part shared by every adapter: an oauth2.Config and
// a profile endpoint.
type oauthProvider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

func newOAuthProvider(name string, cfg ProviderConfig, endpoint oauth2.Endpoint, scopes []string, userInfoURL string) oauthProvider {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	// Credentials go in the form body, which every provider here accepts.
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	if cfg.UserInfoURL != "" {
		userInfoURL = cfg.UserInfoURL
	}

	return oauthProvider{
		name: name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		httpClient:  cfg.HTTPClient,
	}
}

// AuthURL returns the consent URL. state is echoed back on the callback.
func (p oauthProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// withClient makes x/oauth2 use our HTTP client for its own requests.
func (p oauthProvider) withClient(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// token exchanges the authorization code for an access token.
// x/oauth2 rejects responses without access_token, which is how GitHub
// answers a bad code (HTTP 200 with an error body).
func (p oauthProvider) token(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := p.config.Exchange(p.withClient(ctx), code)
	if err != nil {
		return nil, apperror.ExchangeFailed(p.name, fmt.Errorf("exchanging code: %w", err))
	}
	if tok.AccessToken == "" {
		return nil, apperror.ExchangeFailed(p.name, errors.New("no access token returned"))
	}
	return tok, nil
}

// fetchProfile GETs the profile endpoint with the access token as a bearer
// credential and decodes the JSON body into dst.
func (p oauthProvider) fetchProfile(ctx context.Context, tok *oauth2.Token, dst any) error {
	ctx = p.withClient(ctx)
	client := p.config.Client(ctx, tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return apperror.ExchangeFailed(p.name, fmt.Errorf("building profile request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return apperror.ExchangeFailed(p.name, fmt.Errorf("calling profile endpoint: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little of the body for the log line; never for the client.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return apperror.ExchangeFailed(p.name,
			fmt.Errorf("profile endpoint returned status %d: %s", resp.StatusCode, snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return apperror.ExchangeFailed(p.name, fmt.Errorf("decoding profile: %w", err))
	}
	return nil
}
