// Package service holds the authentication business logic.
//
// AuthService sits between the HTTP handlers and the repository/auth
// utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
//	                   ↘ auth.Exchanger (GitHub, Discord, Google)
//
// KEY RESPONSIBILITIES:
//   - Dispatch one authentication attempt to the right flow
//   - Find-or-create users for OAuth logins and keep their names in sync
//   - Turn a session credential back into a user
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/docx/internal/apperror"
	"github.com/sakif/docx/internal/auth"
	"github.com/sakif/docx/internal/model"
	"github.com/sakif/docx/internal/namegen"
	"github.com/sakif/docx/internal/repository"
)

// generatedNameAttempts bounds the retries when a generated username is
// already taken.
const generatedNameAttempts = 5

// Service is the requested authentication flow.
type Service string

const (
	ServiceNativeRegister Service = "native-register"
	ServiceNativeLogin    Service = "native-login"
	ServiceGitHub         Service = "github"
	ServiceDiscord        Service = "discord"
	ServiceGoogle         Service = "google"
)

// legacyServices maps the short names older clients still send.
var legacyServices = map[string]Service{
	"native-n": ServiceNativeRegister,
	"native-r": ServiceNativeLogin,
}

// ParseService accepts the canonical flow names and the legacy aliases.
// Anything else is apperror.InvalidService.
func ParseService(raw string) (Service, error) {
	raw = strings.TrimSpace(raw)
	if s, ok := legacyServices[raw]; ok {
		return s, nil
	}
	switch s := Service(raw); s {
	case ServiceNativeRegister, ServiceNativeLogin, ServiceGitHub, ServiceDiscord, ServiceGoogle:
		return s, nil
	}
	return "", apperror.InvalidService(raw)
}

// IsOAuth reports whether the flow goes through an external provider.
func (s Service) IsOAuth() bool {
	return s == ServiceGitHub || s == ServiceDiscord || s == ServiceGoogle
}

// Provider is the model.AuthService that users created by this flow get.
func (s Service) Provider() model.AuthService {
	switch s {
	case ServiceGitHub:
		return model.AuthGitHub
	case ServiceDiscord:
		return model.AuthDiscord
	case ServiceGoogle:
		return model.AuthGoogle
	}
	return model.AuthNative
}

// AuthRequest is one authentication attempt. Native flows read Username
// and Password; OAuth flows read Code.
type AuthRequest struct {
	Service  Service
	Username string
	Password string
	Code     string
}

// AuthResult bundles the user and the issued credential so the handler can
// set the cookie and respond in one step. Redirect is true for OAuth flows,
// which answer with a redirect instead of JSON.
type AuthResult struct {
	User     *model.User
	Token    string
	Redirect bool
}

// Providers maps a provider to its adapter. Unconfigured providers are
// simply absent.
type Providers map[model.AuthService]auth.Exchanger

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → read/write user records
//   - tokens     *auth.TokenService         → sign/verify credentials (nil when no secret is configured)
//   - passwords  *auth.PasswordService      → bcrypt hashing
//   - providers  Providers                  → OAuth code exchange
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	providers Providers
	newName   func() string
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	providers Providers,
	logger *slog.Logger,
) *AuthService {
	if providers == nil {
		providers = Providers{}
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		providers: providers,
		newName:   namegen.Generate,
		logger:    logger,
	}
}

// Authenticate runs one authentication attempt.
//
// Errors are *apperror.AppError values. Client mistakes (bad parameters,
// duplicate name, wrong password) keep their message; everything else is
// logged here and should be shown to the user as AuthenticationFailed.
// A panic anywhere in the flow is reported as AuthenticationFailed too.
func (s *AuthService) Authenticate(ctx context.Context, req AuthRequest) (res *AuthResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("authentication panicked",
				slog.String("service", string(req.Service)),
				slog.Any("panic", r),
			)
			res, err = nil, apperror.AuthenticationFailed(fmt.Errorf("panic: %v", r))
		}
	}()

	switch req.Service {
	case ServiceNativeRegister:
		return s.registerNative(ctx, req.Username, req.Password)
	case ServiceNativeLogin:
		return s.loginNative(ctx, req.Username, req.Password)
	case ServiceGitHub, ServiceDiscord, ServiceGoogle:
		return s.loginOAuth(ctx, req.Service, req.Code)
	}
	return nil, apperror.InvalidService(string(req.Service))
}

// =========================================================================
// NATIVE
// =========================================================================

func validateNativeCredentials(username, password string) error {
	if username == "" || password == "" {
		return apperror.InvalidParameters()
	}
	if !model.ValidNativeUsername(username) {
		return apperror.InvalidUsernameFormat()
	}
	return nil
}

func (s *AuthService) registerNative(ctx context.Context, username, password string) (*AuthResult, error) {
	if err := validateNativeCredentials(username, password); err != nil {
		return nil, err
	}
	if len(password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be at most %d bytes", auth.MaxPasswordBytes))
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		s.logger.Error("hashing password", slog.String("error", err.Error()))
		return nil, apperror.AuthenticationFailed(err)
	}

	id, err := s.users.Create(ctx, model.NewUser{
		Username:     model.NormalizeUsername(username),
		AuthService:  model.AuthNative,
		PasswordHash: hash,
	})
	if err != nil {
		s.logFailure("native registration failed", err)
		return nil, err
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		s.logFailure("loading new user", err)
		return nil, err
	}

	s.logger.Info("user registered", slog.Int64("userID", user.ID), slog.String("username", user.Username))
	return s.issue(user, false)
}

func (s *AuthService) loginNative(ctx context.Context, username, password string) (*AuthResult, error) {
	if err := validateNativeCredentials(username, password); err != nil {
		return nil, err
	}

	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.UsernameNotFound()
	}
	if err != nil {
		s.logFailure("native login lookup failed", err)
		return nil, err
	}

	// OAuth accounts have no password to compare against.
	if user.AuthService != model.AuthNative || user.PasswordHash == "" {
		return nil, apperror.PasswordMismatch()
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.PasswordMismatch()
		}
		s.logger.Error("verifying password",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.AuthenticationFailed(err)
	}

	return s.issue(user, false)
}

// =========================================================================
// OAUTH
// =========================================================================

// loginOAuth finds or creates the user behind an authorization code.
//
// FLOW:
//  1. Exchange the code for the provider's account ID and display name
//  2. Look the account up by (provider, account ID)
//  3. Unknown account → create a user
//     Known account   → sync the username with the provider (GitHub, Discord)
//  4. Issue a credential
func (s *AuthService) loginOAuth(ctx context.Context, svc Service, code string) (*AuthResult, error) {
	if code == "" {
		return nil, apperror.InvalidParameters()
	}

	provider := svc.Provider()
	exchanger, ok := s.providers[provider]
	if !ok {
		err := apperror.ExchangeFailed(string(provider), errors.New("provider not configured"))
		s.logFailure("oauth login failed", err)
		return nil, err
	}

	identity, err := exchanger.Exchange(ctx, code)
	if err != nil {
		s.logFailure("oauth exchange failed", err)
		return nil, err
	}

	user, err := s.users.GetByExternalIdentity(ctx, provider, identity.ExternalID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		user, err = s.createOAuthUser(ctx, provider, identity)
		if err != nil {
			s.logFailure("creating oauth user", err)
			return nil, err
		}
		s.logger.Info("user registered",
			slog.Int64("userID", user.ID),
			slog.String("service", string(provider)),
			slog.String("username", user.Username),
		)

	case err != nil:
		s.logFailure("oauth identity lookup failed", err)
		return nil, err

	case provider != model.AuthGoogle:
		if r := s.users.Rename(ctx, user, identity.DisplayName); r.Changed() {
			s.logger.Info("username synced from provider",
				slog.Int64("userID", user.ID),
				slog.String("from", r.OldName),
				slog.String("to", r.NewName),
			)
		}
	}

	return s.issue(user, true)
}

// createOAuthUser inserts the user for a first-time OAuth login.
//
// GitHub and Discord users get their provider handle as username. Google
// users, and handles that are not valid usernames, get a generated name;
// generated names are retried a few times if taken.
func (s *AuthService) createOAuthUser(ctx context.Context, provider model.AuthService, identity *auth.ExternalIdentity) (*model.User, error) {
	nu := model.NewUser{
		AuthService:       provider,
		AuthServiceUserID: identity.ExternalID,
	}

	if provider != model.AuthGoogle && model.ValidRenameTarget(identity.DisplayName) {
		nu.Username = model.NormalizeUsername(identity.DisplayName)
		id, err := s.users.Create(ctx, nu)
		if err != nil {
			return nil, err
		}
		return s.users.GetByID(ctx, id)
	}

	var lastErr error
	for range generatedNameAttempts {
		nu.Username = s.newName()
		id, err := s.users.Create(ctx, nu)
		if err == nil {
			return s.users.GetByID(ctx, id)
		}
		if apperror.CodeOf(err) != apperror.CodeDuplicateUsername {
			return nil, err
		}
		lastErr = err
	}
	return nil, apperror.StorageFailure("generate username", lastErr)
}

// =========================================================================
// SESSIONS
// =========================================================================

// issue signs a credential for user.
func (s *AuthService) issue(user *model.User, redirect bool) (*AuthResult, error) {
	if s.tokens == nil {
		err := apperror.AuthenticationFailed(errors.New("session secret not configured"))
		s.logFailure("issuing session", err)
		return nil, err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.logger.Error("issuing session",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.AuthenticationFailed(err)
	}

	return &AuthResult{User: user, Token: token, Redirect: redirect}, nil
}

// Resolve turns a session credential into the user it was issued for.
// It reports false on any failure: bad or expired credential, or a user
// that no longer exists.
func (s *AuthService) Resolve(ctx context.Context, credential string) (*model.User, bool) {
	if s.tokens == nil || credential == "" {
		return nil, false
	}

	userID, err := s.tokens.Verify(credential)
	if err != nil {
		s.logger.Debug("session rejected", slog.String("error", apperror.DetailOf(err)))
		return nil, false
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.logger.Debug("session user lookup failed",
			slog.Int64("userID", userID),
			slog.String("error", apperror.DetailOf(err)),
		)
		return nil, false
	}
	return user, true
}

// GetUserByID retrieves a user by internal ID.
// Used by the /users/me endpoint.
func (s *AuthService) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// AuthURL returns the provider consent URL for an OAuth flow. ok is false
// for native flows and unconfigured providers.
func (s *AuthService) AuthURL(svc Service, state string) (url string, ok bool) {
	if !svc.IsOAuth() {
		return "", false
	}
	exchanger, ok := s.providers[svc.Provider()]
	if !ok {
		return "", false
	}
	return exchanger.AuthURL(state), true
}

// Ping checks that user storage is reachable.
func (s *AuthService) Ping(ctx context.Context) error {
	return s.users.Ping(ctx)
}

// logFailure logs err at a level that matches who caused it.
func (s *AuthService) logFailure(msg string, err error) {
	attrs := []any{
		slog.String("code", string(apperror.CodeOf(err))),
		slog.String("error", apperror.DetailOf(err)),
	}
	if apperror.IsClientError(err) {
		s.logger.Info(msg, attrs...)
		return
	}
	s.logger.Error(msg, attrs...)
}
