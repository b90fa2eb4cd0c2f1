package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/docx/internal/apperror"
	"github.com/sakif/docx/internal/auth"
	"github.com/sakif/docx/internal/service"
)

// sessionErrorMessage is what the session endpoint says about a credential
// it cannot use. The spelling is what deployed clients match on.
const sessionErrorMessage = "An error occured trying to get your session."

// AuthHandler serves login, registration and session endpoints.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRedirect      → send the browser to a provider's consent page
//   - HandleCallback      → one entry point for every flow (query parameters)
//   - HandleCallbackJSON  → native flows from a JSON body
//   - HandleSession       → who is logged in, if anyone
//   - HandleLogout        → clear the session cookie
//   - HandleMe            → the authenticated user's profile
//   - HandleHealth        → storage liveness
type AuthHandler struct {
	auth          *service.AuthService
	publicHost    string
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
//
// publicHost is the site's external base URL (for example
// "https://docx.example"); successful OAuth logins and consent errors
// redirect to its root. secureCookies sets the Secure attribute, which
// must be off for plain-HTTP local development.
func NewAuthHandler(authService *service.AuthService, publicHost string, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:          authService,
		publicHost:    strings.TrimRight(publicHost, "/"),
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// home is the site root every redirect lands on.
func (h *AuthHandler) home() string {
	return h.publicHost + "/"
}

// HandleRedirect starts an OAuth flow.
//
// HTTP: GET /auth/redirect?service=github
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived cookie and into the consent URL.
// The provider echoes it back and HandleCallback checks that they match,
// which proves the callback was started by this browser on this site.
//
// Native or unknown services, and providers without credentials, redirect
// home instead.
func (h *AuthHandler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	svc, err := service.ParseService(r.URL.Query().Get("service"))
	if err != nil || !svc.IsOAuth() {
		http.Redirect(w, r, h.home(), http.StatusTemporaryRedirect)
		return
	}

	state := xid.New().String()
	target, ok := h.auth.AuthURL(svc, state)
	if !ok {
		h.logger.Warn("auth redirect: provider not configured", slog.String("service", string(svc)))
		http.Redirect(w, r, h.home(), http.StatusTemporaryRedirect)
		return
	}

	auth.SetStateCookie(w, state, h.secureCookies)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleCallback completes any authentication flow.
//
// HTTP: GET /auth/callback?service=native-register&username=alice&password=...
//
//	GET /auth/callback?service=github&code=xxx&state=yyy
//
// FLOW:
//  1. A provider "error" parameter (consent denied) redirects home
//  2. Parse and validate the service
//  3. OAuth only: check the state, if the flow was started by HandleRedirect
//  4. Authenticate and set the session cookie
//  5. Native → {"success": true}; OAuth → 303 to the site root
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("auth callback: provider returned an error", slog.String("error", errParam))
		auth.ClearStateCookie(w)
		http.Redirect(w, r, h.home(), http.StatusSeeOther)
		return
	}

	svc, err := service.ParseService(q.Get("service"))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	if svc.IsOAuth() {
		if err := h.checkState(w, r); err != nil {
			writeAuthError(w, err)
			return
		}
	}

	result, err := h.auth.Authenticate(r.Context(), service.AuthRequest{
		Service:  svc,
		Username: q.Get("username"),
		Password: q.Get("password"),
		Code:     q.Get("code"),
	})
	h.finish(w, r, result, err)
}

// callbackBody is the JSON form of a native callback. Field names match
// the login form.
type callbackBody struct {
	Service  string `json:"service"`
	Username string `json:"u"`
	Password string `json:"p"`
}

// HandleCallbackJSON completes a native flow posted as JSON, so the
// password stays out of URLs and access logs.
//
// HTTP: POST /auth/callback  {"service": "native-login", "u": "alice", "p": "..."}
func (h *AuthHandler) HandleCallbackJSON(w http.ResponseWriter, r *http.Request) {
	var body callbackBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeAuthError(w, apperror.InvalidParameters())
		return
	}

	svc, err := service.ParseService(body.Service)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	if svc.IsOAuth() {
		writeAuthError(w, apperror.InvalidService(body.Service))
		return
	}

	result, err := h.auth.Authenticate(r.Context(), service.AuthRequest{
		Service:  svc,
		Username: body.Username,
		Password: body.Password,
	})
	h.finish(w, r, result, err)
}

// checkState compares the callback's state with the state cookie. Flows
// that carry neither (started without HandleRedirect) are let through.
func (h *AuthHandler) checkState(w http.ResponseWriter, r *http.Request) error {
	got := r.URL.Query().Get("state")
	cookie, cookieErr := r.Cookie(auth.StateCookieName)
	if got == "" && cookieErr != nil {
		return nil
	}

	// The state is single-use whatever the outcome.
	auth.ClearStateCookie(w)

	if cookieErr != nil || cookie.Value == "" || cookie.Value != got {
		h.logger.Warn("auth callback: state mismatch", slog.Bool("cookiePresent", cookieErr == nil))
		return apperror.InvalidParameters()
	}
	return nil
}

// finish writes the outcome of Authenticate.
func (h *AuthHandler) finish(w http.ResponseWriter, r *http.Request, result *service.AuthResult, err error) {
	if err != nil {
		writeAuthError(w, err)
		return
	}

	auth.SetSessionCookie(w, result.Token, h.secureCookies)

	h.logger.Info("user authenticated",
		slog.Int64("userID", result.User.ID),
		slog.String("service", string(result.User.AuthService)),
	)

	if result.Redirect {
		http.Redirect(w, r, h.home(), http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleSession reports who is logged in.
//
// HTTP: GET /users/me/session
//
// Always 200:
//
//	no cookie          → {"session": "none"}
//	valid credential   → {"session": {...user...}}
//	anything else      → {"error": "An error occured trying to get your session."}
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	credential := auth.CredentialFromRequest(r)
	if credential == "" {
		writeJSON(w, http.StatusOK, map[string]string{"session": "none"})
		return
	}

	user, ok := h.auth.Resolve(r.Context(), credential)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"error": sessionErrorMessage})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": user})
}

// HandleLogout clears the session cookie and goes home.
//
// HTTP: GET /logout
//
// Sessions are stateless, so "logout" only deletes the cookie. The token
// itself stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.secureCookies)
	http.Redirect(w, r, h.home(), http.StatusTemporaryRedirect)
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /users/me
// Auth: Required (RequireAuth middleware sets userID in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	user, err := h.auth.GetUserByID(r.Context(), userID)
	if errors.Is(err, apperror.ErrNotFound) {
		// The credential outlived its user.
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}
	if err != nil {
		h.logger.Error("HandleMe: lookup failed",
			slog.Int64("userID", userID),
			slog.String("error", apperror.DetailOf(err)),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleHealth reports whether storage answers.
//
// HTTP: GET /healthz
func (h *AuthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
