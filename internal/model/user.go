// Package model defines the data structures used throughout the application.
package model

import (
	"regexp"
	"strings"
	"time"
)

// AuthService names the identity provider a user signed up with.
// It is fixed at creation time.
type AuthService string

const (
	AuthNative  AuthService = "native"
	AuthGitHub  AuthService = "github"
	AuthDiscord AuthService = "discord"
	AuthGoogle  AuthService = "google"
)

// Valid reports whether s is one of the known services.
func (s AuthService) Valid() bool {
	switch s {
	case AuthNative, AuthGitHub, AuthDiscord, AuthGoogle:
		return true
	}
	return false
}

// DefaultProfileImageURL is served by the placeholder image endpoint.
const DefaultProfileImageURL = "/cdn/images/pfp/initials.png"

var (
	// nativeUsernamePattern guards the native register/login forms.
	nativeUsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

	// renamePattern is wider: provider handles may carry dots, dashes or @.
	renamePattern = regexp.MustCompile(`^[a-zA-Z0-9._@-]{3,32}$`)
)

// ValidNativeUsername reports whether name is acceptable for native sign-up.
func ValidNativeUsername(name string) bool {
	return nativeUsernamePattern.MatchString(name)
}

// ValidRenameTarget reports whether name is acceptable as a rename target.
func ValidRenameTarget(name string) bool {
	return renamePattern.MatchString(name)
}

// NormalizeUsername is the single canonical form applied at every write and
// lookup path, so uniqueness is case-insensitive for all providers.
func NormalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// User represents a registered user account.
//
// ID is a random 17-digit number. It is sent to clients as a JSON string
// because JavaScript numbers cannot hold it exactly.
//
// PasswordHash is only set for native accounts and is never serialised.
type User struct {
	ID                int64       `json:"id,string"          db:"id"`
	Username          string      `json:"username"           db:"username"`
	AuthService       AuthService `json:"authService"        db:"auth_service"`
	AuthServiceUserID string      `json:"authServiceUserId"  db:"auth_service_user_id"`
	PasswordHash      string      `json:"-"                  db:"passhash"`
	Admin             bool        `json:"admin"              db:"admin"`
	Premium           int         `json:"premium"            db:"premium"`
	CreatedAt         time.Time   `json:"createdAt"          db:"created_at"`
	ProfileImageURL   string      `json:"profileImageUrl"    db:"pfp_url"`
}

// NewUser carries the inputs of a user creation.
type NewUser struct {
	Username          string
	AuthService       AuthService
	AuthServiceUserID string
	PasswordHash      string // required iff AuthService == AuthNative
	ProfileImageURL   string // optional, defaults to DefaultProfileImageURL
}

// RenameResult reports the outcome of a rename. When nothing changed,
// NewName equals OldName.
type RenameResult struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

// Changed reports whether the rename was applied.
func (r RenameResult) Changed() bool {
	return r.OldName != r.NewName
}
