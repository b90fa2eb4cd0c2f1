// Package apperror defines the error taxonomy shared by every layer.
//
// Each AppError wraps one sentinel (so callers can use errors.Is) and carries
// a client-safe Message. Infrastructure detail goes into Cause, which is
// reachable through errors.Is/As for logging but never rendered to clients.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrCredentials  = errors.New("invalid credentials")
	ErrUpstream     = errors.New("upstream failure")
	ErrStorage      = errors.New("storage failure")
)

// Code is the machine-readable error kind rendered next to the message.
type Code string

const (
	CodeNotFound             Code = "not_found"
	CodeInvalidParameters    Code = "invalid_parameters"
	CodeInvalidUsername      Code = "invalid_username_format"
	CodeDuplicateUsername    Code = "duplicate_username"
	CodeMissingPassword      Code = "missing_password"
	CodeUsernameNotFound     Code = "username_not_found"
	CodePasswordMismatch     Code = "password_mismatch"
	CodeExchange             Code = "exchange_error"
	CodeVerification         Code = "verification_error"
	CodeStorage              Code = "storage_failure"
	CodeInvalidService       Code = "invalid_service"
	CodeAuthenticationFailed Code = "authentication_failed"
)

type AppError struct {
	Err     error  // sentinel
	Code    Code   // machine-readable kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: internal cause, never shown to clients
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Detail returns the message plus the internal cause, for logs only.
func (e *AppError) Detail() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Code:    CodeInvalidParameters,
		Message: message,
		Field:   field,
	}
}

func InvalidParameters() *AppError {
	return &AppError{
		Err:     ErrValidation,
		Code:    CodeInvalidParameters,
		Message: "Invalid parameters!",
	}
}

func InvalidUsernameFormat() *AppError {
	return &AppError{
		Err:     ErrValidation,
		Code:    CodeInvalidUsername,
		Message: "Invalid username format!",
		Field:   "username",
	}
}

// DuplicateUsername is returned when a create would reuse a taken username.
func DuplicateUsername() *AppError {
	return &AppError{
		Err:     ErrConflict,
		Code:    CodeDuplicateUsername,
		Message: "Username already exists",
		Field:   "username",
	}
}

func MissingPassword() *AppError {
	return &AppError{
		Err:     ErrValidation,
		Code:    CodeMissingPassword,
		Message: "Password hash is required for native auth service",
		Field:   "password",
	}
}

func UsernameNotFound() *AppError {
	return &AppError{
		Err:     ErrCredentials,
		Code:    CodeUsernameNotFound,
		Message: "Username not found!",
		Field:   "username",
	}
}

func PasswordMismatch() *AppError {
	return &AppError{
		Err:     ErrCredentials,
		Code:    CodePasswordMismatch,
		Message: "No password match",
		Field:   "password",
	}
}

// ExchangeFailed reports a provider-side failure during an OAuth exchange.
func ExchangeFailed(provider string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Code:    CodeExchange,
		Message: fmt.Sprintf("%s exchange failed", provider),
		Cause:   cause,
	}
}

// VerificationFailed covers every way a session credential can be rejected.
// Expired and forged tokens deliberately share one message.
func VerificationFailed(cause error) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Code:    CodeVerification,
		Message: "invalid session",
		Cause:   cause,
	}
}

func StorageFailure(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorage,
		Code:    CodeStorage,
		Message: fmt.Sprintf("storage failure while %s", op),
		Cause:   cause,
	}
}

func InvalidService(service string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Code:    CodeInvalidService,
		Message: "Invalid service",
		Field:   "service",
		Cause:   fmt.Errorf("unknown service %q", service),
	}
}

// AuthenticationFailed is the catch-all shown when anything unexpected
// happens during dispatch.
func AuthenticationFailed(cause error) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Code:    CodeAuthenticationFailed,
		Message: "A generic error happened during authentication, try again later.",
		Cause:   cause,
	}
}

// Unauthorized returns an AppError for requests without a usable session.
// HTTP handlers map this to 401.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Code:    CodeVerification,
		Message: message,
	}
}

// CodeOf returns the Code of the first AppError in err's chain, or "".
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsClientError reports whether err is an expected business failure whose
// message may be shown to the caller verbatim.
func IsClientError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch {
	case errors.Is(appErr.Err, ErrValidation),
		errors.Is(appErr.Err, ErrConflict),
		errors.Is(appErr.Err, ErrCredentials):
		return true
	}
	return false
}

// DetailOf is Detail for any error: the AppError detail when err carries
// one, err.Error() otherwise. For logs only.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Detail()
	}
	return err.Error()
}
