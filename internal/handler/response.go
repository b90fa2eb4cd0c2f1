package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// Two error shapes exist:
//
//	general API:   {"error": "not_found", "message": "user not found with id 42"}
//	auth callback: {"error": "Username already exists", "code": "duplicate_username"}
//
// The callback shape is what the login and registration forms already
// parse: "error" is the sentence to show the user.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/docx/internal/apperror"
)

// ErrorResponse is the error format of the general API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// AuthErrorResponse is the error format of the auth callback.
type AuthErrorResponse struct {
	Error string        `json:"error"`          // Human-readable, safe to display
	Code  apperror.Code `json:"code,omitempty"` // Machine-readable kind
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body. Once Encode writes,
// the headers are sent and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; we can only log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// errors.Is() UNWRAPPING:
// errors.Is(err, target) walks the entire error chain, so
// fmt.Errorf("get user: %w", apperror.NotFound(...)) still matches
// apperror.ErrNotFound.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"
		message := appErr.Message

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest // 400
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthorized), errors.Is(err, apperror.ErrCredentials):
			status = http.StatusUnauthorized // 401
			errorType = "unauthorized"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound // 404
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict // 409
			errorType = "conflict"
		case errors.Is(err, apperror.ErrUpstream):
			status = http.StatusBadGateway // 502
			errorType = "upstream_error"
		default:
			// Storage and other infrastructure failures: the message may
			// name internals, so it stays in the logs.
			message = "An internal error occurred"
		}

		writeJSON(w, status, ErrorResponse{Error: errorType, Message: message})
		return
	}

	// Unknown error: NEVER expose internal details to the client.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// writeAuthError answers a failed authentication attempt with 400.
//
// Client mistakes keep their own message. Anything else (provider outage,
// storage failure, panic) is reported as the generic AuthenticationFailed
// so nothing internal leaks.
func writeAuthError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !apperror.IsClientError(err) || !errors.As(err, &appErr) {
		appErr = apperror.AuthenticationFailed(err)
	}
	writeJSON(w, http.StatusBadRequest, AuthErrorResponse{Error: appErr.Message, Code: appErr.Code})
}
