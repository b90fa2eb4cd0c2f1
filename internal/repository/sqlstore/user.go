package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/sakif/docx/internal/apperror"
	"github.com/sakif/docx/internal/model"
	"github.com/sakif/docx/internal/repository"
)

// compile-time check that *Store implements repository.UserRepository
var _ repository.UserRepository = (*Store)(nil)

const (
	// IDs are 17-digit numbers: [10^16, 10^17).
	minUserID   int64 = 10_000_000_000_000_000
	userIDRange int64 = 90_000_000_000_000_000

	// maxIDAttempts bounds the collision retry loop. With 9*10^16 possible
	// IDs, hitting it means the generator is broken, not unlucky.
	maxIDAttempts = 16
)

func randomUserID() int64 {
	return minUserID + rand.Int64N(userIDRange)
}

const userColumns = `id, username, auth_service, auth_service_user_id, passhash,
	admin, premium, created_at, pfp_url`

// Create inserts a new user inside one transaction:
//
//  1. reject a taken username           → apperror.DuplicateUsername
//  2. native accounts need a hash       → apperror.MissingPassword
//  3. draw random IDs until one is free (bounded by maxIDAttempts)
//  4. INSERT and COMMIT
//
// Steps 1 and 3 are check-then-insert, so the UNIQUE constraints on the
// table are the real guarantee under concurrency: a violation at INSERT or
// COMMIT time is reported as DuplicateUsername as well.
// Any other failure rolls back and surfaces as apperror.StorageFailure.
func (s *Store) Create(ctx context.Context, nu model.NewUser) (int64, error) {
	username := model.NormalizeUsername(nu.Username)
	if !nu.AuthService.Valid() {
		return 0, apperror.ValidationFailed("authService", fmt.Sprintf("unknown auth service %q", nu.AuthService))
	}

	pfpURL := nu.ProfileImageURL
	if pfpURL == "" {
		pfpURL = model.DefaultProfileImageURL
	}

	var passhash sql.NullString
	if nu.AuthService == model.AuthNative {
		passhash = sql.NullString{String: nu.PasswordHash, Valid: nu.PasswordHash != ""}
	}

	var userID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		taken, err := s.exists(ctx, tx, `SELECT 1 FROM users WHERE username = ?`, username)
		if err != nil {
			return apperror.StorageFailure("checking username", err)
		}
		if taken {
			return apperror.DuplicateUsername()
		}

		if nu.AuthService == model.AuthNative && !passhash.Valid {
			return apperror.MissingPassword()
		}

		userID, err = s.freeUserID(ctx, tx)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO users (id, username, auth_service, auth_service_user_id, passhash, created_at, pfp_url)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			userID,
			username,
			string(nu.AuthService),
			nu.AuthServiceUserID,
			passhash,
			time.Now().UTC(),
			pfpURL,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.DuplicateUsername()
			}
			return apperror.StorageFailure("inserting user", err)
		}
		return nil
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return 0, err
		}
		if isUniqueViolation(err) {
			return 0, apperror.DuplicateUsername()
		}
		return 0, apperror.StorageFailure("creating user", err)
	}

	s.logger.Debug("user created",
		slog.Int64("userID", userID),
		slog.String("authService", string(nu.AuthService)),
	)
	return userID, nil
}

// freeUserID draws random IDs until one is not in use.
func (s *Store) freeUserID(ctx context.Context, tx *sql.Tx) (int64, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		candidate := s.newID()
		used, err := s.exists(ctx, tx, `SELECT 1 FROM users WHERE id = ?`, candidate)
		if err != nil {
			return 0, apperror.StorageFailure("checking user id", err)
		}
		if !used {
			return candidate, nil
		}
		s.logger.Warn("user id collision", slog.Int("attempt", attempt+1))
	}
	return 0, apperror.StorageFailure("generating user id",
		fmt.Errorf("no free id after %d attempts", maxIDAttempts))
}

func (s *Store) exists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, s.rebind(query), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByID retrieves a user by ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (s *Store) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getOne(ctx, "user", strconv.FormatInt(id, 10),
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByUsername looks a user up by canonical username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	username = model.NormalizeUsername(username)
	return s.getOne(ctx, "user", username,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// GetByExternalIdentity finds the account bound to a provider identity.
func (s *Store) GetByExternalIdentity(ctx context.Context, service model.AuthService, externalID string) (*model.User, error) {
	return s.getOne(ctx, "user", string(service)+":"+externalID,
		`SELECT `+userColumns+` FROM users WHERE auth_service = ? AND auth_service_user_id = ?`,
		string(service), externalID)
}

func (s *Store) getOne(ctx context.Context, resource, key, query string, args ...any) (*model.User, error) {
	var (
		u        model.User
		service  string
		passhash sql.NullString
	)
	err := s.conn.QueryRowContext(ctx, s.rebind(query), args...).Scan(
		&u.ID,
		&u.Username,
		&service,
		&u.AuthServiceUserID,
		&passhash,
		&u.Admin,
		&u.Premium,
		&u.CreatedAt,
		&u.ProfileImageURL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(resource, key)
		}
		return nil, apperror.StorageFailure("loading user", err)
	}
	u.AuthService = model.AuthService(service)
	u.PasswordHash = passhash.String
	return &u, nil
}

// Rename changes user's username to newName and updates the struct in place.
//
// It never fails. The name is left untouched (and returned as both OldName
// and NewName) when:
//   - newName equals the current name
//   - newName does not match ^[a-zA-Z0-9._@-]{3,32}$
//   - another user already has newName
//   - the database reports an error (logged)
func (s *Store) Rename(ctx context.Context, user *model.User, newName string) model.RenameResult {
	old := user.Username
	unchanged := model.RenameResult{OldName: old, NewName: old}

	if user.ID == 0 || !model.ValidRenameTarget(newName) {
		return unchanged
	}
	target := model.NormalizeUsername(newName)
	if target == old {
		return unchanged
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		taken, err := s.exists(ctx, tx, `SELECT 1 FROM users WHERE username = ?`, target)
		if err != nil {
			return err
		}
		if taken {
			return apperror.DuplicateUsername()
		}
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE users SET username = ? WHERE id = ?`), target, user.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) || isUniqueViolation(err) {
			s.logger.Info("rename skipped: username taken",
				slog.Int64("userID", user.ID),
				slog.String("target", target),
			)
		} else {
			s.logger.Error("rename failed",
				slog.Int64("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return unchanged
	}

	user.Username = target
	return model.RenameResult{OldName: old, NewName: target}
}
