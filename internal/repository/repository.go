package repository

import (
	"context"

	"github.com/sakif/docx/internal/model"
)

// UserRepository owns persisted user records.
//
// Lookups return an error wrapping apperror.ErrNotFound when no row matches;
// that is an expected outcome, not a failure.
type UserRepository interface {
	// Create inserts a new user atomically and returns its generated ID.
	Create(ctx context.Context, nu model.NewUser) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByExternalIdentity(ctx context.Context, service model.AuthService, externalID string) (*model.User, error)
	// Rename never fails; on any problem it keeps the old name.
	Rename(ctx context.Context, user *model.User, newName string) model.RenameResult
	Ping(ctx context.Context) error
}
