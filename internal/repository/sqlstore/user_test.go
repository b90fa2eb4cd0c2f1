package sqlstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/docx/internal/apperror"
	"github.com/sakif/docx/internal/model"
)

// TESTING WITH IN-MEMORY SQLITE:
// ":memory:" gives every test a fresh, isolated database that disappears
// when the store is closed. Open runs the real goose migrations on it.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := Open(context.Background(), ":memory:", logger)
	require.NoError(t, err, "failed to open test store")
	t.Cleanup(func() { s.Close() })
	return s
}

func createNative(t *testing.T, s *Store, username string) int64 {
	t.Helper()
	id, err := s.Create(context.Background(), model.NewUser{
		Username:     username,
		AuthService:  model.AuthNative,
		PasswordHash: "$2a$10$fakehashfakehashfakehash",
	})
	require.NoError(t, err, "failed to create test user")
	return id
}

func createOAuth(t *testing.T, s *Store, service model.AuthService, externalID, username string) int64 {
	t.Helper()
	id, err := s.Create(context.Background(), model.NewUser{
		Username:          username,
		AuthService:       service,
		AuthServiceUserID: externalID,
	})
	require.NoError(t, err, "failed to create test user")
	return id
}

func countUsers(t *testing.T, s *Store) int {
	t.Helper()
	var n int
	require.NoError(t, s.conn.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	return n
}

// =========================================================================
// OPEN / DIALECT TESTS
// =========================================================================

func TestDialectFor(t *testing.T) {
	assert.Equal(t, DialectPostgres, DialectFor("postgres://u:p@localhost/docx"))
	assert.Equal(t, DialectPostgres, DialectFor("PostgreSQL://u:p@localhost/docx"))
	assert.Equal(t, DialectSQLite, DialectFor("data/docx.db"))
	assert.Equal(t, DialectSQLite, DialectFor(":memory:"))
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	lite := &Store{dialect: DialectSQLite}
	q := `SELECT 1 FROM users WHERE auth_service = ? AND auth_service_user_id = ?`

	assert.Equal(t, `SELECT 1 FROM users WHERE auth_service = $1 AND auth_service_user_id = $2`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestOpen_FileDatabaseIsReusable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	path := filepath.Join(t.TempDir(), "docx.db")

	first, err := Open(context.Background(), path, logger)
	require.NoError(t, err)
	id := createNative(t, first, "persisted")
	require.NoError(t, first.Close())

	// Re-opening must not re-run or fail the migration.
	second, err := Open(context.Background(), path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	u, err := second.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "persisted", u.Username)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreate_Native(t *testing.T) {
	s := newTestStore(t)

	id := createNative(t, s, "Alice")

	assert.GreaterOrEqual(t, id, minUserID)
	assert.Less(t, id, minUserID+userIDRange)

	u, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username, "usernames are stored lower-cased")
	assert.Equal(t, model.AuthNative, u.AuthService)
	assert.Empty(t, u.AuthServiceUserID)
	assert.NotEmpty(t, u.PasswordHash)
	assert.Equal(t, model.DefaultProfileImageURL, u.ProfileImageURL)
	assert.False(t, u.Admin)
	assert.Zero(t, u.Premium)
	assert.False(t, u.CreatedAt.IsZero())
}

func TestCreate_OAuthHasNoPasswordHash(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Create(context.Background(), model.NewUser{
		Username:          "octocat",
		AuthService:       model.AuthGitHub,
		AuthServiceUserID: "583231",
		PasswordHash:      "ignored-for-oauth",
		ProfileImageURL:   "https://avatars.example.com/583231",
	})
	require.NoError(t, err)

	u, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, u.PasswordHash)
	assert.Equal(t, "583231", u.AuthServiceUserID)
	assert.Equal(t, "https://avatars.example.com/583231", u.ProfileImageURL)
}

func TestCreate_DuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	createNative(t, s, "taken")

	_, err := s.Create(context.Background(), model.NewUser{
		Username:     "TAKEN",
		AuthService:  model.AuthNative,
		PasswordHash: "hash",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	assert.Equal(t, apperror.CodeDuplicateUsername, apperror.CodeOf(err))
	assert.Equal(t, 1, countUsers(t, s), "exactly one row must persist")
}

func TestCreate_NativeWithoutPassword(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(context.Background(), model.NewUser{
		Username:    "nopass",
		AuthService: model.AuthNative,
	})

	require.Error(t, err)
	assert.Equal(t, apperror.CodeMissingPassword, apperror.CodeOf(err))
	assert.Equal(t, 0, countUsers(t, s), "failed create must leave no row")
}

func TestCreate_UnknownService(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(context.Background(), model.NewUser{Username: "x_user", AuthService: "myspace"})

	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestCreate_DuplicateExternalIdentity(t *testing.T) {
	s := newTestStore(t)
	createOAuth(t, s, model.AuthDiscord, "42", "first")

	_, err := s.Create(context.Background(), model.NewUser{
		Username:          "second",
		AuthService:       model.AuthDiscord,
		AuthServiceUserID: "42",
	})

	assert.True(t, errors.Is(err, apperror.ErrConflict))
	assert.Equal(t, 1, countUsers(t, s))
}

func TestCreate_RetriesOnIDCollision(t *testing.T) {
	s := newTestStore(t)

	ids := []int64{minUserID + 1, minUserID + 1, minUserID + 2}
	var calls int
	s.newID = func() int64 {
		id := ids[calls]
		calls++
		return id
	}

	first := createNative(t, s, "first")
	second := createNative(t, s, "second")

	assert.Equal(t, minUserID+1, first)
	assert.Equal(t, minUserID+2, second, "colliding candidate must be skipped")
	assert.Equal(t, 3, calls)
}

func TestCreate_IDRetryIsBounded(t *testing.T) {
	s := newTestStore(t)
	s.newID = func() int64 { return minUserID + 7 }
	createNative(t, s, "holder")

	_, err := s.Create(context.Background(), model.NewUser{
		Username:     "unlucky",
		AuthService:  model.AuthNative,
		PasswordHash: "hash",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrStorage))
	assert.Equal(t, 1, countUsers(t, s))
}

func TestCreate_ConcurrentSameUsername(t *testing.T) {
	s := newTestStore(t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(context.Background(), model.NewUser{
				Username:     "racer",
				AuthService:  model.AuthNative,
				PasswordHash: "hash",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperror.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, countUsers(t, s))
}

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestGetByID_NotFound(t *testing.T) {
	s := newTestStore(t)

	u, err := s.GetByID(context.Background(), 12345678901234567)

	assert.Nil(t, u)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestGetByUsername_IsCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	id := createNative(t, s, "bob")

	u, err := s.GetByUsername(context.Background(), "BoB")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	_, err = s.GetByUsername(context.Background(), "nobody")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestGetByExternalIdentity(t *testing.T) {
	s := newTestStore(t)
	id := createOAuth(t, s, model.AuthGitHub, "99", "ghuser")

	u, err := s.GetByExternalIdentity(context.Background(), model.AuthGitHub, "99")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	// Same external id on another provider is a different identity.
	_, err = s.GetByExternalIdentity(context.Background(), model.AuthDiscord, "99")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

// =========================================================================
// RENAME TESTS
// =========================================================================

func TestRename_Applies(t *testing.T) {
	s := newTestStore(t)
	id := createOAuth(t, s, model.AuthGitHub, "1", "oldname")
	u, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)

	res := s.Rename(context.Background(), u, "New.Name")

	assert.Equal(t, model.RenameResult{OldName: "oldname", NewName: "new.name"}, res)
	assert.Equal(t, "new.name", u.Username, "in-memory user must follow the rename")

	stored, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "new.name", stored.Username)
}

func TestRename_NoOps(t *testing.T) {
	s := newTestStore(t)
	createNative(t, s, "occupied")
	id := createOAuth(t, s, model.AuthDiscord, "7", "current")

	tests := []struct {
		name    string
		newName string
	}{
		{"same name", "current"},
		{"same name different case", "CURRENT"},
		{"too short", "ab"},
		{"invalid characters", "white space"},
		{"taken by someone else", "occupied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := s.GetByID(context.Background(), id)
			require.NoError(t, err)

			res := s.Rename(context.Background(), u, tt.newName)

			assert.False(t, res.Changed())
			assert.Equal(t, "current", res.OldName)
			assert.Equal(t, "current", u.Username)
		})
	}
}

func TestRename_StorageErrorKeepsOldName(t *testing.T) {
	s := newTestStore(t)
	id := createOAuth(t, s, model.AuthGitHub, "3", "before")
	u, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	res := s.Rename(context.Background(), u, "after")

	assert.False(t, res.Changed())
	assert.Equal(t, "before", u.Username)
}
