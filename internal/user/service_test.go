package user

import (
	"context"
	"testing"

	"mavedb/internal/db"
	"mavedb/internal/domain"
	"mavedb/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupService(t *testing.T) Service {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewService(NewRepository(gdb))
}

func register(t *testing.T, s Service, username string) *domain.User {
	t.Helper()
	u := &domain.User{Username: username, Email: username + "@example.com", Password: "password123"}
	require.NoError(t, s.Register(context.Background(), u))
	return u
}

func TestService_RegisterAndLogin(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	u := register(t, s, "alice")

	assert.NotZero(t, u.ID)
	assert.Empty(t, u.Password)
	assert.NotEqual(t, "password123", u.PasswordHash)
	assert.True(t, u.IsActive)

	byName, err := s.Login(ctx, "alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	byEmail, err := s.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = s.Login(ctx, "alice", "wrong")
	var apiErr *errors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
}

func TestService_RegisterDuplicate(t *testing.T) {
	s := setupService(t)
	register(t, s, "alice")

	err := s.Register(context.Background(), &domain.User{Username: "alice", Email: "other@example.com", Password: "password123"})
	var apiErr *errors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Status)

	err = s.Register(context.Background(), &domain.User{Username: "alice2", Email: "alice@example.com", Password: "password123"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Status)
}

func TestService_DeactivatedCannotLogin(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	u := register(t, s, "alice")

	require.NoError(t, s.DeactivateUser(ctx, u.ID))
	_, err := s.Login(ctx, "alice", "password123")
	assert.Error(t, err)
}

func TestService_TokenVersion(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	u := register(t, s, "alice")

	require.NoError(t, s.IncreaseTokenVersion(ctx, u.ID))
	require.NoError(t, s.IncreaseTokenVersion(ctx, u.ID))

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.TokenVersion)
}

func TestService_GetUserByID_NotFound(t *testing.T) {
	s := setupService(t)

	_, err := s.GetUserByID(context.Background(), 42)
	var apiErr *errors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
}

func TestService_SearchAndLookup(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	alice := register(t, s, "alice")
	register(t, s, "bob")
	carol := register(t, s, "carol")

	found, err := s.SearchUsers(ctx, "AL")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "alice", found[0].Username)

	found, err = s.SearchUsers(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, found)

	users, err := s.GetUsersByIDs(ctx, []uint64{carol.ID, alice.ID})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "carol", users[1].Username)
}
