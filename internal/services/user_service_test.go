package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/authz"
	"github.com/steveterryp/copov3/internal/database/testutil"
	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/internal/services"
	apperrors "github.com/steveterryp/copov3/pkg/errors"
)

func newUserService(t *testing.T) (*services.UserService, *gorm.DB, *authz.DecisionCache) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	cache := authz.NewDecisionCache(authz.CacheConfig{})

	svc, err := services.NewUserService(db, cache, nil)
	require.NoError(t, err)
	return svc, db, cache
}

func TestCreateUserHashesPasswordAndStartsInactive(t *testing.T) {
	svc, db, _ := newUserService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, services.CreateUserInput{
		Email:    "User@Example.COM",
		Name:     "  Test User  ",
		Password: "correct horse",
	})
	require.NoError(t, err)
	require.Equal(t, "user@example.com", user.Email)
	require.Equal(t, "Test User", user.Name)
	require.Equal(t, models.RoleUser, user.Role)
	require.Equal(t, models.UserInactive, user.Status)
	require.NotEqual(t, "correct horse", user.Password)

	var stored models.User
	require.NoError(t, db.Take(&stored, "id = ?", user.ID).Error)
	require.NotEqual(t, "correct horse", stored.Password)
}

func TestCreateUserRejectsBadInput(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, services.CreateUserInput{Email: "", Password: "long enough"})
	require.Error(t, err)

	_, err = svc.CreateUser(ctx, services.CreateUserInput{Email: "a@b.c", Password: "short"})
	require.Error(t, err)

	_, err = svc.CreateUser(ctx, services.CreateUserInput{Email: "a@b.c", Password: "long enough", Role: "ghost"})
	require.Error(t, err)
}

func TestAuthenticateVerifiesCredentialsAndStatus(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, services.CreateUserInput{Email: "user@example.com", Password: "correct horse"})
	require.NoError(t, err)

	// Unverified accounts cannot sign in.
	_, err = svc.Authenticate(ctx, "user@example.com", "correct horse", "10.0.0.1")
	require.ErrorIs(t, err, services.ErrAccountDisabled)

	require.NoError(t, svc.Verify(ctx, user.ID))

	authed, err := svc.Authenticate(ctx, "USER@example.com", "correct horse", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, user.ID, authed.ID)
	require.NotNil(t, authed.LastLoginAt)
	require.Equal(t, "10.0.0.1", authed.LastLoginIP)

	_, err = svc.Authenticate(ctx, "user@example.com", "wrong password", "10.0.0.1")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@example.com", "correct horse", "10.0.0.1")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestChangeRoleInvalidatesCachedDecisions(t *testing.T) {
	svc, db, cache := newUserService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, services.CreateUserInput{Email: "user@example.com", Password: "correct horse"})
	require.NoError(t, err)

	key := authz.PermissionKey(user.ID, authz.ResourcePoV, "pov-1", "view")
	calls := 0
	_, _ = cache.GetPermission(key, func() (bool, error) { calls++; return true, nil })

	require.NoError(t, svc.ChangeRole(ctx, "actor", user.ID, models.RoleAdmin))

	var stored models.User
	require.NoError(t, db.Take(&stored, "id = ?", user.ID).Error)
	require.Equal(t, models.RoleAdmin, stored.Role)

	_, _ = cache.GetPermission(key, func() (bool, error) { calls++; return true, nil })
	require.Equal(t, 2, calls, "role change must drop cached decisions")

	require.ErrorIs(t, svc.ChangeRole(ctx, "actor", "missing-id", models.RoleAdmin), apperrors.ErrNotFound)
	require.Error(t, svc.ChangeRole(ctx, "actor", user.ID, "ghost"))
}

func TestSetStatusInvalidatesCachedDecisions(t *testing.T) {
	svc, db, cache := newUserService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, services.CreateUserInput{Email: "user@example.com", Password: "correct horse"})
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, user.ID))

	key := authz.PermissionKey(user.ID, authz.ResourcePoV, "pov-1", "view")
	calls := 0
	_, _ = cache.GetPermission(key, func() (bool, error) { calls++; return true, nil })

	require.NoError(t, svc.SetStatus(ctx, "actor", user.ID, models.UserSuspended))

	var stored models.User
	require.NoError(t, db.Take(&stored, "id = ?", user.ID).Error)
	require.Equal(t, models.UserSuspended, stored.Status)

	_, _ = cache.GetPermission(key, func() (bool, error) { calls++; return true, nil })
	require.Equal(t, 2, calls)

	require.Error(t, svc.SetStatus(ctx, "actor", user.ID, "ghost"))
}
