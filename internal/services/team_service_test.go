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

func newTeamFixture(t *testing.T) (*services.TeamService, *gorm.DB, *authz.DecisionCache) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	cache := authz.NewDecisionCache(authz.CacheConfig{})

	svc, err := services.NewTeamService(db, cache, nil)
	require.NoError(t, err)
	return svc, db, cache
}

func TestCreateTeamRequiresName(t *testing.T) {
	svc, _, _ := newTeamFixture(t)
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, "  delivery  ", " builds pilots ")
	require.NoError(t, err)
	require.Equal(t, "delivery", team.Name)
	require.Equal(t, "builds pilots", team.Description)

	_, err = svc.CreateTeam(ctx, "   ", "")
	require.Error(t, err)
}

func TestMembershipMutationsInvalidateCaches(t *testing.T) {
	svc, db, cache := newTeamFixture(t)
	ctx := context.Background()

	user := &models.User{Email: "user@example.com", Password: "x", Role: models.RoleUser, Status: models.UserActive}
	require.NoError(t, db.Create(user).Error)

	team, err := svc.CreateTeam(ctx, "delivery", "")
	require.NoError(t, err)

	memberKey := authz.MembershipKey(user.ID, team.ID)
	calls := 0
	cached, _ := cache.GetMembership(memberKey, func() (bool, error) { calls++; return false, nil })
	require.False(t, cached)

	require.NoError(t, svc.AddMember(ctx, "actor", team.ID, user.ID))

	// The stale negative entry is dropped, so the next check sees the row.
	resolver, err := authz.NewResolver(db)
	require.NoError(t, err)
	cached, _ = cache.GetMembership(memberKey, func() (bool, error) {
		calls++
		return resolver.IsTeamMember(ctx, user.ID, team.ID)
	})
	require.True(t, cached)
	require.Equal(t, 2, calls)

	require.NoError(t, svc.RemoveMember(ctx, "actor", team.ID, user.ID))

	cached, _ = cache.GetMembership(memberKey, func() (bool, error) {
		calls++
		return resolver.IsTeamMember(ctx, user.ID, team.ID)
	})
	require.False(t, cached)
	require.Equal(t, 3, calls)
}

func TestMembershipMutationsRejectMissingRecords(t *testing.T) {
	svc, db, _ := newTeamFixture(t)
	ctx := context.Background()

	user := &models.User{Email: "user@example.com", Password: "x", Role: models.RoleUser, Status: models.UserActive}
	require.NoError(t, db.Create(user).Error)

	team, err := svc.CreateTeam(ctx, "delivery", "")
	require.NoError(t, err)

	require.ErrorIs(t, svc.AddMember(ctx, "actor", "missing-team", user.ID), apperrors.ErrNotFound)
	require.ErrorIs(t, svc.AddMember(ctx, "actor", team.ID, "missing-user"), apperrors.ErrNotFound)
}
