package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/authz"
	"github.com/steveterryp/copov3/internal/database/testutil"
	"github.com/steveterryp/copov3/internal/models"
	apperrors "github.com/steveterryp/copov3/pkg/errors"
)

type resolverFixture struct {
	db       *gorm.DB
	resolver *authz.Resolver
	owner    *models.User
	member   *models.User
	team     *models.Team
	pov      *models.PoV
	phase    *models.Phase
	task     *models.Task
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	resolver, err := authz.NewResolver(db)
	require.NoError(t, err)

	owner := &models.User{Email: "owner@example.com", Password: "x", Role: models.RoleUser, Status: models.UserActive}
	member := &models.User{Email: "member@example.com", Password: "x", Role: models.RoleUser, Status: models.UserActive}
	require.NoError(t, db.Create(owner).Error)
	require.NoError(t, db.Create(member).Error)

	team := &models.Team{Name: "delivery"}
	require.NoError(t, db.Create(team).Error)
	require.NoError(t, db.Model(team).Association("Members").Append(member))

	pov := &models.PoV{Name: "acme-pilot", Status: models.PoVProjected, OwnerID: owner.ID, TeamID: &team.ID}
	require.NoError(t, db.Create(pov).Error)

	phase := &models.Phase{PoVID: pov.ID, Name: "setup", Order: 1}
	require.NoError(t, db.Create(phase).Error)

	task := &models.Task{PhaseID: phase.ID, Title: "provision environment", Status: models.TaskTodo}
	require.NoError(t, db.Create(task).Error)

	return &resolverFixture{db: db, resolver: resolver, owner: owner, member: member, team: team, pov: pov, phase: phase, task: task}
}

func TestResolvePoVCarriesOwnership(t *testing.T) {
	f := newResolverFixture(t)

	res, err := f.resolver.GetResource(context.Background(), authz.ResourcePoV, f.pov.ID)
	require.NoError(t, err)
	require.Equal(t, authz.ResourcePoV, res.Type)
	require.Equal(t, f.owner.ID, res.OwnerID)
	require.Equal(t, f.team.ID, res.TeamID)
}

func TestPhaseAndTaskInheritFromParentPoV(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	phase, err := f.resolver.GetResource(ctx, authz.ResourcePhase, f.phase.ID)
	require.NoError(t, err)
	require.Equal(t, f.owner.ID, phase.OwnerID)
	require.Equal(t, f.team.ID, phase.TeamID)

	task, err := f.resolver.GetResource(ctx, authz.ResourceTask, f.task.ID)
	require.NoError(t, err)
	require.Equal(t, f.owner.ID, task.OwnerID)
	require.Equal(t, f.team.ID, task.TeamID)
}

func TestResolveUserIsSelfOwned(t *testing.T) {
	f := newResolverFixture(t)

	res, err := f.resolver.GetResource(context.Background(), authz.ResourceUser, f.member.ID)
	require.NoError(t, err)
	require.Equal(t, f.member.ID, res.OwnerID)
}

func TestSingletonTypesSkipLookups(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	for _, typ := range []authz.ResourceType{authz.ResourceSettings, authz.ResourceAnalytics} {
		res, err := f.resolver.GetResource(ctx, typ, "anything")
		require.NoError(t, err)
		require.Equal(t, authz.SingletonID, res.ID)
		require.Empty(t, res.OwnerID)
	}
}

func TestResolveMissingEntityReturnsNotFound(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.resolver.GetResource(context.Background(), authz.ResourcePoV, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolveUnknownTypeErrors(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.resolver.GetResource(context.Background(), authz.ResourceType("widget"), "id")
	require.Error(t, err)
}

func TestIsTeamMember(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	ok, err := f.resolver.IsTeamMember(ctx, f.member.ID, f.team.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.resolver.IsTeamMember(ctx, f.owner.ID, f.team.ID)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.resolver.IsTeamMember(ctx, "", f.team.ID)
	require.NoError(t, err)
	require.False(t, ok)
}
