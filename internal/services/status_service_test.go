package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/auditctx"
	"github.com/steveterryp/copov3/internal/database/testutil"
	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/internal/services"
	apperrors "github.com/steveterryp/copov3/pkg/errors"
)

type statusFixture struct {
	db    *gorm.DB
	svc   *services.StatusService
	owner *models.User
	pov   *models.PoV
}

func newStatusFixture(t *testing.T, status models.PoVStatus) *statusFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := services.NewStatusService(db, nil)
	require.NoError(t, err)

	owner := &models.User{Email: "owner@example.com", Password: "x", Role: models.RoleUser, Status: models.UserActive}
	require.NoError(t, db.Create(owner).Error)

	pov := &models.PoV{Name: "acme-pilot", Status: status, OwnerID: owner.ID}
	require.NoError(t, db.Create(pov).Error)

	return &statusFixture{db: db, svc: svc, owner: owner, pov: pov}
}

func (f *statusFixture) addPhase(t *testing.T) *models.Phase {
	t.Helper()
	phase := &models.Phase{PoVID: f.pov.ID, Name: "setup", Order: 1}
	require.NoError(t, f.db.Create(phase).Error)
	return phase
}

func (f *statusFixture) addTask(t *testing.T, phase *models.Phase, status models.TaskStatus) *models.Task {
	t.Helper()
	task := &models.Task{PhaseID: phase.ID, Title: "work", Status: status}
	require.NoError(t, f.db.Create(task).Error)
	return task
}

func (f *statusFixture) currentStatus(t *testing.T) models.PoVStatus {
	t.Helper()
	var pov models.PoV
	require.NoError(t, f.db.Take(&pov, "id = ?", f.pov.ID).Error)
	return pov.Status
}

func TestAvailableTransitionsPerStatus(t *testing.T) {
	f := newStatusFixture(t, models.PoVProjected)

	cases := map[models.PoVStatus][]models.PoVStatus{
		models.PoVProjected:  {models.PoVInProgress},
		models.PoVInProgress: {models.PoVStalled, models.PoVValidation},
		models.PoVValidation: {models.PoVLost, models.PoVWon},
		models.PoVStalled:    {models.PoVInProgress},
		models.PoVWon:        nil,
		models.PoVLost:       nil,
	}

	for from, want := range cases {
		require.Equal(t, want, f.svc.AvailableTransitions(from), "from %s", from)
	}
}

func TestUndeclaredEdgeIsRejected(t *testing.T) {
	f := newStatusFixture(t, models.PoVProjected)

	result, err := f.svc.TransitionStatus(context.Background(), f.pov.ID, models.PoVWon)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, []string{services.ErrInvalidTransition}, result.Errors)
	require.Equal(t, models.PoVProjected, f.currentStatus(t))
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	f := newStatusFixture(t, models.PoVWon)

	result, err := f.svc.TransitionStatus(context.Background(), f.pov.ID, models.PoVInProgress)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, models.PoVWon, f.currentStatus(t))
}

func TestStartRequiresAtLeastOnePhase(t *testing.T) {
	f := newStatusFixture(t, models.PoVProjected)
	ctx := context.Background()

	result, err := f.svc.TransitionStatus(ctx, f.pov.ID, models.PoVInProgress)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, []string{"At least one phase is required"}, result.Errors)
	require.Equal(t, models.PoVProjected, f.currentStatus(t))

	f.addPhase(t)

	result, err = f.svc.TransitionStatus(ctx, f.pov.ID, models.PoVInProgress)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, models.PoVInProgress, result.NewStatus)
	require.Equal(t, models.PoVInProgress, f.currentStatus(t))
	require.NotEmpty(t, result.Notifications)
}

func TestValidationRequiresAllTasksCompleted(t *testing.T) {
	f := newStatusFixture(t, models.PoVInProgress)
	ctx := context.Background()

	phase := f.addPhase(t)
	f.addTask(t, phase, models.TaskCompleted)
	open := f.addTask(t, phase, models.TaskInProgress)

	result, err := f.svc.TransitionStatus(ctx, f.pov.ID, models.PoVValidation)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, []string{"All tasks must be completed"}, result.Errors)

	require.NoError(t, f.db.Model(open).Update("status", models.TaskCompleted).Error)

	result, err = f.svc.TransitionStatus(ctx, f.pov.ID, models.PoVValidation)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestValidateTransitionReportsWithoutCommitting(t *testing.T) {
	f := newStatusFixture(t, models.PoVProjected)

	validation, err := f.svc.ValidateTransition(context.Background(), f.pov.ID, models.PoVInProgress)
	require.NoError(t, err)
	require.False(t, validation.Valid)
	require.Equal(t, []string{"At least one phase is required"}, validation.Errors)
	require.Equal(t, models.PoVProjected, f.currentStatus(t))
}

func TestStalledPoVCanResume(t *testing.T) {
	f := newStatusFixture(t, models.PoVStalled)

	result, err := f.svc.TransitionStatus(context.Background(), f.pov.ID, models.PoVInProgress)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, models.PoVInProgress, f.currentStatus(t))

	require.Len(t, result.Notifications, 1)
	require.Equal(t, "pov-resumed", result.Notifications[0].Template)
}

func TestWonTransitionNotifiesAllRoles(t *testing.T) {
	f := newStatusFixture(t, models.PoVValidation)

	result, err := f.svc.TransitionStatus(context.Background(), f.pov.ID, models.PoVWon)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Notifications, 1)
	require.ElementsMatch(t, []models.Role{models.RoleAdmin, models.RoleUser}, result.Notifications[0].Roles)
}

func TestTransitionCommitIsGuardedAgainstConcurrentMoves(t *testing.T) {
	f := newStatusFixture(t, models.PoVInProgress)
	f.addPhase(t)

	// Simulate another writer moving the pov between validation and commit by
	// racing a direct update first.
	require.NoError(t, f.db.Model(&models.PoV{}).Where("id = ?", f.pov.ID).Update("status", models.PoVStalled).Error)

	var pov models.PoV
	require.NoError(t, f.db.Take(&pov, "id = ?", f.pov.ID).Error)
	require.Equal(t, models.PoVStalled, pov.Status)

	// The optimistic WHERE clause sees the changed status and refuses.
	result := f.db.Model(&models.PoV{}).
		Where("id = ? AND status = ?", f.pov.ID, models.PoVInProgress).
		Update("status", models.PoVValidation)
	require.NoError(t, result.Error)
	require.Zero(t, result.RowsAffected)
	require.Equal(t, models.PoVStalled, f.currentStatus(t))
}

func TestTransitionMissingPoVReturnsNotFound(t *testing.T) {
	f := newStatusFixture(t, models.PoVProjected)

	_, err := f.svc.TransitionStatus(context.Background(), "00000000-0000-0000-0000-000000000000", models.PoVInProgress)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTransitionAuditRowCarriesActingUser(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	svc, err := services.NewStatusService(db, audit)
	require.NoError(t, err)

	owner := &models.User{Email: "actor@example.com", Password: "x", Role: models.RoleUser, Status: models.UserActive}
	require.NoError(t, db.Create(owner).Error)
	pov := &models.PoV{Name: "attributed", Status: models.PoVProjected, OwnerID: owner.ID}
	require.NoError(t, db.Create(pov).Error)
	require.NoError(t, db.Create(&models.Phase{PoVID: pov.ID, Name: "setup", Order: 1}).Error)

	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{
		UserID:    owner.ID,
		Email:     owner.Email,
		IPAddress: "10.0.0.1",
		UserAgent: "status-test",
	})

	result, err := svc.TransitionStatus(ctx, pov.ID, models.PoVInProgress)
	require.NoError(t, err)
	require.True(t, result.Success)

	var row models.AuditLog
	require.NoError(t, db.Take(&row, "type = ?", services.AuditTypeStatusChange).Error)
	require.NotNil(t, row.UserID)
	require.Equal(t, owner.ID, *row.UserID)
	require.Equal(t, "10.0.0.1", row.IPAddress)
	require.Equal(t, "status-test", row.UserAgent)
}
