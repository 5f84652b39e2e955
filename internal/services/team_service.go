package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/authz"
	"github.com/steveterryp/copov3/internal/models"
	apperrors "github.com/steveterryp/copov3/pkg/errors"
)

// TeamService manages teams and their membership. Membership mutations
// invalidate the cached membership checks for the affected user and team.
type TeamService struct {
	db    *gorm.DB
	cache *authz.DecisionCache
	audit *AuditService
}

// NewTeamService constructs a TeamService using the provided collaborators.
func NewTeamService(db *gorm.DB, cache *authz.DecisionCache, audit *AuditService) (*TeamService, error) {
	if db == nil {
		return nil, errors.New("team service: db is required")
	}
	if cache == nil {
		return nil, errors.New("team service: cache is required")
	}
	return &TeamService{db: db, cache: cache, audit: audit}, nil
}

// CreateTeam registers a new team.
func (s *TeamService) CreateTeam(ctx context.Context, name, description string) (*models.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewBadRequest("team name is required")
	}

	team := &models.Team{
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if err := s.db.WithContext(ctx).Create(team).Error; err != nil {
		return nil, fmt.Errorf("team service: create team: %w", err)
	}
	return team, nil
}

// AddMember adds the user to the team and invalidates their cached checks.
func (s *TeamService) AddMember(ctx context.Context, actorID, teamID, userID string) error {
	team, user, err := s.load(ctx, teamID, userID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(team).Association("Members").Append(user); err != nil {
		return fmt.Errorf("team service: add member: %w", err)
	}

	s.cache.InvalidateUser(userID)
	s.cache.InvalidateTeam(teamID)

	if s.audit != nil {
		s.audit.LogTeamMembershipChange(ctx, actorID, teamID, userID, "member_added")
	}
	return nil
}

// RemoveMember removes the user from the team and invalidates their cached checks.
func (s *TeamService) RemoveMember(ctx context.Context, actorID, teamID, userID string) error {
	team, user, err := s.load(ctx, teamID, userID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(team).Association("Members").Delete(user); err != nil {
		return fmt.Errorf("team service: remove member: %w", err)
	}

	s.cache.InvalidateUser(userID)
	s.cache.InvalidateTeam(teamID)

	if s.audit != nil {
		s.audit.LogTeamMembershipChange(ctx, actorID, teamID, userID, "member_removed")
	}
	return nil
}

func (s *TeamService) load(ctx context.Context, teamID, userID string) (*models.Team, *models.User, error) {
	var team models.Team
	if err := s.db.WithContext(ctx).Take(&team, "id = ?", teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.ErrNotFound
		}
		return nil, nil, fmt.Errorf("team service: load team: %w", err)
	}

	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.ErrNotFound
		}
		return nil, nil, fmt.Errorf("team service: load user: %w", err)
	}

	return &team, &user, nil
}
