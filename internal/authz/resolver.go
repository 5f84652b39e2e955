package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/models"
	apperrors "github.com/steveterryp/copov3/pkg/errors"
)

// ResourceType identifies the kind of entity a permission check targets.
type ResourceType string

const (
	ResourcePoV       ResourceType = "pov"
	ResourcePhase     ResourceType = "phase"
	ResourceTask      ResourceType = "task"
	ResourceUser      ResourceType = "user"
	ResourceTeam      ResourceType = "team"
	ResourceSettings  ResourceType = "settings"
	ResourceAnalytics ResourceType = "analytics"
)

// SingletonID is the fixed resource id used by types that have no per-entity
// ownership (settings, analytics).
const SingletonID = "global"

// Resource carries the ownership metadata needed for condition evaluation.
// Resources are derived on demand and never persisted as their own record.
type Resource struct {
	Type    ResourceType
	ID      string
	OwnerID string
	TeamID  string
}

// Resolver loads a resource's ownership and team metadata from the store
// using the minimal projection each type requires.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a Resolver backed by the provided database.
func NewResolver(db *gorm.DB) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("resolver: db is required")
	}
	return &Resolver{db: db}, nil
}

// GetResource resolves ownership metadata for the requested entity. A missing
// entity yields ErrNotFound, which callers must treat as a hard failure
// rather than an implicit deny.
func (r *Resolver) GetResource(ctx context.Context, resourceType ResourceType, id string) (Resource, error) {
	id = strings.TrimSpace(id)

	switch resourceType {
	case ResourcePoV:
		return r.resolvePoV(ctx, id)
	case ResourcePhase:
		return r.resolvePhase(ctx, id)
	case ResourceTask:
		return r.resolveTask(ctx, id)
	case ResourceUser:
		return r.resolveUser(ctx, id)
	case ResourceTeam:
		return r.resolveTeam(ctx, id)
	case ResourceSettings, ResourceAnalytics:
		return Resource{Type: resourceType, ID: SingletonID}, nil
	default:
		return Resource{}, fmt.Errorf("resolver: unknown resource type %q", resourceType)
	}
}

// IsTeamMember reports whether the user belongs to the team.
func (r *Resolver) IsTeamMember(ctx context.Context, userID, teamID string) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(teamID) == "" {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).
		Table("team_members").
		Where("user_id = ? AND team_id = ?", userID, teamID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("resolver: team membership: %w", err)
	}
	return count > 0, nil
}

func (r *Resolver) resolvePoV(ctx context.Context, id string) (Resource, error) {
	var pov models.PoV
	err := r.db.WithContext(ctx).
		Select("id", "owner_id", "team_id").
		Take(&pov, "id = ?", id).Error
	if err != nil {
		return Resource{}, notFoundOr(err, "pov")
	}

	res := Resource{Type: ResourcePoV, ID: pov.ID, OwnerID: pov.OwnerID}
	if pov.TeamID != nil {
		res.TeamID = *pov.TeamID
	}
	return res, nil
}

// Phases and tasks inherit ownership from their parent PoV.
func (r *Resolver) resolvePhase(ctx context.Context, id string) (Resource, error) {
	var phase models.Phase
	err := r.db.WithContext(ctx).
		Select("id", "pov_id").
		Take(&phase, "id = ?", id).Error
	if err != nil {
		return Resource{}, notFoundOr(err, "phase")
	}

	parent, err := r.resolvePoV(ctx, phase.PoVID)
	if err != nil {
		return Resource{}, err
	}

	return Resource{Type: ResourcePhase, ID: phase.ID, OwnerID: parent.OwnerID, TeamID: parent.TeamID}, nil
}

func (r *Resolver) resolveTask(ctx context.Context, id string) (Resource, error) {
	var task models.Task
	err := r.db.WithContext(ctx).
		Select("id", "phase_id").
		Take(&task, "id = ?", id).Error
	if err != nil {
		return Resource{}, notFoundOr(err, "task")
	}

	parent, err := r.resolvePhase(ctx, task.PhaseID)
	if err != nil {
		return Resource{}, err
	}

	return Resource{Type: ResourceTask, ID: task.ID, OwnerID: parent.OwnerID, TeamID: parent.TeamID}, nil
}

func (r *Resolver) resolveUser(ctx context.Context, id string) (Resource, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select("id").
		Take(&user, "id = ?", id).Error
	if err != nil {
		return Resource{}, notFoundOr(err, "user")
	}

	// A user record is owned by the user it describes.
	return Resource{Type: ResourceUser, ID: user.ID, OwnerID: user.ID}, nil
}

func (r *Resolver) resolveTeam(ctx context.Context, id string) (Resource, error) {
	var team models.Team
	err := r.db.WithContext(ctx).
		Select("id").
		Take(&team, "id = ?", id).Error
	if err != nil {
		return Resource{}, notFoundOr(err, "team")
	}

	return Resource{Type: ResourceTeam, ID: team.ID, TeamID: team.ID}, nil
}

func notFoundOr(err error, kind string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound.WithInternal(fmt.Errorf("resolver: %s not found", kind))
	}
	return fmt.Errorf("resolver: load %s: %w", kind, err)
}
