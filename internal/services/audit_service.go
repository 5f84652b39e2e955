package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/auditctx"
	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/pkg/logger"
)

// Audit entry types written by the core.
const (
	AuditTypeActivity        = "activity"
	AuditTypePermissionCheck = "permission_check"
	AuditTypeRoleChange      = "role_change"
	AuditTypeTeamMembership  = "team_membership"
	AuditTypePermission      = "permission_change"
	AuditTypeStatusChange    = "status_change"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	UserID    string
	Type      string
	Action    string
	Resource  string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	UserID   string
	Type     string
	Action   string
	Result   string
	Resource string
	Since    *time.Time
	Until    *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService appends immutable audit rows. Writes are best-effort: failures
// are logged and swallowed so auditing can never block or fail the operation
// being audited.
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{
		db:  db,
		now: time.Now,
		log: logger.WithModule("audit"),
	}, nil
}

// TrackActivity records a generic user activity event.
func (s *AuditService) TrackActivity(ctx context.Context, entry AuditEntry) {
	if entry.Type == "" {
		entry.Type = AuditTypeActivity
	}
	s.append(ctx, entry)
}

// LogPermissionCheck records a permission decision. Implements the decision
// audit sink consumed by the evaluator.
func (s *AuditService) LogPermissionCheck(ctx context.Context, userID, resourceType, resourceID, action string, allowed bool, reason, ipAddress, userAgent string) {
	result := "denied"
	if allowed {
		result = "allowed"
	}

	s.append(ctx, AuditEntry{
		UserID:    userID,
		Type:      AuditTypePermissionCheck,
		Action:    action,
		Resource:  resourceType + ":" + resourceID,
		Result:    result,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Metadata: map[string]any{
			"reason":        reason,
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	})
}

// LogRoleChange records a role mutation on a user account.
func (s *AuditService) LogRoleChange(ctx context.Context, actorID, subjectID string, from, to models.Role) {
	s.append(ctx, AuditEntry{
		UserID:   actorID,
		Type:     AuditTypeRoleChange,
		Action:   "user.role_change",
		Resource: "user:" + subjectID,
		Result:   "success",
		Metadata: map[string]any{
			"subject_id": subjectID,
			"from":       string(from),
			"to":         string(to),
		},
	})
}

// LogTeamMembershipChange records a team membership mutation.
func (s *AuditService) LogTeamMembershipChange(ctx context.Context, actorID, teamID, subjectID, change string) {
	s.append(ctx, AuditEntry{
		UserID:   actorID,
		Type:     AuditTypeTeamMembership,
		Action:   "team." + change,
		Resource: "team:" + teamID,
		Result:   "success",
		Metadata: map[string]any{
			"team_id":    teamID,
			"subject_id": subjectID,
		},
	})
}

// LogPermissionChange records a mutation of the persisted rule table.
func (s *AuditService) LogPermissionChange(ctx context.Context, actorID string, rule models.RolePermission) {
	s.append(ctx, AuditEntry{
		UserID:   actorID,
		Type:     AuditTypePermission,
		Action:   "permission.update",
		Resource: "rule:" + rule.ID,
		Result:   "success",
		Metadata: map[string]any{
			"role":          string(rule.Role),
			"resource_type": rule.ResourceType,
			"action":        rule.Action,
			"enabled":       rule.Enabled,
		},
	})
}

// append persists the entry, merging a server-generated timestamp into the
// metadata blob. Actor fields left empty by the caller are filled from the
// request context set by the auth middleware, so service-layer writes still
// attribute the acting user. Every failure path logs and returns; nothing
// propagates.
func (s *AuditService) append(ctx context.Context, entry AuditEntry) {
	if ctx == nil {
		ctx = context.Background()
	}

	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.UserID == "" {
			entry.UserID = actor.UserID
		}
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
	}

	metadata := make(map[string]any, len(entry.Metadata)+1)
	for k, v := range entry.Metadata {
		metadata[k] = v
	}
	metadata["timestamp"] = s.now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(metadata)
	if err != nil {
		s.log.Error("marshal audit metadata", zap.Error(err), zap.String("action", entry.Action))
		return
	}

	row := models.AuditLog{
		Type:      strings.TrimSpace(entry.Type),
		Action:    strings.TrimSpace(entry.Action),
		Resource:  strings.TrimSpace(entry.Resource),
		Result:    strings.TrimSpace(entry.Result),
		IPAddress: strings.TrimSpace(entry.IPAddress),
		UserAgent: strings.TrimSpace(entry.UserAgent),
		Metadata:  datatypes.JSON(payload),
	}
	if id := strings.TrimSpace(entry.UserID); id != "" {
		row.UserID = &id
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.log.Error("append audit row", zap.Error(err), zap.String("action", entry.Action))
	}
}

// List returns paginated audit logs ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.AuditLog
		total   int64
	)

	query := applyAuditFilters(s.db.WithContext(ctx).Model(&models.AuditLog{}), opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}

	return results, total, nil
}

// CleanupOlderThan removes audit logs older than the supplied retention window (in days).
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	if filters.Type != "" {
		query = query.Where("type = ?", filters.Type)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.Result != "" {
		query = query.Where("result = ?", filters.Result)
	}
	if filters.Resource != "" {
		query = query.Where("resource = ?", filters.Resource)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}
