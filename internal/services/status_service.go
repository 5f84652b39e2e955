package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/models"
	apperrors "github.com/steveterryp/copov3/pkg/errors"
	"github.com/steveterryp/copov3/pkg/metrics"
)

// ErrInvalidTransition is the message returned when no edge is declared
// between the current and requested status.
const ErrInvalidTransition = "Invalid status transition"

// NotificationIntent declares who should be notified after a successful
// transition. The engine returns intents; dispatching them is the caller's
// responsibility.
type NotificationIntent struct {
	Roles    []models.Role `json:"roles"`
	Template string        `json:"template"`
}

// TransitionCondition is an async predicate guarding a transition edge.
type TransitionCondition struct {
	Name    string
	Message string
	Check   func(ctx context.Context, povID string) (bool, error)
}

type transitionEdge struct {
	from          models.PoVStatus
	to            models.PoVStatus
	conditions    []TransitionCondition
	notifications []NotificationIntent
}

// ValidationResult reports whether a transition is legal and which condition
// messages failed.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// TransitionResult is the outcome of a transition attempt. Business failures
// are reported structurally; returned errors are reserved for infrastructure
// faults.
type TransitionResult struct {
	Success       bool                 `json:"success"`
	NewStatus     models.PoVStatus     `json:"new_status,omitempty"`
	Errors        []string             `json:"errors,omitempty"`
	Notifications []NotificationIntent `json:"notifications,omitempty"`
}

// StatusService is the finite state machine governing PoV lifecycle moves.
type StatusService struct {
	db    *gorm.DB
	audit *AuditService
	edges []transitionEdge
}

// NewStatusService constructs the engine with its declared edge table.
func NewStatusService(db *gorm.DB, audit *AuditService) (*StatusService, error) {
	if db == nil {
		return nil, errors.New("status service: db is required")
	}

	s := &StatusService{db: db, audit: audit}
	s.edges = []transitionEdge{
		{
			from:       models.PoVProjected,
			to:         models.PoVInProgress,
			conditions: []TransitionCondition{s.hasPhases()},
			notifications: []NotificationIntent{
				{Roles: []models.Role{models.RoleAdmin}, Template: "pov-started"},
			},
		},
		{
			from:       models.PoVInProgress,
			to:         models.PoVValidation,
			conditions: []TransitionCondition{s.allTasksCompleted()},
			notifications: []NotificationIntent{
				{Roles: []models.Role{models.RoleAdmin}, Template: "pov-validation"},
			},
		},
		{
			from:       models.PoVValidation,
			to:         models.PoVWon,
			conditions: []TransitionCondition{s.kpiTargetsMet()},
			notifications: []NotificationIntent{
				{Roles: []models.Role{models.RoleAdmin, models.RoleUser}, Template: "pov-won"},
			},
		},
		{
			from: models.PoVInProgress,
			to:   models.PoVStalled,
			notifications: []NotificationIntent{
				{Roles: []models.Role{models.RoleAdmin}, Template: "pov-stalled"},
			},
		},
		{
			from: models.PoVValidation,
			to:   models.PoVLost,
			notifications: []NotificationIntent{
				{Roles: []models.Role{models.RoleAdmin}, Template: "pov-lost"},
			},
		},
		{
			from: models.PoVStalled,
			to:   models.PoVInProgress,
			notifications: []NotificationIntent{
				{Roles: []models.Role{models.RoleAdmin}, Template: "pov-resumed"},
			},
		},
	}

	return s, nil
}

// AvailableTransitions returns the target statuses reachable from the current
// status via declared edges. Won and lost have no outgoing edges.
func (s *StatusService) AvailableTransitions(from models.PoVStatus) []models.PoVStatus {
	var targets []models.PoVStatus
	for _, edge := range s.edges {
		if edge.from == from {
			targets = append(targets, edge.to)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}

// CurrentStatus reads the PoV's current lifecycle status.
func (s *StatusService) CurrentStatus(ctx context.Context, povID string) (models.PoVStatus, error) {
	return s.readStatus(ctx, povID)
}

// ValidateTransition checks whether the PoV may move to newStatus, running
// every edge condition concurrently and collecting failure messages.
func (s *StatusService) ValidateTransition(ctx context.Context, povID string, newStatus models.PoVStatus) (ValidationResult, error) {
	current, err := s.readStatus(ctx, povID)
	if err != nil {
		return ValidationResult{}, err
	}
	return s.validateFrom(ctx, povID, current, newStatus)
}

func (s *StatusService) validateFrom(ctx context.Context, povID string, from, to models.PoVStatus) (ValidationResult, error) {
	edge, ok := s.findEdge(from, to)
	if !ok {
		return ValidationResult{Valid: false, Errors: []string{ErrInvalidTransition}}, nil
	}

	var (
		mu       sync.Mutex
		failures []string
	)

	group, gctx := errgroup.WithContext(ctx)
	for _, condition := range edge.conditions {
		condition := condition
		group.Go(func() error {
			ok, err := condition.Check(gctx, povID)
			if err != nil {
				return fmt.Errorf("status service: condition %s: %w", condition.Name, err)
			}
			if !ok {
				mu.Lock()
				failures = append(failures, condition.Message)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return ValidationResult{}, err
	}

	sort.Strings(failures)
	return ValidationResult{Valid: len(failures) == 0, Errors: failures}, nil
}

// TransitionStatus re-validates and persists the new status only when every
// condition holds. On failure the PoV is left untouched and the unmet
// condition messages are returned for the caller to present.
func (s *StatusService) TransitionStatus(ctx context.Context, povID string, newStatus models.PoVStatus) (TransitionResult, error) {
	current, err := s.readStatus(ctx, povID)
	if err != nil {
		return TransitionResult{}, err
	}

	validation, err := s.validateFrom(ctx, povID, current, newStatus)
	if err != nil {
		return TransitionResult{}, err
	}
	if !validation.Valid {
		metrics.StatusTransitions.WithLabelValues(string(newStatus), "rejected").Inc()
		return TransitionResult{Success: false, Errors: validation.Errors}, nil
	}

	// Guard against a concurrent transition between validate and commit.
	result := s.db.WithContext(ctx).
		Model(&models.PoV{}).
		Where("id = ? AND status = ?", povID, current).
		Update("status", newStatus)
	if result.Error != nil {
		return TransitionResult{}, fmt.Errorf("status service: persist status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		metrics.StatusTransitions.WithLabelValues(string(newStatus), "rejected").Inc()
		return TransitionResult{Success: false, Errors: []string{ErrInvalidTransition}}, nil
	}

	metrics.StatusTransitions.WithLabelValues(string(newStatus), "success").Inc()

	if s.audit != nil {
		s.audit.TrackActivity(ctx, AuditEntry{
			Type:     AuditTypeStatusChange,
			Action:   "pov.status_change",
			Resource: "pov:" + povID,
			Result:   "success",
			Metadata: map[string]any{
				"from": string(current),
				"to":   string(newStatus),
			},
		})
	}

	edge, _ := s.findEdge(current, newStatus)
	return TransitionResult{
		Success:       true,
		NewStatus:     newStatus,
		Notifications: edge.notifications,
	}, nil
}

func (s *StatusService) findEdge(from, to models.PoVStatus) (transitionEdge, bool) {
	for _, edge := range s.edges {
		if edge.from == from && edge.to == to {
			return edge, true
		}
	}
	return transitionEdge{}, false
}

func (s *StatusService) readStatus(ctx context.Context, povID string) (models.PoVStatus, error) {
	var pov models.PoV
	err := s.db.WithContext(ctx).
		Select("id", "status").
		Take(&pov, "id = ?", povID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperrors.ErrNotFound.WithInternal(fmt.Errorf("status service: pov %s not found", povID))
	}
	if err != nil {
		return "", fmt.Errorf("status service: read status: %w", err)
	}
	return pov.Status, nil
}

func (s *StatusService) hasPhases() TransitionCondition {
	return TransitionCondition{
		Name:    "has_phases",
		Message: "At least one phase is required",
		Check: func(ctx context.Context, povID string) (bool, error) {
			var count int64
			err := s.db.WithContext(ctx).
				Model(&models.Phase{}).
				Where("pov_id = ?", povID).
				Count(&count).Error
			if err != nil {
				return false, err
			}
			return count > 0, nil
		},
	}
}

func (s *StatusService) allTasksCompleted() TransitionCondition {
	return TransitionCondition{
		Name:    "all_tasks_completed",
		Message: "All tasks must be completed",
		Check: func(ctx context.Context, povID string) (bool, error) {
			var remaining int64
			err := s.db.WithContext(ctx).
				Model(&models.Task{}).
				Joins("JOIN phases ON phases.id = tasks.phase_id").
				Where("phases.pov_id = ? AND tasks.status <> ?", povID, models.TaskCompleted).
				Count(&remaining).Error
			if err != nil {
				return false, err
			}
			return remaining == 0, nil
		},
	}
}

// kpiTargetsMet gates validation -> won. KPI evaluation is not implemented
// yet, so the condition is declared but passes unconditionally.
func (s *StatusService) kpiTargetsMet() TransitionCondition {
	return TransitionCondition{
		Name:    "kpi_targets_met",
		Message: "KPI targets must be met",
		Check: func(ctx context.Context, povID string) (bool, error) {
			return true, nil
		},
	}
}
