package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Team{},
		&models.PoV{},
		&models.Phase{},
		&models.Task{},
		&models.RolePermission{},
		&models.RefreshToken{},
		&models.AuditLog{},
	)
}

type seedRule struct {
	role       models.Role
	resource   string
	action     string
	enabled    bool
	conditions models.RuleConditions
}

// SeedData populates the default persisted permission rules. Existing rows
// are left untouched so runtime overrides survive restarts.
func SeedData(db *gorm.DB) error {
	ownerOrTeam := models.RuleConditions{IsOwner: true, IsTeamMember: true}

	rules := []seedRule{
		{role: models.RoleUser, resource: "pov", action: "view", enabled: true, conditions: ownerOrTeam},
		{role: models.RoleUser, resource: "pov", action: "create", enabled: true},
		{role: models.RoleUser, resource: "pov", action: "edit", enabled: true, conditions: ownerOrTeam},
		{role: models.RoleUser, resource: "pov", action: "transition", enabled: true, conditions: ownerOrTeam},
		{role: models.RoleUser, resource: "phase", action: "view", enabled: true, conditions: ownerOrTeam},
		{role: models.RoleUser, resource: "phase", action: "edit", enabled: true, conditions: ownerOrTeam},
		{role: models.RoleUser, resource: "task", action: "view", enabled: true, conditions: ownerOrTeam},
		{role: models.RoleUser, resource: "task", action: "edit", enabled: true, conditions: ownerOrTeam},
		{role: models.RoleUser, resource: "user", action: "view", enabled: true, conditions: models.RuleConditions{IsOwner: true}},
		{role: models.RoleUser, resource: "user", action: "edit", enabled: true, conditions: models.RuleConditions{IsOwner: true}},

		{role: models.RoleAdmin, resource: "pov", action: "view", enabled: true},
		{role: models.RoleAdmin, resource: "pov", action: "create", enabled: true},
		{role: models.RoleAdmin, resource: "pov", action: "edit", enabled: true},
		{role: models.RoleAdmin, resource: "pov", action: "delete", enabled: true},
		{role: models.RoleAdmin, resource: "pov", action: "transition", enabled: true},
		{role: models.RoleAdmin, resource: "phase", action: "view", enabled: true},
		{role: models.RoleAdmin, resource: "phase", action: "edit", enabled: true},
		{role: models.RoleAdmin, resource: "task", action: "view", enabled: true},
		{role: models.RoleAdmin, resource: "task", action: "edit", enabled: true},
		{role: models.RoleAdmin, resource: "user", action: "view", enabled: true},
		{role: models.RoleAdmin, resource: "user", action: "edit", enabled: true},
		{role: models.RoleAdmin, resource: "team", action: "view", enabled: true},
		{role: models.RoleAdmin, resource: "team", action: "manage", enabled: true},
		{role: models.RoleAdmin, resource: "analytics", action: "view", enabled: true},
		{role: models.RoleAdmin, resource: "settings", action: "view", enabled: true},
	}

	for _, rule := range rules {
		record := models.RolePermission{
			Role:         rule.role,
			ResourceType: rule.resource,
			Action:       rule.action,
			Enabled:      rule.enabled,
		}
		if err := record.EncodeConditions(rule.conditions); err != nil {
			return fmt.Errorf("seed: encode conditions for %s/%s/%s: %w", rule.role, rule.resource, rule.action, err)
		}

		err := db.Where(models.RolePermission{
			Role:         rule.role,
			ResourceType: rule.resource,
			Action:       rule.action,
		}).Attrs(record).FirstOrCreate(&models.RolePermission{}).Error
		if err != nil {
			return fmt.Errorf("seed: rule %s/%s/%s: %w", rule.role, rule.resource, rule.action, err)
		}
	}

	return nil
}
