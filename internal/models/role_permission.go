package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// RolePermission stores one persisted rule per (role, resource type, action)
// triple. Enabled is the role-level gate; Conditions optionally narrow the
// grant per resource.
type RolePermission struct {
	BaseModel

	Role         Role           `gorm:"type:varchar(32);not null;uniqueIndex:idx_role_resource_action,priority:1" json:"role"`
	ResourceType string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_role_resource_action,priority:2" json:"resource_type"`
	Action       string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_role_resource_action,priority:3" json:"action"`
	Enabled      bool           `gorm:"not null;default:false" json:"enabled"`
	Conditions   datatypes.JSON `json:"conditions,omitempty"`
}

// TableName overrides the default table name for GORM.
func (RolePermission) TableName() string {
	return "role_permissions"
}

// RuleConditions narrows a role-level grant per resource. When both IsOwner
// and IsTeamMember are requested, either one passing grants access.
type RuleConditions struct {
	IsOwner      bool   `json:"isOwner,omitempty"`
	IsTeamMember bool   `json:"isTeamMember,omitempty"`
	HasRole      []Role `json:"hasRole,omitempty"`
}

// Empty reports whether the conditions place no constraint on the grant.
func (c RuleConditions) Empty() bool {
	return !c.IsOwner && !c.IsTeamMember && len(c.HasRole) == 0
}

// DecodeConditions unmarshals the stored condition blob. A missing blob
// decodes to the empty (unconstrained) condition set.
func (p *RolePermission) DecodeConditions() (RuleConditions, error) {
	var conds RuleConditions
	if len(p.Conditions) == 0 {
		return conds, nil
	}
	if err := json.Unmarshal(p.Conditions, &conds); err != nil {
		return RuleConditions{}, err
	}
	return conds, nil
}

// EncodeConditions marshals conditions into the stored blob format.
func (p *RolePermission) EncodeConditions(conds RuleConditions) error {
	if conds.Empty() {
		p.Conditions = nil
		return nil
	}
	raw, err := json.Marshal(conds)
	if err != nil {
		return err
	}
	p.Conditions = datatypes.JSON(raw)
	return nil
}
