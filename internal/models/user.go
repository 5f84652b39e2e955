package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role identifies a user's position in the access hierarchy.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var roleRank = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// Valid reports whether the role is one of the known hierarchy members.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether the role sits at or above the other role in the
// strict total order user < admin < super_admin.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// UserStatus tracks the account lifecycle.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserInactive  UserStatus = "inactive"
	UserSuspended UserStatus = "suspended"
)

// User describes platform users with team membership and a single role.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Name     string `json:"name"`
	Password string `gorm:"not null" json:"-"`

	Role   Role       `gorm:"type:varchar(32);not null;default:user;index" json:"role"`
	Status UserStatus `gorm:"type:varchar(32);not null;default:inactive" json:"status"`

	Teams []Team `gorm:"many2many:team_members;" json:"teams,omitempty"`

	VerifiedAt  *time.Time `json:"verified_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
