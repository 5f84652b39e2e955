package models

// Team groups users collaborating on the same set of PoVs.
type Team struct {
	BaseModel

	Name        string `gorm:"not null;uniqueIndex" json:"name"`
	Description string `json:"description"`

	Members []User `gorm:"many2many:team_members;" json:"members,omitempty"`
}
