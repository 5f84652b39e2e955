package models

// PoVStatus enumerates the lifecycle states a PoV moves through.
type PoVStatus string

const (
	PoVProjected  PoVStatus = "projected"
	PoVInProgress PoVStatus = "in_progress"
	PoVValidation PoVStatus = "validation"
	PoVStalled    PoVStatus = "stalled"
	PoVWon        PoVStatus = "won"
	PoVLost       PoVStatus = "lost"
)

// Valid reports whether the status is a known lifecycle state.
func (s PoVStatus) Valid() bool {
	switch s {
	case PoVProjected, PoVInProgress, PoVValidation, PoVStalled, PoVWon, PoVLost:
		return true
	}
	return false
}

// PoV is the core tracked business entity ("Proof of Value").
type PoV struct {
	BaseModel

	Name     string    `gorm:"not null" json:"name"`
	Customer string    `json:"customer"`
	Status   PoVStatus `gorm:"type:varchar(32);not null;default:projected;index" json:"status"`

	OwnerID string  `gorm:"type:uuid;not null;index" json:"owner_id"`
	Owner   *User   `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	TeamID  *string `gorm:"type:uuid;index" json:"team_id"`
	Team    *Team   `json:"team,omitempty"`

	Phases []Phase `gorm:"foreignKey:PoVID" json:"phases,omitempty"`
}

// Phase is an ordered stage of a PoV containing tasks.
type Phase struct {
	BaseModel

	PoVID string `gorm:"column:pov_id;type:uuid;not null;index" json:"pov_id"`
	Name  string `gorm:"not null" json:"name"`
	Order int    `gorm:"column:position;not null;default:0" json:"order"`

	Tasks []Task `gorm:"foreignKey:PhaseID" json:"tasks,omitempty"`
}

// TaskStatus enumerates task completion states.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is a unit of work inside a phase.
type Task struct {
	BaseModel

	PhaseID    string     `gorm:"type:uuid;not null;index" json:"phase_id"`
	Title      string     `gorm:"not null" json:"title"`
	Status     TaskStatus `gorm:"type:varchar(32);not null;default:todo" json:"status"`
	AssigneeID *string    `gorm:"type:uuid;index" json:"assignee_id"`
}
