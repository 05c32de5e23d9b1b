package models

// TaskStatus tracks task progress.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone:
		return true
	default:
		return false
	}
}

// Task is a unit of work inside a project. Assignees must be project members.
type Task struct {
	BaseModel

	ProjectID   uint       `gorm:"not null;index" json:"project_id"`
	Title       string     `gorm:"size:200;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Status      TaskStatus `gorm:"size:20;not null;default:todo;index" json:"status"`
	CreatedByID *uint      `gorm:"index" json:"created_by_id,omitempty"`

	Project   *Project  `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedBy *Account  `gorm:"foreignKey:CreatedByID;constraint:OnDelete:SET NULL" json:"created_by,omitempty"`
	Assignees []Account `gorm:"many2many:task_assignees;constraint:OnDelete:CASCADE" json:"assignees"`
}

// AssigneeIDs lists the identifiers of loaded assignees.
func (t *Task) AssigneeIDs() []uint {
	ids := make([]uint, 0, len(t.Assignees))
	for _, a := range t.Assignees {
		ids = append(ids, a.ID)
	}
	return ids
}

// HasAssignee reports whether accountID is among the loaded assignees.
func (t *Task) HasAssignee(accountID uint) bool {
	for _, a := range t.Assignees {
		if a.ID == accountID {
			return true
		}
	}
	return false
}
