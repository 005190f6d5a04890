package models

import (
	"time"

	"gorm.io/gorm"
)

// Sprint task states.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
)

// SprintSubmission holds a member's questionnaire answers
type SprintSubmission struct {
	gorm.Model
	UserID      uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Answers     string     `gorm:"type:text" json:"-"` // JSON encoded sprint.Answers
	CurrentStep string     `json:"current_step"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SprintTask is one personalized task generated from a submission
type SprintTask struct {
	gorm.Model
	UserID      uint       `gorm:"not null;index" json:"user_id"`
	TemplateKey string     `gorm:"index" json:"template_key"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Category    string     `json:"category"`
	Priority    string     `gorm:"default:'medium'" json:"priority"`
	Position    int        `gorm:"default:0" json:"position"`
	Status      string     `gorm:"default:'todo';index" json:"status"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
