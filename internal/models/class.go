package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recurrence identifies how a class definition repeats
type Recurrence string

const (
	RecurrenceOnce      Recurrence = "ONCE"
	RecurrenceWeekly    Recurrence = "WEEKLY"
	RecurrenceOddWeeks  Recurrence = "ODD_WEEKS"
	RecurrenceEvenWeeks Recurrence = "EVEN_WEEKS"
)

// IsKnownRecurrence reports whether r is one of the supported recurrence tags
func IsKnownRecurrence(r Recurrence) bool {
	switch r {
	case RecurrenceOnce, RecurrenceWeekly, RecurrenceOddWeeks, RecurrenceEvenWeeks:
		return true
	}
	return false
}

// ClassDefinition represents a (possibly recurring) class in the timetable.
// Start/end are wall-clock instants in the institution timezone; every
// generated occurrence preserves the start-to-end duration.
//
// A definition becomes immutable once any reminder has been dispatched
// against it: later edits create a new row with Version+1 and mark the old
// row superseded, so delivery log entries keep pointing at the definition
// they were sent for.
type ClassDefinition struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	Title         string         `gorm:"size:200;not null" json:"title"`
	Room          string         `gorm:"size:100;not null" json:"room"`
	TeacherEmail  string         `gorm:"size:255;not null;index" json:"teacher_email"`
	StartDateTime time.Time      `gorm:"not null;index" json:"start_datetime"`
	EndDateTime   time.Time      `gorm:"not null" json:"end_datetime"`
	Recurrence    Recurrence     `gorm:"size:12;not null;default:ONCE" json:"recurrence"`
	Version       int            `gorm:"not null;default:1" json:"version"`
	SupersededBy  string         `gorm:"size:36" json:"superseded_by,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// Active reports whether the definition is still the live version
func (c *ClassDefinition) Active() bool {
	return c.SupersededBy == ""
}

// Duration returns the class length shared by all occurrences
func (c *ClassDefinition) Duration() time.Duration {
	return c.EndDateTime.Sub(c.StartDateTime)
}

// BeforeCreate hook fills identity and timestamp defaults
func (c *ClassDefinition) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Recurrence == "" {
		c.Recurrence = RecurrenceOnce
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return nil
}

// TableName specifies the table name for the ClassDefinition model
func (ClassDefinition) TableName() string {
	return "class_definition"
}

// Occurrence is one concrete calendar instance of a class definition.
// Derived on demand by the expander, never stored.
type Occurrence struct {
	ClassID string    `json:"class_id"`
	Title   string    `json:"title"`
	Room    string    `json:"room"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// CreateClassRequest represents the data needed to create a class manually
type CreateClassRequest struct {
	Title         string    `json:"title" binding:"required,max=200"`
	Room          string    `json:"room" binding:"required,max=100"`
	TeacherEmail  string    `json:"teacher_email" binding:"required,email"`
	StartDateTime time.Time `json:"start_datetime" binding:"required"`
	EndDateTime   time.Time `json:"end_datetime" binding:"required"`
	Recurrence    string    `json:"recurrence" binding:"omitempty,oneof=ONCE WEEKLY ODD_WEEKS EVEN_WEEKS"`
}
