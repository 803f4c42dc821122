package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role values for a user account
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Lead times (minutes before class start) a user may choose from
var AllowedLeadTimes = []int{5, 10, 15, 30, 60}

// IsAllowedLeadTime reports whether minutes is one of the selectable lead times
func IsAllowedLeadTime(minutes int) bool {
	for _, m := range AllowedLeadTimes {
		if m == minutes {
			return true
		}
	}
	return false
}

// ChannelSet holds the per-channel enable flags for a user
type ChannelSet struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

// QuietHours is a local time-of-day window during which reminders are
// deferred. Start/End are "HH:MM" strings; the window may wrap midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// NotificationPreferences controls how and when a user is reminded
type NotificationPreferences struct {
	Enabled         bool       `json:"enabled"`
	LeadTimeMinutes int        `json:"lead_time_minutes"`
	Channels        ChannelSet `json:"channels"`
	QuietHours      QuietHours `json:"quiet_hours"`
}

// DefaultPreferences returns the preferences assigned to new users
func DefaultPreferences() NotificationPreferences {
	return NotificationPreferences{
		Enabled:         true,
		LeadTimeMinutes: 15,
		Channels:        ChannelSet{Email: true},
		QuietHours:      QuietHours{Enabled: false, Start: "22:00", End: "07:00"},
	}
}

func (p NotificationPreferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *NotificationPreferences) Scan(value interface{}) error {
	if value == nil {
		*p = DefaultPreferences()
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported type for NotificationPreferences: %T", value)
	}
}

// User represents a staff or admin account in the system
type User struct {
	ID          string                  `gorm:"primaryKey;size:36" json:"id"`
	Name        string                  `gorm:"size:100;not null" json:"name"`
	Email       string                  `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Phone       string                  `gorm:"size:30" json:"phone,omitempty"`
	Role        string                  `gorm:"size:10;not null;default:staff" json:"role"`
	HashedPass  string                  `gorm:"size:255;not null" json:"-"`
	Preferences NotificationPreferences `gorm:"type:jsonb" json:"preferences"`
	CreatedAt   time.Time               `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time               `gorm:"not null" json:"updated_at"`
	DeletedAt   gorm.DeletedAt          `gorm:"index" json:"-"`
}

// BeforeCreate hook fills identity and timestamp defaults
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	if u.Role == "" {
		u.Role = RoleStaff
	}
	return nil
}

// BeforeSave hook keeps the update timestamp current
func (u *User) BeforeSave(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}

// TableName specifies the table name for the User model
func (User) TableName() string {
	return "user"
}

// LoginLog records an authentication attempt for auditing
type LoginLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string    `gorm:"size:255;not null;index" json:"email"`
	Success   bool      `gorm:"not null" json:"success"`
	ClientIP  string    `gorm:"size:64" json:"client_ip"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}

// TableName specifies the table name for the LoginLog model
func (LoginLog) TableName() string {
	return "login_log"
}

// RegisterRequest represents the data needed to create a new user
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Phone    string `json:"phone" binding:"omitempty,max=30"`
	Role     string `json:"role" binding:"omitempty,oneof=admin staff"`
}

// LoginRequest represents the data needed for login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UpdatePreferencesRequest carries a partial preferences update. Nil fields
// keep their stored value.
type UpdatePreferencesRequest struct {
	Enabled         *bool       `json:"enabled"`
	LeadTimeMinutes *int        `json:"lead_time_minutes"`
	Channels        *ChannelSet `json:"channels"`
	QuietHours      *QuietHours `json:"quiet_hours"`
}
