// Package store is the persistence collaborator of the reminder engine.
// The engine only ever talks to the Store interface; the GORM/Postgres
// implementation lives alongside an in-memory one used by tests.
package store

import (
	"errors"
	"time"

	"classbell/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("store: record not found")
)

// LogFilter narrows a delivery log query. Zero fields match everything.
type LogFilter struct {
	ClassID string
	UserID  string
	Status  string
}

// Store is the transactional row store the engine depends on.
//
// ClaimReminderTask is the write-ahead idempotency primitive: it atomically
// records a pending marker for the task key and reports whether the caller
// won the claim. A key that already holds a pending, sent or suppressed
// claim cannot be re-claimed; a key whose last attempt failed can, with its
// attempt counter bumped. The statement is a single read-modify-write, so
// at most one of any number of concurrent scheduler instances wins.
type Store interface {
	// Users
	CreateUser(u *models.User) error
	UserByID(id string) (models.User, error)
	UserByEmail(email string) (models.User, error)
	Users() ([]models.User, error)
	Preferences(userID string) (models.NotificationPreferences, error)
	UpdatePreferences(userID string, prefs models.NotificationPreferences) error
	RecordLogin(entry models.LoginLog) error

	// Class definitions
	CreateClassDefinition(def *models.ClassDefinition) error
	ActiveClassDefinitions() ([]models.ClassDefinition, error)
	ClassesByTeacher(email string) ([]models.ClassDefinition, error)
	// Subscribers returns the users who receive reminders for a class
	Subscribers(classID string) ([]models.User, error)

	// Scheduling
	ClaimReminderTask(key models.TaskKey, now time.Time) (bool, error)
	ResolveClaim(key models.TaskKey, status string) error
	AppendDeliveryLog(entry *models.DeliveryLogEntry) error
	QueryDeliveryLog(filter LogFilter, limit int) ([]models.DeliveryLogEntry, error)
	// HasTerminalDelivery reports whether the key already produced a sent
	// or suppressed entry; failed-only histories stay eligible for retry.
	HasTerminalDelivery(key models.TaskKey) (bool, error)

	// Persisted tick watermark. A zero time means no tick has completed.
	Watermark() (time.Time, error)
	SetWatermark(t time.Time) error
}
