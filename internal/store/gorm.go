package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"classbell/internal/models"
)

// GormStore implements Store on a GORM connection (Postgres in production)
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an initialized GORM connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// CreateUser persists a new user
func (s *GormStore) CreateUser(u *models.User) error {
	return s.db.Create(u).Error
}

// UserByID fetches one user by primary key
func (s *GormStore) UserByID(id string) (models.User, error) {
	var u models.User
	if err := s.db.Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return u, ErrNotFound
		}
		return u, err
	}
	return u, nil
}

// UserByEmail fetches one user by email
func (s *GormStore) UserByEmail(email string) (models.User, error) {
	var u models.User
	if err := s.db.Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return u, ErrNotFound
		}
		return u, err
	}
	return u, nil
}

// Users lists every user, newest first
func (s *GormStore) Users() ([]models.User, error) {
	var users []models.User
	err := s.db.Order("created_at DESC").Find(&users).Error
	return users, err
}

// Preferences returns the stored notification preferences of a user
func (s *GormStore) Preferences(userID string) (models.NotificationPreferences, error) {
	u, err := s.UserByID(userID)
	if err != nil {
		return models.NotificationPreferences{}, err
	}
	return u.Preferences, nil
}

// UpdatePreferences replaces a user's notification preferences
func (s *GormStore) UpdatePreferences(userID string, prefs models.NotificationPreferences) error {
	res := s.db.Model(&models.User{}).Where("id = ?", userID).Update("preferences", prefs)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLogin appends a login audit row
func (s *GormStore) RecordLogin(entry models.LoginLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return s.db.Create(&entry).Error
}

// CreateClassDefinition persists a new class definition
func (s *GormStore) CreateClassDefinition(def *models.ClassDefinition) error {
	return s.db.Create(def).Error
}

// ActiveClassDefinitions lists the live (non-superseded) definitions
func (s *GormStore) ActiveClassDefinitions() ([]models.ClassDefinition, error) {
	var defs []models.ClassDefinition
	err := s.db.Where("superseded_by = '' OR superseded_by IS NULL").
		Order("start_date_time").Find(&defs).Error
	return defs, err
}

// ClassesByTeacher lists the live definitions assigned to a teacher email
func (s *GormStore) ClassesByTeacher(email string) ([]models.ClassDefinition, error) {
	var defs []models.ClassDefinition
	err := s.db.Where("teacher_email = ? AND (superseded_by = '' OR superseded_by IS NULL)", email).
		Order("start_date_time").Find(&defs).Error
	return defs, err
}

// Subscribers returns the users subscribed to a class. Staff are subscribed
// to the classes carrying their email as teacher.
func (s *GormStore) Subscribers(classID string) ([]models.User, error) {
	var def models.ClassDefinition
	if err := s.db.Where("id = ?", classID).First(&def).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var users []models.User
	err := s.db.Where("email = ?", def.TeacherEmail).Find(&users).Error
	return users, err
}

// ClaimReminderTask records the write-ahead pending marker for a task key.
// One INSERT ... ON CONFLICT statement: a fresh key inserts, a previously
// failed key flips back to pending with its attempt counter bumped, and any
// other state leaves zero rows affected, meaning the claim was lost.
func (s *GormStore) ClaimReminderTask(key models.TaskKey, now time.Time) (bool, error) {
	claim := models.ReminderClaim{
		ClassID:         key.ClassID,
		OccurrenceStart: key.OccurrenceStart.UTC(),
		UserID:          key.UserID,
		Status:          models.StatusPending,
		Attempts:        1,
		ClaimedAt:       now,
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "class_id"}, {Name: "occurrence_start"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":     models.StatusPending,
			"attempts":   gorm.Expr("reminder_claim.attempts + 1"),
			"claimed_at": now,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "reminder_claim", Name: "status"}, Value: models.StatusFailed},
		}},
	}).Create(&claim)
	if res.Error != nil {
		return false, fmt.Errorf("claiming task %s: %w", key, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ResolveClaim records the final status of a claimed task key
func (s *GormStore) ResolveClaim(key models.TaskKey, status string) error {
	return s.db.Model(&models.ReminderClaim{}).
		Where("class_id = ? AND occurrence_start = ? AND user_id = ?",
			key.ClassID, key.OccurrenceStart.UTC(), key.UserID).
		Update("status", status).Error
}

// AppendDeliveryLog appends one attempt record. The log is append-only;
// nothing in the codebase updates or deletes these rows.
func (s *GormStore) AppendDeliveryLog(entry *models.DeliveryLogEntry) error {
	entry.OccurrenceStart = entry.OccurrenceStart.UTC()
	return s.db.Create(entry).Error
}

// QueryDeliveryLog returns matching entries, newest first
func (s *GormStore) QueryDeliveryLog(filter LogFilter, limit int) ([]models.DeliveryLogEntry, error) {
	q := s.db.Model(&models.DeliveryLogEntry{})
	if filter.ClassID != "" {
		q = q.Where("class_id = ?", filter.ClassID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var entries []models.DeliveryLogEntry
	err := q.Order("timestamp DESC").Find(&entries).Error
	return entries, err
}

// HasTerminalDelivery reports whether the key already has a sent or
// suppressed entry on any channel
func (s *GormStore) HasTerminalDelivery(key models.TaskKey) (bool, error) {
	var count int64
	err := s.db.Model(&models.DeliveryLogEntry{}).
		Where("class_id = ? AND occurrence_start = ? AND user_id = ? AND status IN ?",
			key.ClassID, key.OccurrenceStart.UTC(), key.UserID,
			[]string{models.StatusSent, models.StatusSuppressed}).
		Count(&count).Error
	return count > 0, err
}

// Watermark returns the persisted end of the last completed tick window
func (s *GormStore) Watermark() (time.Time, error) {
	var state models.SchedulerState
	if err := s.db.Where("id = ?", 1).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return state.Watermark, nil
}

// SetWatermark persists the tick watermark
func (s *GormStore) SetWatermark(t time.Time) error {
	state := models.SchedulerState{ID: 1, Watermark: t.UTC(), UpdatedAt: time.Now()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"watermark", "updated_at"}),
	}).Create(&state).Error
}
