package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classbell/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Claim semantics mirror the Postgres implementation: a single locked
// read-modify-write per claim.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]models.User
	classes map[string]models.ClassDefinition
	claims  map[string]*models.ReminderClaim
	log     []models.DeliveryLogEntry
	logins  []models.LoginLog
	mark    time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]models.User),
		classes: make(map[string]models.ClassDefinition),
		claims:  make(map[string]*models.ReminderClaim),
	}
}

// CreateUser persists a new user
func (s *MemoryStore) CreateUser(u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.Role == "" {
		u.Role = models.RoleStaff
	}
	s.users[u.ID] = *u
	return nil
}

// UserByID fetches one user by ID
func (s *MemoryStore) UserByID(id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

// UserByEmail fetches one user by email
func (s *MemoryStore) UserByEmail(email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

// Users lists every user
func (s *MemoryStore) Users() ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Preferences returns a user's notification preferences
func (s *MemoryStore) Preferences(userID string) (models.NotificationPreferences, error) {
	u, err := s.UserByID(userID)
	if err != nil {
		return models.NotificationPreferences{}, err
	}
	return u.Preferences, nil
}

// UpdatePreferences replaces a user's notification preferences
func (s *MemoryStore) UpdatePreferences(userID string, prefs models.NotificationPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Preferences = prefs
	s.users[userID] = u
	return nil
}

// RecordLogin appends a login audit row
func (s *MemoryStore) RecordLogin(entry models.LoginLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.ID = uint(len(s.logins) + 1)
	s.logins = append(s.logins, entry)
	return nil
}

// CreateClassDefinition persists a new class definition
func (s *MemoryStore) CreateClassDefinition(def *models.ClassDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.Recurrence == "" {
		def.Recurrence = models.RecurrenceOnce
	}
	if def.Version == 0 {
		def.Version = 1
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now()
	}
	s.classes[def.ID] = *def
	return nil
}

// ActiveClassDefinitions lists the live definitions
func (s *MemoryStore) ActiveClassDefinitions() ([]models.ClassDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ClassDefinition, 0, len(s.classes))
	for _, def := range s.classes {
		if def.Active() {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDateTime.Before(out[j].StartDateTime) })
	return out, nil
}

// ClassesByTeacher lists the live definitions for a teacher email
func (s *MemoryStore) ClassesByTeacher(email string) ([]models.ClassDefinition, error) {
	defs, err := s.ActiveClassDefinitions()
	if err != nil {
		return nil, err
	}
	out := defs[:0]
	for _, def := range defs {
		if def.TeacherEmail == email {
			out = append(out, def)
		}
	}
	return out, nil
}

// Subscribers returns the users subscribed to a class
func (s *MemoryStore) Subscribers(classID string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.classes[classID]
	if !ok {
		return nil, ErrNotFound
	}
	var out []models.User
	for _, u := range s.users {
		if u.Email == def.TeacherEmail {
			out = append(out, u)
		}
	}
	return out, nil
}

// ClaimReminderTask atomically records the write-ahead pending marker
func (s *MemoryStore) ClaimReminderTask(key models.TaskKey, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	if existing, ok := s.claims[k]; ok {
		if existing.Status != models.StatusFailed {
			return false, nil
		}
		existing.Status = models.StatusPending
		existing.Attempts++
		existing.ClaimedAt = now
		return true, nil
	}

	s.claims[k] = &models.ReminderClaim{
		ClassID:         key.ClassID,
		OccurrenceStart: key.OccurrenceStart.UTC(),
		UserID:          key.UserID,
		Status:          models.StatusPending,
		Attempts:        1,
		ClaimedAt:       now,
	}
	return true, nil
}

// ResolveClaim records the final status of a claimed task key
func (s *MemoryStore) ResolveClaim(key models.TaskKey, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if claim, ok := s.claims[key.String()]; ok {
		claim.Status = status
	}
	return nil
}

// AppendDeliveryLog appends one attempt record
func (s *MemoryStore) AppendDeliveryLog(entry *models.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.OccurrenceStart = entry.OccurrenceStart.UTC()
	s.log = append(s.log, *entry)
	return nil
}

// QueryDeliveryLog returns matching entries, newest first
func (s *MemoryStore) QueryDeliveryLog(filter LogFilter, limit int) ([]models.DeliveryLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.DeliveryLogEntry
	for _, e := range s.log {
		if filter.ClassID != "" && e.ClassID != filter.ClassID {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HasTerminalDelivery reports whether the key already has a terminal entry
func (s *MemoryStore) HasTerminalDelivery(key models.TaskKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := key.String()
	for _, e := range s.log {
		if e.Key().String() == want && e.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// Watermark returns the persisted tick watermark
func (s *MemoryStore) Watermark() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mark, nil
}

// SetWatermark persists the tick watermark
func (s *MemoryStore) SetWatermark(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mark = t.UTC()
	return nil
}
