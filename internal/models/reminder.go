package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Delivery channels
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// Delivery statuses. Sent and suppressed are terminal for a task key;
// failed attempts are retried on a later tick.
const (
	StatusPending    = "pending"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusSuppressed = "suppressed"
)

// TaskKey uniquely identifies one reminder: one class occurrence for one
// user. It is the idempotency key that prevents duplicate dispatch; the
// occurrence start is always carried in UTC so keys derived on different
// ticks (or hosts) compare equal.
type TaskKey struct {
	ClassID         string
	OccurrenceStart time.Time
	UserID          string
}

func (k TaskKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ClassID, k.OccurrenceStart.UTC().Format(time.RFC3339), k.UserID)
}

// ReminderTask is the unit of scheduling: a planned fire instant for one
// task key, carrying the snapshot data the dispatcher needs.
type ReminderTask struct {
	Key         TaskKey
	PlannedFire time.Time
	Occurrence  Occurrence
	User        User
}

// ReminderClaim is the write-ahead marker recorded before any send. The
// composite unique index makes claiming atomic: only one scheduler instance
// can win a claim for a task key per attempt round.
type ReminderClaim struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ClassID         string    `gorm:"size:36;not null;uniqueIndex:idx_claim_task_key" json:"class_id"`
	OccurrenceStart time.Time `gorm:"not null;uniqueIndex:idx_claim_task_key" json:"occurrence_start"`
	UserID          string    `gorm:"size:36;not null;uniqueIndex:idx_claim_task_key" json:"user_id"`
	Status          string    `gorm:"size:10;not null;default:pending" json:"status"`
	Attempts        int       `gorm:"not null;default:1" json:"attempts"`
	ClaimedAt       time.Time `gorm:"not null" json:"claimed_at"`
}

// Key rebuilds the task key of the claim
func (r *ReminderClaim) Key() TaskKey {
	return TaskKey{ClassID: r.ClassID, OccurrenceStart: r.OccurrenceStart, UserID: r.UserID}
}

// TableName specifies the table name for the ReminderClaim model
func (ReminderClaim) TableName() string {
	return "reminder_claim"
}

// DeliveryLogEntry is the append-only audit record of one channel attempt.
// Rows are never updated after creation.
type DeliveryLogEntry struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	ClassID         string         `gorm:"size:36;not null;index:idx_log_task_key" json:"class_id"`
	OccurrenceStart time.Time      `gorm:"not null;index:idx_log_task_key" json:"occurrence_start"`
	UserID          string         `gorm:"size:36;not null;index:idx_log_task_key" json:"user_id"`
	Channel         string         `gorm:"size:10;not null" json:"channel"`
	Status          string         `gorm:"size:10;not null" json:"status"`
	Response        string         `gorm:"type:text" json:"response"`
	ProviderDetail  datatypes.JSON `gorm:"type:jsonb" json:"provider_detail,omitempty"`
	Timestamp       time.Time      `gorm:"not null;index" json:"timestamp"`
}

// Key rebuilds the task key of the entry
func (e *DeliveryLogEntry) Key() TaskKey {
	return TaskKey{ClassID: e.ClassID, OccurrenceStart: e.OccurrenceStart, UserID: e.UserID}
}

// Terminal reports whether this entry closes its task key for the channel:
// sent and suppressed outcomes are final, failed ones are retried.
func (e *DeliveryLogEntry) Terminal() bool {
	return e.Status == StatusSent || e.Status == StatusSuppressed
}

// BeforeCreate hook fills identity and timestamp defaults
func (e *DeliveryLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return nil
}

// TableName specifies the table name for the DeliveryLogEntry model
func (DeliveryLogEntry) TableName() string {
	return "delivery_log"
}

// SchedulerState persists the dispatch watermark (the end of the last
// completed tick window) so a restarted scheduler resumes where it left off
// and replays overlap idempotently.
type SchedulerState struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Watermark time.Time `gorm:"not null" json:"watermark"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for the SchedulerState model
func (SchedulerState) TableName() string {
	return "scheduler_state"
}
