package services

import (
	"context"
	"log"
	"time"

	"gorm.io/datatypes"

	"classbell/internal/models"
	"classbell/internal/store"
)

// channelOrder fixes the fan-out order so log output is deterministic
var channelOrder = []string{models.ChannelEmail, models.ChannelSMS, models.ChannelPush}

// Dispatcher fans one due reminder out to each enabled channel. Channels
// are attempted independently: a failure on one never blocks the others,
// and every attempt produces exactly one delivery log entry.
type Dispatcher struct {
	store store.Store
	email EmailSender
}

// NewDispatcher wires the dispatcher to its store and the live email sender
func NewDispatcher(st store.Store, email EmailSender) *Dispatcher {
	return &Dispatcher{store: st, email: email}
}

// Dispatch delivers task to every enabled channel and returns the log
// entries it appended, one per channel attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, task models.ReminderTask) []models.DeliveryLogEntry {
	channels := task.User.Preferences.Channels
	enabled := map[string]bool{
		models.ChannelEmail: channels.Email,
		models.ChannelSMS:   channels.SMS,
		models.ChannelPush:  channels.Push,
	}

	var entries []models.DeliveryLogEntry
	for _, channel := range channelOrder {
		if !enabled[channel] {
			continue
		}
		entry := d.dispatchChannel(ctx, task, channel)
		d.append(entry)
		entries = append(entries, *entry)
	}
	return entries
}

// DispatchSuppressed records a policy suppression (quiet hours pushed the
// reminder past class start) without contacting any provider.
func (d *Dispatcher) DispatchSuppressed(task models.ReminderTask, reason string) []models.DeliveryLogEntry {
	channels := task.User.Preferences.Channels
	enabled := map[string]bool{
		models.ChannelEmail: channels.Email,
		models.ChannelSMS:   channels.SMS,
		models.ChannelPush:  channels.Push,
	}

	var entries []models.DeliveryLogEntry
	for _, channel := range channelOrder {
		if !enabled[channel] {
			continue
		}
		entry := newEntry(task.Key, channel, models.StatusSuppressed, reason)
		d.append(entry)
		entries = append(entries, *entry)
	}
	return entries
}

// SendTest delivers a single-shot test reminder to one user over email,
// bypassing scheduling and idempotency entirely. Always logged.
func (d *Dispatcher) SendTest(ctx context.Context, user models.User, now time.Time) models.DeliveryLogEntry {
	lead := models.DefaultPreferences().LeadTimeMinutes
	occ := models.Occurrence{
		ClassID: "test",
		Title:   "Test Class",
		Room:    "Test Room",
		Start:   now.Add(time.Duration(lead) * time.Minute),
		End:     now.Add(time.Duration(lead+60) * time.Minute),
	}
	task := models.ReminderTask{
		Key:         models.TaskKey{ClassID: occ.ClassID, OccurrenceStart: occ.Start.UTC(), UserID: user.ID},
		PlannedFire: now,
		Occurrence:  occ,
		User:        user,
	}

	entry := d.dispatchChannel(ctx, task, models.ChannelEmail)
	d.append(entry)
	return *entry
}

// dispatchChannel attempts delivery on a single channel
func (d *Dispatcher) dispatchChannel(ctx context.Context, task models.ReminderTask, channel string) *models.DeliveryLogEntry {
	switch channel {
	case models.ChannelEmail:
		result, err := d.email.SendReminder(ctx, task.User.Name, task.User.Email, task.Occurrence, minutesToStart(task))
		if err != nil {
			log.Printf("Dispatcher: email send failed for task %s: %v", task.Key, err)
			return newEntry(task.Key, channel, models.StatusFailed, err.Error())
		}
		entry := newEntry(task.Key, channel, models.StatusSent, result.Message)
		entry.ProviderDetail = datatypes.JSON(result.Detail)
		return entry

	case models.ChannelSMS, models.ChannelPush:
		// Accepted in preferences but not yet backed by a provider.
		return newEntry(task.Key, channel, models.StatusSuppressed, "channel not yet available")
	}

	return newEntry(task.Key, channel, models.StatusFailed, "unknown channel")
}

// append persists one log entry; log-store failures are reported but do not
// abort the remaining channels of the task.
func (d *Dispatcher) append(entry *models.DeliveryLogEntry) {
	if err := d.store.AppendDeliveryLog(entry); err != nil {
		log.Printf("Dispatcher: failed to append delivery log for task %s: %v", entry.Key(), err)
	}
}

// minutesToStart reports how far before class start the reminder actually
// fires. A quiet-hours deferral fires closer to class start than the
// configured lead time, and the email copy must say so.
func minutesToStart(task models.ReminderTask) int {
	if !task.PlannedFire.IsZero() && task.PlannedFire.Before(task.Occurrence.Start) {
		return int(task.Occurrence.Start.Sub(task.PlannedFire) / time.Minute)
	}
	lead := task.User.Preferences.LeadTimeMinutes
	if lead <= 0 {
		lead = models.DefaultPreferences().LeadTimeMinutes
	}
	return lead
}

func newEntry(key models.TaskKey, channel, status, response string) *models.DeliveryLogEntry {
	return &models.DeliveryLogEntry{
		ClassID:         key.ClassID,
		OccurrenceStart: key.OccurrenceStart,
		UserID:          key.UserID,
		Channel:         channel,
		Status:          status,
		Response:        response,
		Timestamp:       time.Now(),
	}
}
