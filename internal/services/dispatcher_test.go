package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classbell/internal/models"
	"classbell/internal/store"
)

// fakeSender stands in for SendGrid in tests
type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	leads []int
	fail  map[string]bool
}

func (f *fakeSender) SendReminder(ctx context.Context, toName, toEmail string, occ models.Occurrence, leadMinutes int) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[toEmail] {
		return SendResult{}, errors.New("provider unavailable")
	}
	f.sent = append(f.sent, toEmail)
	f.leads = append(f.leads, leadMinutes)
	return SendResult{
		Message: "Email accepted by provider (202)",
		Detail:  json.RawMessage(`{"status_code":202}`),
	}, nil
}

func (f *fakeSender) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeSender) sentLeads() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.leads...)
}

func taskFor(user models.User) models.ReminderTask {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	occ := models.Occurrence{
		ClassID: "class-1",
		Title:   "Linear Algebra",
		Room:    "B204",
		Start:   start,
		End:     start.Add(90 * time.Minute),
	}
	return models.ReminderTask{
		Key:         models.TaskKey{ClassID: occ.ClassID, OccurrenceStart: occ.Start, UserID: user.ID},
		PlannedFire: start.Add(-15 * time.Minute),
		Occurrence:  occ,
		User:        user,
	}
}

func testUser(channels models.ChannelSet) models.User {
	prefs := models.DefaultPreferences()
	prefs.Channels = channels
	return models.User{
		ID:          "u1",
		Name:        "Dana",
		Email:       "dana@example.edu",
		Role:        models.RoleStaff,
		Preferences: prefs,
	}
}

func TestDispatchFansOutPerChannel(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	d := NewDispatcher(st, sender)

	user := testUser(models.ChannelSet{Email: true, SMS: true})
	entries := d.Dispatch(context.Background(), taskFor(user))

	require.Len(t, entries, 2)
	assert.Equal(t, models.ChannelEmail, entries[0].Channel)
	assert.Equal(t, models.StatusSent, entries[0].Status)
	assert.Equal(t, models.ChannelSMS, entries[1].Channel)
	assert.Equal(t, models.StatusSuppressed, entries[1].Status)

	assert.Equal(t, []string{"dana@example.edu"}, sender.sentTo())

	logged, err := st.QueryDeliveryLog(store.LogFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, logged, 2, "every channel attempt must be logged exactly once")
}

func TestDispatchDisabledChannelsSkipped(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	d := NewDispatcher(st, sender)

	user := testUser(models.ChannelSet{Push: true})
	entries := d.Dispatch(context.Background(), taskFor(user))

	require.Len(t, entries, 1)
	assert.Equal(t, models.ChannelPush, entries[0].Channel)
	assert.Equal(t, models.StatusSuppressed, entries[0].Status)
	assert.Empty(t, sender.sentTo(), "push-only users never reach the email provider")
}

func TestDispatchEmailFailureIsLoggedFailed(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{fail: map[string]bool{"dana@example.edu": true}}
	d := NewDispatcher(st, sender)

	user := testUser(models.ChannelSet{Email: true, SMS: true})
	entries := d.Dispatch(context.Background(), taskFor(user))

	require.Len(t, entries, 2)
	assert.Equal(t, models.StatusFailed, entries[0].Status)
	assert.Contains(t, entries[0].Response, "provider unavailable")

	// The failed email never blocks the other channel.
	assert.Equal(t, models.ChannelSMS, entries[1].Channel)
	assert.Equal(t, models.StatusSuppressed, entries[1].Status)
}

func TestDispatchReportsMinutesFromPlannedFire(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	d := NewDispatcher(st, sender)
	user := testUser(models.ChannelSet{Email: true})

	// Plain lead-time fire: the full lead remains.
	d.Dispatch(context.Background(), taskFor(user))

	// A quiet-hours deferral fires five minutes before class start, so the
	// email must announce five minutes, not the configured lead.
	deferred := taskFor(user)
	deferred.PlannedFire = deferred.Occurrence.Start.Add(-5 * time.Minute)
	d.Dispatch(context.Background(), deferred)

	assert.Equal(t, []int{15, 5}, sender.sentLeads())
}

func TestDispatchSuppressed(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	d := NewDispatcher(st, sender)

	user := testUser(models.ChannelSet{Email: true})
	entries := d.DispatchSuppressed(taskFor(user), "quiet hours 22:00-07:00 defer reminder past class start")

	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusSuppressed, entries[0].Status)
	assert.Contains(t, entries[0].Response, "quiet hours")
	assert.Empty(t, sender.sentTo())

	logged, err := st.QueryDeliveryLog(store.LogFilter{Status: models.StatusSuppressed}, 0)
	require.NoError(t, err)
	assert.Len(t, logged, 1)
}

func TestSendTest(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	d := NewDispatcher(st, sender)

	user := testUser(models.ChannelSet{}) // even with no channels enabled
	entry := d.SendTest(context.Background(), user, time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))

	assert.Equal(t, models.StatusSent, entry.Status)
	assert.Equal(t, "test", entry.ClassID)
	assert.Equal(t, []string{"dana@example.edu"}, sender.sentTo())

	logged, err := st.QueryDeliveryLog(store.LogFilter{ClassID: "test"}, 0)
	require.NoError(t, err)
	assert.Len(t, logged, 1)
}

func TestOverallOutcome(t *testing.T) {
	cases := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"sent wins over failure", []string{models.StatusFailed, models.StatusSent}, models.StatusSent},
		{"failure stays retryable", []string{models.StatusFailed, models.StatusSuppressed}, models.StatusFailed},
		{"all no-op is terminal", []string{models.StatusSuppressed, models.StatusSuppressed}, models.StatusSuppressed},
		{"empty fan-out is terminal", nil, models.StatusSuppressed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var entries []models.DeliveryLogEntry
			for _, s := range tc.statuses {
				entries = append(entries, models.DeliveryLogEntry{Status: s})
			}
			assert.Equal(t, tc.want, overallOutcome(entries))
		})
	}
}
