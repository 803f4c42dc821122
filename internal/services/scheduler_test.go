package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classbell/internal/models"
	"classbell/internal/schedule"
	"classbell/internal/store"
)

func newTestScheduler(st *store.MemoryStore, sender *fakeSender) *Scheduler {
	exp := schedule.NewExpander(time.UTC, 0)
	calc := schedule.NewCalculator(time.UTC)
	return NewScheduler(st, NewDispatcher(st, sender), exp, calc, DefaultSchedulerConfig())
}

func seedUser(t *testing.T, st *store.MemoryStore, email string, prefs models.NotificationPreferences) models.User {
	t.Helper()
	u := models.User{Name: "Dana", Email: email, Role: models.RoleStaff, Preferences: prefs}
	require.NoError(t, st.CreateUser(&u))
	return u
}

func seedClass(t *testing.T, st *store.MemoryStore, teacherEmail string, start time.Time) models.ClassDefinition {
	t.Helper()
	def := models.ClassDefinition{
		Title:         "Linear Algebra",
		Room:          "B204",
		TeacherEmail:  teacherEmail,
		StartDateTime: start,
		EndDateTime:   start.Add(90 * time.Minute),
		Recurrence:    models.RecurrenceOnce,
	}
	require.NoError(t, st.CreateClassDefinition(&def))
	return def
}

func TestRunTickSendsDueReminder(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	sched := newTestScheduler(st, sender)

	now := time.Date(2024, 3, 4, 8, 50, 0, 0, time.UTC)
	seedUser(t, st, "dana@example.edu", models.DefaultPreferences())
	// Default lead is 15 minutes, so the fire instant is 08:45.
	seedClass(t, st, "dana@example.edu", now.Add(10*time.Minute))
	require.NoError(t, st.SetWatermark(now.Add(-time.Hour)))

	stats, err := sched.RunTick(now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Due)
	assert.Equal(t, 1, stats.Claimed)
	assert.Equal(t, 1, stats.Sent)
	assert.Zero(t, stats.Failed)

	assert.Equal(t, []string{"dana@example.edu"}, sender.sentTo())

	logged, err := st.QueryDeliveryLog(store.LogFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, models.StatusSent, logged[0].Status)
	assert.Equal(t, models.ChannelEmail, logged[0].Channel)

	mark, err := st.Watermark()
	require.NoError(t, err)
	assert.True(t, mark.Equal(now), "watermark must advance to the tick instant")
}

func TestRunTickReplayNeverResends(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	sched := newTestScheduler(st, sender)

	now := time.Date(2024, 3, 4, 8, 50, 0, 0, time.UTC)
	seedUser(t, st, "dana@example.edu", models.DefaultPreferences())
	seedClass(t, st, "dana@example.edu", now.Add(10*time.Minute))
	require.NoError(t, st.SetWatermark(now.Add(-time.Hour)))

	_, err := sched.RunTick(now)
	require.NoError(t, err)

	// A crash-restart replays the same window: the claim absorbs it.
	require.NoError(t, st.SetWatermark(now.Add(-time.Hour)))
	stats, err := sched.RunTick(now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Due)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Claimed)
	assert.Zero(t, stats.Sent)

	logged, err := st.QueryDeliveryLog(store.LogFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, logged, 1, "replay must not produce a second sent entry")
}

func TestRunTickRetriesFailedThenTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{fail: map[string]bool{"dana@example.edu": true}}
	sched := newTestScheduler(st, sender)

	now := time.Date(2024, 3, 4, 8, 50, 0, 0, time.UTC)
	seedUser(t, st, "dana@example.edu", models.DefaultPreferences())
	seedClass(t, st, "dana@example.edu", now.Add(10*time.Minute))
	require.NoError(t, st.SetWatermark(now.Add(-time.Hour)))

	stats, err := sched.RunTick(now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	// Provider recovers; the failed claim is retryable.
	sender.mu.Lock()
	sender.fail = nil
	sender.mu.Unlock()
	require.NoError(t, st.SetWatermark(now.Add(-time.Hour)))

	stats, err = sched.RunTick(now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Claimed)
	assert.Equal(t, 1, stats.Sent)

	// Sent is terminal: a third replay is a no-op.
	require.NoError(t, st.SetWatermark(now.Add(-time.Hour)))
	stats, err = sched.RunTick(now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Sent)

	logged, err := st.QueryDeliveryLog(store.LogFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	statuses := []string{logged[0].Status, logged[1].Status}
	assert.ElementsMatch(t, []string{models.StatusFailed, models.StatusSent}, statuses)
}

func TestRunTickLogsQuietHoursSuppressionOnce(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	sched := newTestScheduler(st, sender)

	prefs := models.DefaultPreferences()
	prefs.LeadTimeMinutes = 30
	prefs.QuietHours = models.QuietHours{Enabled: true, Start: "22:00", End: "07:00"}
	seedUser(t, st, "dana@example.edu", prefs)

	// Class at 06:30: the 06:00 candidate defers to 07:00, past class start.
	now := time.Date(2024, 3, 5, 6, 10, 0, 0, time.UTC)
	seedClass(t, st, "dana@example.edu", time.Date(2024, 3, 5, 6, 30, 0, 0, time.UTC))
	require.NoError(t, st.SetWatermark(now.Add(-time.Hour)))

	stats, err := sched.RunTick(now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Claimed)
	assert.Equal(t, 1, stats.Suppressed)
	assert.Zero(t, stats.Sent)
	assert.Empty(t, sender.sentTo())

	logged, err := st.QueryDeliveryLog(store.LogFilter{Status: models.StatusSuppressed}, 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0].Response, "quiet hours")

	// Suppressed is terminal too.
	require.NoError(t, st.SetWatermark(now.Add(-time.Hour)))
	stats, err = sched.RunTick(now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
}

func TestRunTickSkipsDisabledUsers(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	sched := newTestScheduler(st, sender)

	prefs := models.DefaultPreferences()
	prefs.Enabled = false
	seedUser(t, st, "dana@example.edu", prefs)

	now := time.Date(2024, 3, 4, 8, 50, 0, 0, time.UTC)
	seedClass(t, st, "dana@example.edu", now.Add(10*time.Minute))
	require.NoError(t, st.SetWatermark(now.Add(-time.Hour)))

	stats, err := sched.RunTick(now)
	require.NoError(t, err)
	assert.Zero(t, stats.Due)

	logged, err := st.QueryDeliveryLog(store.LogFilter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, logged, "disabled reminders leave no trace in the log")
}

func TestRunTickIsolatesTaskFailures(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{fail: map[string]bool{"bad@example.edu": true}}
	sched := newTestScheduler(st, sender)

	now := time.Date(2024, 3, 4, 8, 50, 0, 0, time.UTC)
	seedUser(t, st, "dana@example.edu", models.DefaultPreferences())
	seedUser(t, st, "bad@example.edu", models.DefaultPreferences())
	seedClass(t, st, "dana@example.edu", now.Add(10*time.Minute))
	seedClass(t, st, "bad@example.edu", now.Add(10*time.Minute))
	require.NoError(t, st.SetWatermark(now.Add(-time.Hour)))

	stats, err := sched.RunTick(now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Due)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []string{"dana@example.edu"}, sender.sentTo())
}

func TestRunTickIgnoresFutureReminders(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	sched := newTestScheduler(st, sender)

	now := time.Date(2024, 3, 4, 8, 50, 0, 0, time.UTC)
	seedUser(t, st, "dana@example.edu", models.DefaultPreferences())
	// Fires at now+1h45m, well outside this tick's window.
	seedClass(t, st, "dana@example.edu", now.Add(2*time.Hour))
	require.NoError(t, st.SetWatermark(now.Add(-time.Hour)))

	stats, err := sched.RunTick(now)
	require.NoError(t, err)
	assert.Zero(t, stats.Due)

	logged, err := st.QueryDeliveryLog(store.LogFilter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, logged)
}

// faultyClaimStore fails claims for one user so a tick holds both a claim
// error and dispatching workers at the same time
type faultyClaimStore struct {
	*store.MemoryStore
	failUserID string
}

func (s *faultyClaimStore) ClaimReminderTask(key models.TaskKey, now time.Time) (bool, error) {
	if key.UserID == s.failUserID {
		return false, errors.New("claim table unavailable")
	}
	return s.MemoryStore.ClaimReminderTask(key, now)
}

func TestRunTickCountsClaimFaults(t *testing.T) {
	mem := store.NewMemoryStore()
	seedUser(t, mem, "dana@example.edu", models.DefaultPreferences())
	bad := seedUser(t, mem, "lee@example.edu", models.DefaultPreferences())

	now := time.Date(2024, 3, 4, 8, 50, 0, 0, time.UTC)
	seedClass(t, mem, "dana@example.edu", now.Add(10*time.Minute))
	seedClass(t, mem, "lee@example.edu", now.Add(10*time.Minute))
	require.NoError(t, mem.SetWatermark(now.Add(-time.Hour)))

	st := &faultyClaimStore{MemoryStore: mem, failUserID: bad.ID}
	sender := &fakeSender{}
	exp := schedule.NewExpander(time.UTC, 0)
	calc := schedule.NewCalculator(time.UTC)
	sched := NewScheduler(st, NewDispatcher(st, sender), exp, calc, DefaultSchedulerConfig())

	stats, err := sched.RunTick(now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Due)
	assert.Equal(t, 1, stats.Faults)
	assert.Equal(t, 1, stats.Claimed)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, []string{"dana@example.edu"}, sender.sentTo())
}

func TestRunTickNoOpWhenBehindWatermark(t *testing.T) {
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	sched := newTestScheduler(st, sender)

	now := time.Date(2024, 3, 4, 8, 50, 0, 0, time.UTC)
	seedUser(t, st, "dana@example.edu", models.DefaultPreferences())
	seedClass(t, st, "dana@example.edu", now.Add(10*time.Minute))
	require.NoError(t, st.SetWatermark(now))

	stats, err := sched.RunTick(now)
	require.NoError(t, err)
	assert.Zero(t, stats.Due)
	assert.Empty(t, sender.sentTo())
}
