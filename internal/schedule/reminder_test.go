package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"classbell/internal/models"
)

func occStartingAt(start time.Time) models.Occurrence {
	return models.Occurrence{
		ClassID: "class-1",
		Title:   "Linear Algebra",
		Room:    "B204",
		Start:   start,
		End:     start.Add(90 * time.Minute),
	}
}

func prefsWith(lead int, quiet models.QuietHours) models.NotificationPreferences {
	p := models.DefaultPreferences()
	p.LeadTimeMinutes = lead
	p.QuietHours = quiet
	return p
}

func TestPlannedFireLeadTime(t *testing.T) {
	calc := NewCalculator(time.UTC)
	occ := occStartingAt(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))

	cases := []struct {
		name string
		lead int
		want time.Time
	}{
		{"fifteen minutes", 15, time.Date(2024, 3, 4, 8, 45, 0, 0, time.UTC)},
		{"one hour", 60, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)},
		{"five minutes", 5, time.Date(2024, 3, 4, 8, 55, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := calc.PlannedFire(occ, prefsWith(tc.lead, models.QuietHours{}))
			assert.Equal(t, DecisionFire, res.Decision)
			assert.Equal(t, tc.want, res.At)
			assert.Equal(t, tc.want, res.Candidate)
			assert.True(t, res.Fires())
		})
	}
}

func TestPlannedFireDisabled(t *testing.T) {
	calc := NewCalculator(time.UTC)
	prefs := models.DefaultPreferences()
	prefs.Enabled = false

	res := calc.PlannedFire(occStartingAt(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)), prefs)
	assert.Equal(t, DecisionDisabled, res.Decision)
	assert.False(t, res.Fires())
	assert.True(t, res.At.IsZero())
}

func TestPlannedFireQuietHours(t *testing.T) {
	calc := NewCalculator(time.UTC)
	overnight := models.QuietHours{Enabled: true, Start: "22:00", End: "07:00"}

	cases := []struct {
		name     string
		occStart time.Time
		lead     int
		quiet    models.QuietHours
		decision Decision
		at       time.Time
	}{
		{
			name:     "candidate outside window fires",
			occStart: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
			lead:     60,
			quiet:    overnight,
			decision: DecisionFire,
			at:       time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC),
		},
		{
			name:     "candidate exactly at window end fires",
			occStart: time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC),
			lead:     60,
			quiet:    overnight,
			decision: DecisionFire,
			at:       time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC),
		},
		{
			name:     "candidate exactly at window start is quiet",
			occStart: time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC),
			lead:     60,
			quiet:    overnight,
			decision: DecisionSuppressed,
		},
		{
			name:     "evening candidate defers to next morning",
			occStart: time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC),
			lead:     9 * 60, // candidate 23:00 the night before
			quiet:    overnight,
			decision: DecisionDeferred,
			at:       time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC),
		},
		{
			name:     "small-hours candidate defers same morning",
			occStart: time.Date(2024, 3, 5, 7, 30, 0, 0, time.UTC),
			lead:     60, // candidate 06:30
			quiet:    overnight,
			decision: DecisionDeferred,
			at:       time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC),
		},
		{
			name:     "deferral landing past class start suppresses",
			occStart: time.Date(2024, 3, 5, 6, 30, 0, 0, time.UTC),
			lead:     30, // candidate 06:00, deferred 07:00 >= 06:30
			quiet:    overnight,
			decision: DecisionSuppressed,
		},
		{
			name:     "deferral landing exactly on class start suppresses",
			occStart: time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC),
			lead:     30, // candidate 06:30, deferred 07:00 == start
			quiet:    overnight,
			decision: DecisionSuppressed,
		},
		{
			name:     "non-wrapping window defers within the day",
			occStart: time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC),
			lead:     120, // candidate 13:00
			quiet:    models.QuietHours{Enabled: true, Start: "12:00", End: "14:00"},
			decision: DecisionDeferred,
			at:       time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC),
		},
		{
			name:     "degenerate equal window never suppresses",
			occStart: time.Date(2024, 3, 5, 12, 30, 0, 0, time.UTC),
			lead:     15,
			quiet:    models.QuietHours{Enabled: true, Start: "12:00", End: "12:00"},
			decision: DecisionFire,
			at:       time.Date(2024, 3, 5, 12, 15, 0, 0, time.UTC),
		},
		{
			name:     "unparseable window never suppresses",
			occStart: time.Date(2024, 3, 5, 12, 30, 0, 0, time.UTC),
			lead:     15,
			quiet:    models.QuietHours{Enabled: true, Start: "soon", End: "later"},
			decision: DecisionFire,
			at:       time.Date(2024, 3, 5, 12, 15, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := calc.PlannedFire(occStartingAt(tc.occStart), prefsWith(tc.lead, tc.quiet))
			assert.Equal(t, tc.decision, res.Decision, "decision %s", res.Decision)
			if tc.decision == DecisionFire || tc.decision == DecisionDeferred {
				assert.Equal(t, tc.at, res.At)
			} else {
				assert.True(t, res.At.IsZero())
				assert.NotEmpty(t, res.Reason)
			}
			wantCandidate := tc.occStart.Add(-time.Duration(tc.lead) * time.Minute)
			assert.Equal(t, wantCandidate, res.Candidate)
		})
	}
}

func TestPlannedFireQuietHoursUseLocalClock(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	calc := NewCalculator(berlin)

	// 06:30 UTC is 07:30 in Berlin (winter), outside a 22:00-07:00 local
	// quiet window even though the UTC clock says otherwise.
	occ := occStartingAt(time.Date(2024, 1, 15, 7, 30, 0, 0, time.UTC))
	prefs := prefsWith(60, models.QuietHours{Enabled: true, Start: "22:00", End: "07:00"})

	res := calc.PlannedFire(occ, prefs)
	assert.Equal(t, DecisionFire, res.Decision)
}

func TestPlannedFireQuietHoursAcrossDSTChange(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	calc := NewCalculator(newYork)
	prefs := prefsWith(60, models.QuietHours{Enabled: true, Start: "22:00", End: "07:00"})

	// 2024-03-10 is the spring-forward day: 02:00-03:00 does not exist, so
	// midnight plus seven hours of elapsed time is 08:00 on the wall clock.
	// The deferral must still land on 07:00 local.
	spring := occStartingAt(time.Date(2024, 3, 10, 7, 30, 0, 0, newYork))
	res := calc.PlannedFire(spring, prefs)
	assert.Equal(t, DecisionDeferred, res.Decision)
	assert.Equal(t, time.Date(2024, 3, 10, 7, 0, 0, 0, newYork), res.At)

	// 2024-11-03 is the fall-back day: the 01:00 hour repeats, so elapsed
	// arithmetic would land an hour early.
	fall := occStartingAt(time.Date(2024, 11, 3, 7, 30, 0, 0, newYork))
	res = calc.PlannedFire(fall, prefs)
	assert.Equal(t, DecisionDeferred, res.Decision)
	assert.Equal(t, time.Date(2024, 11, 3, 7, 0, 0, 0, newYork), res.At)
}

func TestValidClock(t *testing.T) {
	for _, ok := range []string{"00:00", "07:00", "22:30", "23:59"} {
		assert.True(t, ValidClock(ok), ok)
	}
	for _, bad := range []string{"", "24:00", "12:60", "9", "12:5x", "noon"} {
		assert.False(t, ValidClock(bad), bad)
	}
}
