package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"classbell/internal/models"
)

// Decision classifies the outcome of planning a reminder fire instant
type Decision int

const (
	// DecisionFire schedules the reminder at the plain lead-time instant
	DecisionFire Decision = iota
	// DecisionDeferred schedules the reminder at the quiet-hours end
	DecisionDeferred
	// DecisionSuppressed drops the reminder; a suppressed log entry is due
	DecisionSuppressed
	// DecisionDisabled drops the reminder silently (reminders turned off)
	DecisionDisabled
)

func (d Decision) String() string {
	switch d {
	case DecisionFire:
		return "fire"
	case DecisionDeferred:
		return "deferred"
	case DecisionSuppressed:
		return "suppressed"
	case DecisionDisabled:
		return "disabled"
	}
	return "unknown"
}

// FireResult is the planned fire instant for one occurrence and one user.
// At is zero unless the decision is fire or deferred. Candidate is the raw
// lead-time instant before quiet-hours policy; the scheduler anchors
// suppressed reminders to it when deciding which tick window owns them.
type FireResult struct {
	At        time.Time
	Candidate time.Time
	Decision  Decision
	Reason    string
}

// Fires reports whether the result carries a usable fire instant
func (r FireResult) Fires() bool {
	return r.Decision == DecisionFire || r.Decision == DecisionDeferred
}

// Calculator turns occurrences and user preferences into planned fire
// instants, applying lead time and quiet-hours policy. Quiet hours are
// evaluated against the candidate instant's local clock in the institution
// timezone, since the candidate and the occurrence may fall on different
// sides of a quiet-hours boundary.
type Calculator struct {
	loc *time.Location
}

// NewCalculator creates a calculator for the institution timezone. If loc
// is nil, UTC is used.
func NewCalculator(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{loc: loc}
}

// PlannedFire computes the zero-or-one fire instant for one occurrence and
// one user's preferences. Channels are fanned out later by the dispatcher,
// never multiplied here.
func (c *Calculator) PlannedFire(occ models.Occurrence, prefs models.NotificationPreferences) FireResult {
	if !prefs.Enabled {
		return FireResult{Decision: DecisionDisabled, Reason: "reminders disabled"}
	}

	lead := prefs.LeadTimeMinutes
	if lead <= 0 {
		lead = models.DefaultPreferences().LeadTimeMinutes
	}
	candidate := occ.Start.Add(-time.Duration(lead) * time.Minute)

	if !prefs.QuietHours.Enabled {
		return FireResult{At: candidate, Candidate: candidate, Decision: DecisionFire}
	}

	startMin, err := parseClock(prefs.QuietHours.Start)
	if err != nil {
		return FireResult{At: candidate, Candidate: candidate, Decision: DecisionFire}
	}
	endMin, err := parseClock(prefs.QuietHours.End)
	if err != nil || startMin == endMin {
		// An unparseable or empty window never suppresses anything.
		return FireResult{At: candidate, Candidate: candidate, Decision: DecisionFire}
	}

	local := candidate.In(c.loc)
	if !inQuietWindow(minuteOfDay(local), startMin, endMin) {
		return FireResult{At: candidate, Candidate: candidate, Decision: DecisionFire}
	}

	deferred := quietWindowEnd(local, startMin, endMin)
	if !deferred.Before(occ.Start) {
		return FireResult{
			Candidate: candidate,
			Decision:  DecisionSuppressed,
			Reason: fmt.Sprintf("quiet hours %s-%s defer reminder past class start",
				prefs.QuietHours.Start, prefs.QuietHours.End),
		}
	}
	return FireResult{At: deferred, Candidate: candidate, Decision: DecisionDeferred, Reason: "deferred by quiet hours"}
}

// inQuietWindow reports containment of a minute-of-day in [start, end),
// handling windows that wrap midnight (e.g. 22:00-07:00).
func inQuietWindow(m, start, end int) bool {
	if start < end {
		return m >= start && m < end
	}
	// Wrapped window crosses midnight.
	return m >= start || m < end
}

// quietWindowEnd returns the instant the quiet window containing t ends,
// on the correct local day. The end is built as a wall-clock time, not as
// midnight plus an elapsed duration, so it stays on the HH:MM boundary even
// across daylight-saving transitions.
func quietWindowEnd(t time.Time, start, end int) time.Time {
	day := t
	// In a wrapped window, an evening candidate resolves to tomorrow's end;
	// a small-hours candidate is already on the end's own day.
	if start > end && minuteOfDay(t) >= start {
		day = day.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), end/60, end%60, 0, 0, t.Location())
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// parseClock parses an "HH:MM" time-of-day into minutes since midnight
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// ValidClock reports whether s is a well-formed "HH:MM" time of day.
// Used by the preferences endpoint for input validation.
func ValidClock(s string) bool {
	_, err := parseClock(s)
	return err == nil
}
