package schedule

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"classbell/internal/models"
)

// DefaultMaxOccurrences caps how many occurrences a single Expand call may
// emit, protecting against unbounded windows.
const DefaultMaxOccurrences = 1000

// Expander materializes concrete occurrences from class definitions.
// Expansion is a pure function of its inputs: the same definition and window
// always yield the same occurrences, which is what makes replay after a
// restart safe.
type Expander struct {
	loc            *time.Location
	maxOccurrences int
}

// NewExpander creates an expander for the institution timezone. If loc is
// nil, UTC is used; if maxOccurrences is <= 0, DefaultMaxOccurrences applies.
func NewExpander(loc *time.Location, maxOccurrences int) *Expander {
	if loc == nil {
		loc = time.UTC
	}
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	return &Expander{loc: loc, maxOccurrences: maxOccurrences}
}

// Location returns the institution timezone the expander works in
func (e *Expander) Location() *time.Location {
	return e.loc
}

// Expand returns the ordered occurrences of def whose start falls in
// [from, to). Occurrences never precede the definition's own first start,
// and each preserves the definition's duration.
func (e *Expander) Expand(def models.ClassDefinition, from, to time.Time) ([]models.Occurrence, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("expand: window end %s precedes start %s", to, from)
	}

	first := def.StartDateTime.In(e.loc)
	duration := def.Duration()

	// No retroactive expansion: clamp the window to the first start.
	windowStart := from
	if windowStart.Before(first) {
		windowStart = first
	}
	if !windowStart.Before(to) {
		return nil, nil
	}

	recurrence := def.Recurrence
	if !models.IsKnownRecurrence(recurrence) {
		// Fail-soft: validation warns about unknown values upstream, the
		// expander just falls back to a single occurrence.
		log.Printf("Expander: class %s has unknown recurrence %q, treating as ONCE", def.ID, recurrence)
		recurrence = models.RecurrenceOnce
	}

	var starts []time.Time
	switch recurrence {
	case models.RecurrenceOnce:
		if !first.Before(windowStart) && first.Before(to) {
			starts = []time.Time{first}
		}
	case models.RecurrenceWeekly:
		var err error
		starts, err = e.weeklyStarts(first, 1, windowStart, to)
		if err != nil {
			return nil, err
		}
	case models.RecurrenceEvenWeeks:
		// Week index 0 (the first occurrence's own week) counts as even,
		// so the fortnightly rule anchors at the first start itself.
		var err error
		starts, err = e.weeklyStarts(first, 2, windowStart, to)
		if err != nil {
			return nil, err
		}
	case models.RecurrenceOddWeeks:
		// Odd week indices begin one week after the first occurrence.
		var err error
		starts, err = e.weeklyStarts(first.AddDate(0, 0, 7), 2, windowStart, to)
		if err != nil {
			return nil, err
		}
	}

	if len(starts) > e.maxOccurrences {
		log.Printf("Expander: class %s window truncated at %d occurrences", def.ID, e.maxOccurrences)
		starts = starts[:e.maxOccurrences]
	}

	occurrences := make([]models.Occurrence, 0, len(starts))
	for _, start := range starts {
		occurrences = append(occurrences, models.Occurrence{
			ClassID: def.ID,
			Title:   def.Title,
			Room:    def.Room,
			Start:   start,
			End:     start.Add(duration),
		})
	}

	sort.Slice(occurrences, func(i, j int) bool {
		return occurrences[i].Start.Before(occurrences[j].Start)
	})
	return occurrences, nil
}

// ExpandAll expands every definition over the same window and merges the
// results into one start-ordered sequence.
func (e *Expander) ExpandAll(defs []models.ClassDefinition, from, to time.Time) ([]models.Occurrence, error) {
	var all []models.Occurrence
	for _, def := range defs {
		occs, err := e.Expand(def, from, to)
		if err != nil {
			return nil, err
		}
		all = append(all, occs...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Start.Before(all[j].Start)
	})
	return all, nil
}

// weeklyStarts generates the occurrence starts of a weekly rule anchored at
// dtstart, stepping every interval weeks, within [from, to).
func (e *Expander) weeklyStarts(dtstart time.Time, interval int, from, to time.Time) ([]time.Time, error) {
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.WEEKLY,
		Interval: interval,
		Dtstart:  dtstart,
	})
	if err != nil {
		return nil, fmt.Errorf("expand: building weekly rule: %w", err)
	}

	// Between is inclusive at both ends; drop anything landing exactly on
	// the exclusive window end.
	var starts []time.Time
	for _, t := range rule.Between(from.In(e.loc), to.In(e.loc), true) {
		if t.Before(to) {
			starts = append(starts, t.In(e.loc))
		}
	}
	return starts, nil
}
