// Package timetable parses uploaded timetable files into validated class
// definitions. The engine itself has no role in parsing; it only accepts
// the definitions this collaborator yields.
package timetable

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"classbell/internal/models"
)

var requiredColumns = []string{"class_title", "room", "teacher_email", "start_datetime", "end_datetime"}

// Accepted timestamp layouts for the naive local datetimes in uploads
var datetimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
}

// ParseResult is the outcome of parsing one uploaded timetable
type ParseResult struct {
	Definitions []models.ClassDefinition
	// Warnings carry non-fatal row issues (e.g. unknown recurrence values
	// normalized to ONCE) back to the admin
	Warnings []string
}

// ParseCSV reads a timetable CSV and yields validated class definitions.
// Datetimes without an explicit offset are interpreted as wall-clock times
// in the institution timezone loc. Rows that fail validation abort the
// whole upload; recoverable issues become warnings instead.
func ParseCSV(r io.Reader, loc *time.Location) (ParseResult, error) {
	var result ParseResult
	if loc == nil {
		loc = time.UTC
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return result, fmt.Errorf("reading header row: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return result, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}

	rowNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("reading row %d: %w", rowNum+1, err)
		}
		rowNum++

		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		teacherEmail := field("teacher_email")
		if _, err := mail.ParseAddress(teacherEmail); err != nil {
			return result, fmt.Errorf("row %d: invalid teacher_email %q", rowNum, teacherEmail)
		}

		start, err := parseDatetime(field("start_datetime"), loc)
		if err != nil {
			return result, fmt.Errorf("row %d: %w", rowNum, err)
		}
		end, err := parseDatetime(field("end_datetime"), loc)
		if err != nil {
			return result, fmt.Errorf("row %d: %w", rowNum, err)
		}
		if !end.After(start) {
			return result, fmt.Errorf("row %d: end_datetime must be after start_datetime", rowNum)
		}

		recurrence := models.Recurrence(strings.ToUpper(field("recurrence")))
		if recurrence == "" {
			recurrence = models.RecurrenceOnce
		} else if !models.IsKnownRecurrence(recurrence) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("row %d: unknown recurrence %q, using ONCE", rowNum, recurrence))
			recurrence = models.RecurrenceOnce
		}

		result.Definitions = append(result.Definitions, models.ClassDefinition{
			Title:         field("class_title"),
			Room:          field("room"),
			TeacherEmail:  teacherEmail,
			StartDateTime: start,
			EndDateTime:   end,
			Recurrence:    recurrence,
		})
	}

	return result, nil
}

func parseDatetime(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}
