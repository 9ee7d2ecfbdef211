// Package recurrence expands date ranges into the calendar days a poll
// offers, optionally limited to some weekdays.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format of a calendar day.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidWindow indicates the range ends before it starts.
	ErrInvalidWindow = errors.New("recurrence: range end is before its start")
	// ErrTooManyDates indicates the expansion exceeded the caller's limit.
	ErrTooManyDates = errors.New("recurrence: too many dates")
	// ErrInvalidWeekday indicates an unknown weekday name.
	ErrInvalidWeekday = errors.New("recurrence: invalid weekday")
)

// Rule selects every day from Start through End inclusive. When Weekdays is
// non-empty only those weekdays are kept. Times of day are ignored.
type Rule struct {
	Start    time.Time
	End      time.Time
	Weekdays []time.Weekday
}

// Expand returns the selected days formatted as YYYY-MM-DD in ascending
// order. A limit of zero or less means unbounded.
func Expand(rule Rule, limit int) ([]string, error) {
	start := civilDay(rule.Start)
	end := civilDay(rule.End)
	if end.Before(start) {
		return nil, ErrInvalidWindow
	}

	weekdaySet := make(map[time.Weekday]struct{}, len(rule.Weekdays))
	for _, day := range rule.Weekdays {
		weekdaySet[day] = struct{}{}
	}

	dates := make([]string, 0)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if len(weekdaySet) > 0 {
			if _, ok := weekdaySet[day.Weekday()]; !ok {
				continue
			}
		}
		if limit > 0 && len(dates) == limit {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyDates, limit)
		}
		dates = append(dates, day.Format(DateLayout))
	}
	return dates, nil
}

// ExpandStrings parses start and end as YYYY-MM-DD and expands them.
func ExpandStrings(start, end string, weekdays []time.Weekday, limit int) ([]string, error) {
	from, err := time.Parse(DateLayout, strings.TrimSpace(start))
	if err != nil {
		return nil, fmt.Errorf("parse start: %w", err)
	}
	to, err := time.Parse(DateLayout, strings.TrimSpace(end))
	if err != nil {
		return nil, fmt.Errorf("parse end: %w", err)
	}
	return Expand(Rule{Start: from, End: to, Weekdays: weekdays}, limit)
}

// ParseWeekdays accepts full or three letter English names in any case.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWeekday, name)
		}
		days = append(days, day)
	}
	return days, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
