// Package calendar computes week boundaries over civil dates.
//
// Dates are plain YYYY-MM-DD strings. All arithmetic happens on a UTC
// midnight so the result never shifts with the host timezone.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

const layout = "2006-01-02"

// WeekStart returns the first day of the week containing date, where weeks
// begin on start.
func WeekStart(date string, start time.Weekday) (string, error) {
	d, err := parse(date)
	if err != nil {
		return "", err
	}
	return weekStart(d, start).Format(layout), nil
}

// WeekDates returns the seven dates of the week containing date, in order.
func WeekDates(date string, start time.Weekday) ([]string, error) {
	d, err := parse(date)
	if err != nil {
		return nil, err
	}
	first := weekStart(d, start)
	out := make([]string, 7)
	for i := range out {
		out[i] = first.AddDate(0, 0, i).Format(layout)
	}
	return out, nil
}

// Today returns the current civil date in the local timezone.
func Today() string {
	return time.Now().Format(layout)
}

// ParseWeekday accepts full or three-letter English day names, any case.
func ParseWeekday(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if n == full || n == full[:3] {
			return d, nil
		}
	}
	return time.Monday, fmt.Errorf("unknown weekday %q", name)
}

func parse(date string) (time.Time, error) {
	d, err := time.ParseInLocation(layout, strings.TrimSpace(date), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	return d, nil
}

func weekStart(d time.Time, start time.Weekday) time.Time {
	back := (int(d.Weekday()) - int(start) + 7) % 7
	return d.AddDate(0, 0, -back)
}
