package core

import (
	"fmt"
	"time"
)

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

type (
	Period string

	// Window is an inclusive [Start, End] calendar-date range. Membership
	// is decided on the date portion of a session's start time only.
	Window struct {
		Start Date
		End   Date
	}
)

// Contains reports whether d falls inside the window, both ends inclusive.
// An inverted window (Start after End) contains nothing; that is a legal
// empty window, not an error.
func (w Window) Contains(d Date) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

// ResolveWindow computes the date range for a period relative to now.
//
// The weekly window keeps the ledger's historical boundaries: it runs from
// the Sunday seven days before the upcoming Sunday through the upcoming
// Sunday itself, eight days inclusive. If now is a Sunday the window ends
// today. This is not an ISO Monday-to-Sunday week on purpose.
func ResolveWindow(p Period, now time.Time) (Window, error) {
	today := DateOf(now)
	switch p {
	case Daily:
		return Window{Start: today, End: today}, nil
	case Weekly:
		daysToSunday := (7 - int(now.Weekday())) % 7
		end := DateOf(today.AddDate(0, 0, daysToSunday))
		start := DateOf(end.AddDate(0, 0, -7))
		return Window{Start: start, End: end}, nil
	case Monthly:
		return monthWindow(now.Year(), int(now.Month())), nil
	case Yearly:
		return yearWindow(now.Year()), nil
	default:
		return Window{}, fmt.Errorf("unknown period %q", p)
	}
}

// CustomWindow builds a window from caller-supplied bounds. Ordering is not
// validated: start after end yields an empty result downstream.
func CustomWindow(start, end Date) Window {
	return Window{Start: start, End: end}
}

// MonthWindow resolves an explicit "YYYY-MM" token to that calendar month.
func MonthWindow(token string) (Window, error) {
	t, err := time.Parse("2006-01", token)
	if err != nil {
		return Window{}, fmt.Errorf("parse month token %q: %w", token, err)
	}
	return monthWindow(t.Year(), int(t.Month())), nil
}

// YearWindow resolves an explicit "YYYY" token to that calendar year.
func YearWindow(token string) (Window, error) {
	t, err := time.Parse("2006", token)
	if err != nil {
		return Window{}, fmt.Errorf("parse year token %q: %w", token, err)
	}
	return yearWindow(t.Year()), nil
}

func monthWindow(year, month int) Window {
	first := NewDate(year, month, 1)
	// day 0 of the next month normalizes to the last day of this one
	last := NewDate(year, month+1, 0)
	return Window{Start: first, End: last}
}

func yearWindow(year int) Window {
	return Window{Start: NewDate(year, 1, 1), End: NewDate(year, 12, 31)}
}
