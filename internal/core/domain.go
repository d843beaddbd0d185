package core

import (
	"errors"
	"strings"
	"time"
)

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

type (
	// Status is the lifecycle state of a session. It is derived from the
	// total cost: a zero cost marks an in-progress session. The zero-cost
	// sentinel is preserved at the storage boundary so existing ledgers
	// keep querying the same way.
	Status string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Session is one ledger row: either the opening event of a rental
	// (zero cost, no end time) or the closing event carrying the final
	// elapsed time and cost. Closing is a second insert, never an update.
	Session struct {
		ID             int64
		Category       string
		Instance       string
		RatePerHour    Money
		ElapsedSeconds *int64 // nil while open, or when the caller never supplied it
		TotalCost      Money
		StartTime      time.Time
		EndTime        *time.Time // nil while open
	}

	// CategoryInstance is a distinct (category, instance) pair observed
	// anywhere in the ledger.
	CategoryInstance struct {
		Category string
		Instance string
	}
)

var (
	ErrEmptyCategory = errors.New("empty category")
	ErrEmptyInstance = errors.New("empty instance")
	ErrInvalidRate   = errors.New("rate per hour must be positive")
	ErrInvalidCost   = errors.New("total cost cannot be negative")
	ErrZeroStartTime = errors.New("start time cannot be zero")
	ErrOpenWithEnd   = errors.New("open session cannot carry an end time")
	ErrClosedNoEnd   = errors.New("closed session must carry an end time")
)

// Status reports whether the row is an open or a closed session.
// A zero total cost means open, ledger-wide.
func (s Session) Status() Status {
	if s.TotalCost.Cents == 0 {
		return StatusOpen
	}
	return StatusClosed
}

func (s Session) Validate() error {
	if strings.TrimSpace(s.Category) == "" {
		return ErrEmptyCategory
	}
	if strings.TrimSpace(s.Instance) == "" {
		return ErrEmptyInstance
	}
	if s.RatePerHour.Cents <= 0 {
		return ErrInvalidRate
	}
	if s.TotalCost.Cents < 0 {
		return ErrInvalidCost
	}
	if s.StartTime.IsZero() {
		return ErrZeroStartTime
	}
	switch s.Status() {
	case StatusOpen:
		if s.EndTime != nil {
			return ErrOpenWithEnd
		}
	case StatusClosed:
		if s.EndTime == nil {
			return ErrClosedNoEnd
		}
	}
	return nil
}

// StartDate returns the calendar date of the start time. Window membership
// ignores time-of-day.
func (s Session) StartDate() Date {
	return DateOf(s.StartTime)
}

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar date.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}
