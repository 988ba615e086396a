package booking

import (
	"fmt"
	"math"
	"time"
)

// =============================================================================
// DATE - Calendar day (stays are booked by night, never by hour)
// =============================================================================

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar day normalized to midnight UTC.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its UTC calendar day.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string. Anything else is a validation error.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, &FieldError{Field: "date", Message: fmt.Sprintf("invalid date %q (use YYYY-MM-DD)", s)}
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }
func (d Date) IsZero() bool       { return d.Time.IsZero() }
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) String() string     { return d.Time.Format(DateLayout) }

// =============================================================================
// STAY - Half-open interval [Arrival, Departure)
// =============================================================================

// Stay is the interval a guest occupies a unit. The departure day itself is
// free, so back-to-back stays never overlap.
type Stay struct {
	Arrival   Date
	Departure Date
}

// NewStay builds a stay, rejecting empty or inverted intervals.
func NewStay(arrival, departure Date) (Stay, error) {
	s := Stay{Arrival: arrival, Departure: departure}
	if err := s.Validate(); err != nil {
		return Stay{}, err
	}
	return s, nil
}

// Validate checks arrival < departure.
func (s Stay) Validate() error {
	if s.Arrival.IsZero() || s.Departure.IsZero() {
		return ErrInvalidDateRange
	}
	if !s.Arrival.Before(s.Departure) {
		return ErrInvalidDateRange
	}
	return nil
}

// ValidateBookable checks the interval and that arrival is not in the past
// relative to today. Same-day arrival is allowed.
func (s Stay) ValidateBookable(today Date) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Arrival.Before(today) {
		return ErrInvalidDateRange
	}
	if s.Nights() < 1 {
		return ErrInvalidDateRange
	}
	return nil
}

// Overlaps is the strict half-open overlap test.
func (s Stay) Overlaps(o Stay) bool {
	return s.Arrival.Before(o.Departure) && s.Departure.After(o.Arrival)
}

// Nights is the ceiling of the interval length in days.
func (s Stay) Nights() int {
	hours := s.Departure.Time.Sub(s.Arrival.Time).Hours()
	return int(math.Ceil(hours / 24))
}

func (s Stay) String() string {
	return s.Arrival.String() + ".." + s.Departure.String()
}
