package commission

import "time"

// =============================================================================
// DATE RANGE - Inclusive day-granularity settlement windows
// =============================================================================

// DateRange is an inclusive [From, To] window at day granularity.
// From is normalized to 00:00:00 UTC and To to the last instant of its
// day, so SQL range predicates on created_at are inclusive on both
// sides the way admins expect ("to 2025-03-31" includes March 31).
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange normalizes the boundaries to day granularity.
// Returns ErrInvalidPeriod when to precedes from.
func NewDateRange(from, to time.Time) (DateRange, error) {
	f := startOfDay(from)
	t := endOfDay(to)
	if t.Before(f) {
		return DateRange{}, ErrInvalidPeriod
	}
	return DateRange{From: f, To: t}, nil
}

// ParseDateRange parses "YYYY-MM-DD" boundaries.
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse("2006-01-02", from)
	if err != nil {
		return DateRange{}, &ValidationError{Field: "from", Message: "must be YYYY-MM-DD"}
	}
	t, err := time.Parse("2006-01-02", to)
	if err != nil {
		return DateRange{}, &ValidationError{Field: "to", Message: "must be YYYY-MM-DD"}
	}
	return NewDateRange(f, t)
}

// Contains returns true if the instant falls inside the window.
func (r DateRange) Contains(at time.Time) bool {
	return !at.Before(r.From) && !at.After(r.To)
}

func (r DateRange) String() string {
	return "[" + r.From.Format("2006-01-02") + ", " + r.To.Format("2006-01-02") + "]"
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}
