package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// WINDOW - Report time range over EffectiveAt
// =============================================================================

// Window is a half-open [From, To) range. Zero bounds are open.
type Window struct {
	From time.Time
	To   time.Time
}

// MonthWindow returns the window for a calendar month in UTC.
//
//	year == 0             all time (month must be 0)
//	month == 0            whole year
//	month in 1..12        that month
func MonthWindow(year, month int) (Window, error) {
	if month < 0 || month > 12 {
		return Window{}, invalid("month", fmt.Sprintf("%d is not in 0..12", month))
	}
	if year < 0 {
		return Window{}, invalid("year", "must not be negative")
	}
	if year == 0 {
		if month != 0 {
			return Window{}, invalid("year", "required when a month is given")
		}
		return Window{}, nil
	}
	if month == 0 {
		from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return Window{From: from, To: from.AddDate(1, 0, 0)}, nil
	}
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Window{From: from, To: from.AddDate(0, 1, 0)}, nil
}

func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

func (w Window) IsZero() bool { return w.From.IsZero() && w.To.IsZero() }

// Apply restricts a filter to the window.
func (w Window) Apply(f Filter) Filter {
	f.From, f.To = w.From, w.To
	return f
}
