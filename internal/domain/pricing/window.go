package pricing

import (
	"math"
	"time"

	"github.com/go-faster/errors"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// RentalWindow is the inclusive calendar date range a customer rents
// equipment for. Both dates carry no time of day and are kept at UTC midnight.
type RentalWindow struct {
	Start time.Time
	End   time.Time
}

// NewRentalWindow truncates start and end to calendar dates.
func NewRentalWindow(start, end time.Time) RentalWindow {
	return RentalWindow{Start: Date(start), End: Date(end)}
}

// Date drops the time of day, keeping the calendar date the value has in its
// own location.
func Date(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date. An empty string yields the
// zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse date %q", s)
	}
	return t, nil
}

// FormatDate renders a calendar date, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// IsComplete reports whether both dates are set.
func (w RentalWindow) IsComplete() bool {
	return !w.Start.IsZero() && !w.End.IsZero()
}

// Days returns the number of billable rental days. It never returns less than
// one, so a same-day rental is still charged a full day.
func (w RentalWindow) Days() int64 {
	if !w.IsComplete() {
		return 1
	}
	diff := Date(w.End).Sub(Date(w.Start))
	days := int64(math.Ceil(diff.Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}
