package scheduling

import (
	"fmt"
	"time"

	"github.com/telecare/telecare/internal/domain/account"
)

const dateLayout = "2006-01-02"

// Date is a civil calendar date with no time of day and no zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate accepts ISO "YYYY-MM-DD" only.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, s)
	}
	return DateOf(t), nil
}

// DateOf returns the civil date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// WeekdayOf resolves the weekday of a civil date. The date is already
// expressed in the booking calendar, so no zone conversion happens here.
func WeekdayOf(d Date) time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

// Calendar anchors civil dates and slot labels to one named zone. "Today"
// and "now" for booking checks and reminder sweeps are taken in that zone.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

func NewCalendar(loc *time.Location) *Calendar {
	return &Calendar{loc: loc, now: time.Now}
}

// WithClock returns a copy of the calendar reading the time from now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	return &Calendar{loc: c.loc, now: now}
}

func (c *Calendar) Location() *time.Location { return c.loc }

func (c *Calendar) Now() time.Time { return c.now().In(c.loc) }

func (c *Calendar) Today() Date { return DateOf(c.Now()) }

// At returns the instant a slot starts.
func (c *Calendar) At(d Date, clock account.Clock) time.Time {
	return time.Date(d.Year, d.Month, d.Day, int(clock)/60, int(clock)%60, 0, 0, c.loc)
}
