package account

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// DefaultSlotDuration applies when a doctor saves a rule without a duration.
const DefaultSlotDuration = 30

type Account struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Email         string            `json:"email,omitempty"`
	Role          string            `json:"role"`
	WalletAddress *string           `json:"wallet_address,omitempty"`
	Availability  *AvailabilityRule `json:"availability,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (a *Account) IsDoctor() bool { return a.Role == RoleDoctor }

// Wallet returns the registered payable wallet, or "" when none is set.
func (a *Account) Wallet() string {
	if a.WalletAddress == nil {
		return ""
	}
	return strings.TrimSpace(*a.WalletAddress)
}

// AvailabilityRule is a doctor's recurring weekly working window.
type AvailabilityRule struct {
	Days         []string `json:"days"`
	FromTime     string   `json:"from_time"`
	ToTime       string   `json:"to_time"`
	SlotDuration int      `json:"slot_duration"`
}

// Clock is a local time of day in minutes after midnight.
type Clock int

// ParseClock parses a zero-padded 24-hour "HH:MM" label.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("time %q has invalid hour", s)
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q has invalid minute", s)
	}
	return Clock(h*60 + m), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday accepts an English weekday name in any case.
func ParseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", name)
	}
	return d, nil
}

// Window returns the parsed bounds of the rule.
func (r *AvailabilityRule) Window() (from, to Clock, err error) {
	if from, err = ParseClock(r.FromTime); err != nil {
		return 0, 0, err
	}
	if to, err = ParseClock(r.ToTime); err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

// Covers reports whether the rule accepts bookings on d.
func (r *AvailabilityRule) Covers(d time.Weekday) bool {
	for _, name := range r.Days {
		if wd, err := ParseWeekday(name); err == nil && wd == d {
			return true
		}
	}
	return false
}

// Normalize validates the rule in place, canonicalising day names and
// filling the default slot duration.
func (r *AvailabilityRule) Normalize() error {
	if len(r.Days) == 0 {
		return fmt.Errorf("days must not be empty")
	}
	seen := make(map[time.Weekday]bool, len(r.Days))
	days := make([]string, 0, len(r.Days))
	for _, name := range r.Days {
		wd, err := ParseWeekday(name)
		if err != nil {
			return err
		}
		if seen[wd] {
			continue
		}
		seen[wd] = true
		days = append(days, wd.String())
	}
	r.Days = days

	from, to, err := r.Window()
	if err != nil {
		return err
	}
	if from >= to {
		return fmt.Errorf("from_time %s must be before to_time %s", r.FromTime, r.ToTime)
	}

	if r.SlotDuration == 0 {
		r.SlotDuration = DefaultSlotDuration
	}
	if r.SlotDuration < 0 {
		return fmt.Errorf("slot_duration must be positive, got %d", r.SlotDuration)
	}
	return nil
}
