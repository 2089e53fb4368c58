package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/telecare/telecare/internal/domain/account"
)

// GenerateSlots expands a weekly rule into the slot labels offered on d.
// A nil rule or a day outside rule.Days yields no slots. Slots start at
// FromTime and step by SlotDuration; none starts at or after ToTime.
func GenerateSlots(rule *account.AvailabilityRule, d Date) ([]string, error) {
	if rule == nil || !rule.Covers(WeekdayOf(d)) {
		return nil, nil
	}
	from, to, err := rule.Window()
	if err != nil {
		return nil, fmt.Errorf("availability window: %w", err)
	}
	step := rule.SlotDuration
	if step == 0 {
		step = account.DefaultSlotDuration
	}
	if step < 0 {
		return nil, fmt.Errorf("availability slot duration %d", step)
	}

	var slots []string
	for t := from; t < to; t += account.Clock(step) {
		slots = append(slots, t.String())
	}
	return slots, nil
}

// FreeSlots drops booked labels from candidates, keeping order.
func FreeSlots(candidates, booked []string) []string {
	taken := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		taken[b] = struct{}{}
	}
	free := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := taken[c]; !ok {
			free = append(free, c)
		}
	}
	return free
}

// Doctors looks up doctor accounts. *account.Service satisfies it.
type Doctors interface {
	GetDoctor(ctx context.Context, id string) (*account.Account, error)
}

// Resolver computes open slots from a doctor's rule and the active bookings.
type Resolver struct {
	doctors Doctors
	repo    Repository
}

func NewResolver(doctors Doctors, repo Repository) *Resolver {
	return &Resolver{doctors: doctors, repo: repo}
}

func (r *Resolver) doctor(ctx context.Context, doctorID string) (*account.Account, error) {
	doc, err := r.doctors.GetDoctor(ctx, doctorID)
	switch {
	case errors.Is(err, account.ErrNotFound):
		return nil, fmt.Errorf("%w: doctor %s", ErrNotFound, doctorID)
	case errors.Is(err, account.ErrInvalidInput):
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case err != nil:
		return nil, err
	}
	return doc, nil
}

// AvailableSlots returns the open slot labels for doctorID on date, in
// chronological order.
func (r *Resolver) AvailableSlots(ctx context.Context, doctorID, date string) ([]string, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	doc, err := r.doctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	candidates, err := GenerateSlots(doc.Availability, d)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []string{}, nil
	}
	booked, err := r.repo.BookedTimes(ctx, doctorID, d)
	if err != nil {
		return nil, fmt.Errorf("load booked times: %w", err)
	}
	return FreeSlots(candidates, booked), nil
}
