package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/account"
	"github.com/telecare/telecare/internal/platform/events"
)

// memRepo mirrors the Postgres behaviour: the active-slot partial unique
// index is emulated under one mutex so check-and-insert is atomic.
type memRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMemRepo() *memRepo {
	return &memRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *memRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.appts {
		if other.Status.Active() && other.DoctorID == a.DoctorID && other.Date == a.Date && other.Time == a.Time {
			return fmt.Errorf("%w: %s %s %s", ErrSlotConflict, a.DoctorID, a.Date, a.Time)
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != from {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, a.Status)
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) BookedTimes(_ context.Context, doctorID string, d Date) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date == d && a.Status.Active() {
			out = append(out, a.Time)
		}
	}
	return out, nil
}

func (m *memRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appts {
		if f.PatientID != "" && a.PatientID != f.PatientID {
			continue
		}
		if f.DoctorID != "" && a.DoctorID != f.DoctorID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Time < out[j].Time
	})
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

// insert seeds an appointment directly, bypassing booking validation.
func (m *memRepo) insert(a *Appointment) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.appts[a.ID] = a
	return a
}

type fakeDoctors map[string]*account.Account

func (f fakeDoctors) GetDoctor(_ context.Context, id string) (*account.Account, error) {
	a, ok := f[id]
	if !ok || !a.IsDoctor() {
		return nil, account.ErrNotFound
	}
	return a, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var ist = time.FixedZone("IST", 5*3600+1800)

// monday is a Monday in the test calendar.
var monday = Date{Year: 2030, Month: time.January, Day: 7}

func mondayRule() *account.AvailabilityRule {
	return &account.AvailabilityRule{Days: []string{"Monday"}, FromTime: "09:00", ToTime: "10:00", SlotDuration: 30}
}

func testDoctors() fakeDoctors {
	return fakeDoctors{
		"doc-1": {ID: "doc-1", Name: "Meera Rao", Role: account.RoleDoctor, Availability: mondayRule()},
		"doc-2": {ID: "doc-2", Name: "No Schedule", Role: account.RoleDoctor},
		"pat-1": {ID: "pat-1", Name: "Arjun", Role: account.RolePatient},
	}
}

func testCalendar(now time.Time) *Calendar {
	return NewCalendar(ist).WithClock(func() time.Time { return now })
}

// beforeMonday is a moment safely before every slot on monday.
var beforeMonday = time.Date(2030, time.January, 1, 8, 0, 0, 0, ist)
