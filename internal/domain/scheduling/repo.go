package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts a pending appointment. It returns ErrSlotConflict when
	// an active appointment already holds (doctor, date, time); the check
	// and the insert are a single atomic step in the store.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus moves the appointment to `to` only if it is currently in
	// `from`, returning the updated row. ErrInvalidTransition is returned
	// when the current status differs and ErrNotFound when the id is unknown.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	// BookedTimes lists slot labels held by active appointments.
	BookedTimes(ctx context.Context, doctorID string, d Date) ([]string, error)
	// List orders by date then time ascending.
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
}
