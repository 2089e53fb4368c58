package scheduling

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/account"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/events"
	"github.com/telecare/telecare/internal/platform/notification"
)

const maxReasonLen = 1000

type Service struct {
	repo     Repository
	resolver *Resolver
	cal      *Calendar
	events   events.Publisher
	hooks    *hookRunner
	logger   zerolog.Logger
}

func NewService(repo Repository, doctors Doctors, cal *Calendar, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop
	}
	return &Service{
		repo:     repo,
		resolver: NewResolver(doctors, repo),
		cal:      cal,
		events:   pub,
		hooks:    &hookRunner{logger: logger},
		logger:   logger,
	}
}

// OnTransition registers a post-commit hook.
func (s *Service) OnTransition(h Hook) { s.hooks.add(h) }

// Wait blocks until in-flight async hooks finish. Used on shutdown.
func (s *Service) Wait() { s.hooks.wait() }

func (s *Service) AvailableSlots(ctx context.Context, doctorID, date string) ([]string, error) {
	return s.resolver.AvailableSlots(ctx, doctorID, date)
}

// CreateAppointment books a slot for the calling patient. Uniqueness of the
// (doctor, date, time) triple among active appointments is enforced by the
// repository at write time, independent of the availability check here.
func (s *Service) CreateAppointment(ctx context.Context, caller auth.Identity, req BookingRequest) (*Appointment, error) {
	if caller.Role != auth.RolePatient {
		return nil, fmt.Errorf("%w: only patients can book appointments", ErrForbidden)
	}
	if strings.TrimSpace(req.DoctorID) == "" {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalidInput)
	}
	d, err := ParseDate(req.Date)
	if err != nil {
		return nil, err
	}
	clock, err := account.ParseClock(req.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(req.Reason) > maxReasonLen {
		return nil, fmt.Errorf("%w: reason exceeds %d characters", ErrInvalidInput, maxReasonLen)
	}
	if !s.cal.At(d, clock).After(s.cal.Now()) {
		return nil, fmt.Errorf("%w: %s %s is in the past", ErrInvalidInput, d, req.Time)
	}

	doc, err := s.resolver.doctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	offered, err := GenerateSlots(doc.Availability, d)
	if err != nil {
		return nil, err
	}
	if !contains(offered, req.Time) {
		return nil, fmt.Errorf("%w: %s is not an offered slot on %s", ErrInvalidInput, req.Time, d)
	}

	a := &Appointment{
		ID:        uuid.New(),
		PatientID: caller.UID,
		DoctorID:  doc.ID,
		Date:      d,
		Time:      req.Time,
		Reason:    strings.TrimSpace(req.Reason),
		Status:    StatusPending,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID).
		Str("date", a.Date.String()).
		Str("time", a.Time).
		Msg("appointment booked")
	s.publish(ctx, events.AppointmentBooked, a)
	return a, nil
}

// SetStatus moves a pending appointment to accepted or rejected. Only the
// appointment's doctor may do so. Post-commit hooks fire once the change is
// durable and cannot fail the call.
func (s *Service) SetStatus(ctx context.Context, caller auth.Identity, id uuid.UUID, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.DoctorID != caller.UID {
		return nil, fmt.Errorf("%w: only the appointment's doctor can change its status", ErrForbidden)
	}
	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, current.Status, to)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(current.Status)).
		Str("to", string(to)).
		Msg("appointment status changed")

	evt := events.AppointmentAccepted
	if to == StatusRejected {
		evt = events.AppointmentRejected
	}
	s.publish(ctx, evt, updated)
	s.hooks.fire(ctx, updated)
	return updated, nil
}

// Get returns the appointment when the caller is one of its parties.
func (s *Service) Get(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Involves(caller.UID) {
		// don't reveal existence to outsiders
		return nil, ErrNotFound
	}
	return a, nil
}

// List returns the caller's own appointments, ordered by date then time.
func (s *Service) List(ctx context.Context, caller auth.Identity, status Status, limit, offset int) ([]*Appointment, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	f := ListFilter{Status: status}
	switch caller.Role {
	case auth.RoleDoctor:
		f.DoctorID = caller.UID
	case auth.RolePatient:
		f.PatientID = caller.UID
	default:
		return nil, 0, fmt.Errorf("%w: unknown role %q", ErrForbidden, caller.Role)
	}
	return s.repo.List(ctx, f, limit, offset)
}

type appointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	DoctorID      string `json:"doctor_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Status        Status `json:"status"`
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	err := s.events.Publish(ctx, events.New(eventType, appointmentEvent{
		AppointmentID: a.ID.String(),
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		Date:          a.Date.String(),
		Time:          a.Time,
		Status:        a.Status,
	}))
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("appointment_id", a.ID.String()).Msg("publish event failed")
	}
}

// PatientNotifier tells the patient the outcome of their request.
func PatientNotifier(sink notification.Sink) Hook {
	return Hook{
		Name: "notify-patient",
		On:   []Status{StatusAccepted, StatusRejected},
		Run: func(ctx context.Context, a *Appointment) error {
			msg := fmt.Sprintf("Your appointment on %s at %s has been %s.", a.Date, a.Time, a.Status)
			return sink.Notify(ctx, a.PatientID, msg)
		},
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
