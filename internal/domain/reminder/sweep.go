package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/telecare/telecare/internal/domain/account"
	"github.com/telecare/telecare/internal/domain/scheduling"
	"github.com/telecare/telecare/internal/platform/events"
	"github.com/telecare/telecare/internal/platform/notification"
)

var tracer = otel.Tracer("github.com/telecare/telecare/internal/domain/reminder")

type Config struct {
	// Lookahead is how far ahead of now an appointment becomes due.
	Lookahead time.Duration
	// Lease bounds how long a crashed sweep can block a reminder.
	Lease time.Duration
}

type Sweeper struct {
	store  Store
	cal    *scheduling.Calendar
	sink   notification.Sink
	events events.Publisher
	cfg    Config
	logger zerolog.Logger
}

func NewSweeper(store Store, cal *scheduling.Calendar, sink notification.Sink, pub events.Publisher, cfg Config, logger zerolog.Logger) *Sweeper {
	if pub == nil {
		pub = events.Nop
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 30 * time.Minute
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	return &Sweeper{store: store, cal: cal, sink: sink, events: pub, cfg: cfg, logger: logger}
}

// Result summarises one sweep.
type Result struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Message is the reminder text the patient receives.
func Message(doctorName, slot string) string {
	return fmt.Sprintf("You have an appointment with Dr. %s at %s today.", doctorName, slot)
}

// Sweep reminds every patient whose accepted appointment today starts
// within (now, now+Lookahead]. A failure on one appointment is logged and
// leaves it unmarked for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	sweepID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "reminder.sweep")
	defer span.End()
	span.SetAttributes(attribute.String("sweep_id", sweepID))

	log := s.logger.With().Str("sweep_id", sweepID).Logger()

	now := s.cal.Now()
	until := now.Add(s.cfg.Lookahead)

	var res Result
	candidates, err := s.store.Candidates(ctx, s.cal.Today())
	if err != nil {
		span.RecordError(err)
		return res, err
	}

	for _, c := range candidates {
		a := c.Appointment
		clock, err := account.ParseClock(a.Time)
		if err != nil {
			log.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("unparseable appointment time")
			continue
		}
		start := s.cal.At(a.Date, clock)
		if !start.After(now) || start.After(until) {
			continue
		}
		res.Due++

		switch err := s.remind(ctx, c, now); {
		case errors.Is(err, errClaimed):
			res.Skipped++
		case err != nil:
			res.Failed++
			log.Warn().Err(err).Str("appointment_id", a.ID.String()).Str("user_id", a.PatientID).Msg("reminder failed")
		default:
			res.Sent++
		}
	}

	span.SetAttributes(
		attribute.Int("due", res.Due),
		attribute.Int("sent", res.Sent),
		attribute.Int("failed", res.Failed),
	)
	log.Info().Int("due", res.Due).Int("sent", res.Sent).Int("skipped", res.Skipped).Int("failed", res.Failed).Msg("reminder sweep finished")
	return res, nil
}

var errClaimed = errors.New("reminder held by another sweep")

func (s *Sweeper) remind(ctx context.Context, c Candidate, now time.Time) error {
	a := c.Appointment
	ok, err := s.store.Claim(ctx, a.ID, now, now.Add(s.cfg.Lease))
	if err != nil {
		return err
	}
	if !ok {
		return errClaimed
	}

	if err := s.sink.Notify(ctx, a.PatientID, Message(c.DoctorName, a.Time)); err != nil {
		if rerr := s.store.Release(ctx, a.ID); rerr != nil {
			s.logger.Warn().Err(rerr).Str("appointment_id", a.ID.String()).Msg("release reminder lease failed")
		}
		return err
	}

	marked, err := s.store.MarkSent(ctx, a.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("mark reminder sent failed; retrying")
		marked, err = s.store.MarkSent(ctx, a.ID)
	}
	if err != nil {
		// the lease is kept, so no sweep resends before it expires
		return fmt.Errorf("reminder delivered but not marked: %w", err)
	}
	if !marked {
		s.logger.Warn().Str("appointment_id", a.ID.String()).Msg("reminder already marked sent")
	}

	err = s.events.Publish(ctx, events.New(events.ReminderSent, map[string]string{
		"appointment_id": a.ID.String(),
		"patient_id":     a.PatientID,
		"time":           a.Time,
	}))
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("publish event failed")
	}
	return nil
}
