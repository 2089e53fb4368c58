// Package reminder sends patients a heads-up shortly before an accepted
// appointment starts.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/domain/scheduling"
	"github.com/telecare/telecare/internal/platform/db"
)

// Candidate is an accepted, not yet reminded appointment on the sweep date.
type Candidate struct {
	Appointment *scheduling.Appointment
	DoctorName  string
}

// Store keeps all sweep state in the database so that any number of
// sweeps, in one process or many, can run against it.
type Store interface {
	Candidates(ctx context.Context, day scheduling.Date) ([]Candidate, error)
	// Claim leases the reminder until the given time. It fails when the
	// reminder was already sent or another sweep holds a live lease.
	Claim(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error)
	// MarkSent flips reminder_sent from false to true and reports whether
	// this call did it.
	MarkSent(ctx context.Context, id uuid.UUID) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
}

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (s *storePG) Candidates(ctx context.Context, day scheduling.Date) ([]Candidate, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+prefixed("a.", scheduling.AppointmentCols)+`, COALESCE(d.name, '')
		FROM appointment a
		LEFT JOIN account d ON d.id = a.doctor_id
		WHERE a.status = 'accepted' AND a.appt_date = $1::date AND NOT a.reminder_sent
		ORDER BY a.appt_time`, day.String())
	if err != nil {
		return nil, fmt.Errorf("query reminder candidates: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Candidate, error) {
		var c Candidate
		a, err := scheduling.ScanAppointment(withTail{row, &c.DoctorName})
		if err != nil {
			return Candidate{}, err
		}
		c.Appointment = a
		return c, nil
	})
}

func (s *storePG) Claim(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE appointment SET reminder_lease_until = $3
		WHERE id = $1 AND status = 'accepted' AND NOT reminder_sent
		  AND (reminder_lease_until IS NULL OR reminder_lease_until < $2)`, id, now, until)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *storePG) MarkSent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE appointment SET reminder_sent = true, reminder_lease_until = NULL, updated_at = now()
		WHERE id = $1 AND NOT reminder_sent`, id)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *storePG) Release(ctx context.Context, id uuid.UUID) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE appointment SET reminder_lease_until = NULL
		WHERE id = $1 AND NOT reminder_sent`, id)
	return err
}

// withTail appends extra scan targets after the appointment columns.
type withTail struct {
	pgx.Row
	tail *string
}

func (w withTail) Scan(dest ...any) error {
	return w.Row.Scan(append(dest, w.tail)...)
}

func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = alias + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
