package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/platform/db"
)

// activeSlotIndex is the partial unique index on (doctor_id, appt_date,
// appt_time) WHERE status IN ('pending','accepted').
const activeSlotIndex = "appointment_active_slot_idx"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

// AppointmentCols is shared with the settlement and reminder stores.
const AppointmentCols = `id, patient_id, doctor_id, appt_date, appt_time, reason, status,
	reminder_sent, incentive_tx, created_at, updated_at`

// ScanAppointment reads one row selected with AppointmentCols.
func ScanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a      Appointment
		day    time.Time
		status string
		txJSON []byte
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &day, &a.Time, &a.Reason, &status,
		&a.ReminderSent, &txJSON, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Date = DateOf(day)
	a.Status = Status(status)
	if len(txJSON) > 0 {
		var tx IncentiveTx
		if err := json.Unmarshal(txJSON, &tx); err != nil {
			return nil, fmt.Errorf("decode incentive_tx for %s: %w", a.ID, err)
		}
		a.IncentiveTx = &tx
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, appt_date, appt_time, reason, status)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.Date.String(), a.Time, a.Reason, string(a.Status),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, activeSlotIndex) {
		return fmt.Errorf("%w: %s %s %s", ErrSlotConflict, a.DoctorID, a.Date, a.Time)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return ScanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+AppointmentCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	a, err := ScanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+AppointmentCols,
		id, string(from), string(to)))
	if !errors.Is(err, ErrNotFound) {
		return a, err
	}
	// nothing matched: either the id is unknown or the status moved on
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, current.Status)
}

func (r *repoPG) BookedTimes(ctx context.Context, doctorID string, d Date) ([]string, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT appt_time FROM appointment
		WHERE doctor_id = $1 AND appt_date = $2::date AND status IN ('pending', 'accepted')`,
		doctorID, d.String())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.DoctorID != "" {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM appointment%s
		ORDER BY appt_date, appt_time, created_at LIMIT $%d OFFSET $%d`,
		AppointmentCols, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := ScanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
