package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Active appointments occupy their slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted
}

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusRejected
}

var transitions = map[Status][]Status{
	StatusPending: {StatusAccepted, StatusRejected},
}

// CanTransition reports whether from -> to is a legal move. Accepted and
// rejected are terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID           uuid.UUID    `json:"id"`
	PatientID    string       `json:"patient_id"`
	DoctorID     string       `json:"doctor_id"`
	Date         Date         `json:"date"`
	Time         string       `json:"time"`
	Reason       string       `json:"reason,omitempty"`
	Status       Status       `json:"status"`
	ReminderSent bool         `json:"reminder_sent"`
	IncentiveTx  *IncentiveTx `json:"incentive_tx,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Involves reports whether uid is the patient or the doctor.
func (a *Appointment) Involves(uid string) bool {
	return uid != "" && (a.PatientID == uid || a.DoctorID == uid)
}

type LegOutcome string

const (
	LegPending        LegOutcome = "pending"
	LegSent           LegOutcome = "sent"
	LegWalletMissing  LegOutcome = "wallet_missing"
	LegTransferFailed LegOutcome = "transfer_failed"
)

// Leg is the result of one settlement transfer.
type Leg struct {
	Outcome LegOutcome `json:"outcome"`
	TxID    string     `json:"tx_id,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// IncentiveTx is the settlement record attached to an accepted appointment.
// It is claimed with both legs pending and completed once both resolve.
type IncentiveTx struct {
	Doctor    Leg        `json:"doctor"`
	Patient   Leg        `json:"patient"`
	StartedAt time.Time  `json:"started_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

func (t *IncentiveTx) Completed() bool {
	return t != nil && t.SentAt != nil
}

// BookingRequest is what a patient submits to reserve a slot.
type BookingRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Reason   string `json:"reason"`
}

type ListFilter struct {
	PatientID string
	DoctorID  string
	Status    Status
}
