package incentive

import (
	"context"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/scheduling"
)

type Store interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	// Claim attaches rec to the appointment only if it is accepted and has
	// no settlement record yet. It reports whether this caller won.
	Claim(ctx context.Context, id uuid.UUID, rec *scheduling.IncentiveTx) (bool, error)
	// Complete stores the final record and the ledger rows atomically.
	Complete(ctx context.Context, id uuid.UUID, rec *scheduling.IncentiveTx, transfers []*Transfer) error
	ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*Transfer, int, error)
}
