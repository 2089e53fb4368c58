// Package incentive pays both parties of an accepted appointment a fixed
// amount of SOL and keeps a ledger of the transfers that went through.
package incentive

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrWalletMissing  = errors.New("wallet missing")
	ErrTransferFailed = errors.New("transfer failed")
	ErrNotAccepted    = errors.New("appointment is not accepted")
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Transfer is one successful settlement leg as recorded in the ledger.
type Transfer struct {
	ID            uuid.UUID       `json:"id"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	RecipientID   string          `json:"recipient_id"`
	Role          Role            `json:"role"`
	Wallet        string          `json:"wallet"`
	Amount        decimal.Decimal `json:"amount"`
	TxID          string          `json:"tx_id"`
	CreatedAt     time.Time       `json:"created_at"`
}
