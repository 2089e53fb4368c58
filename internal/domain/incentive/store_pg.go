package incentive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/domain/scheduling"
	"github.com/telecare/telecare/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (s *storePG) GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	return scheduling.ScanAppointment(db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+scheduling.AppointmentCols+` FROM appointment WHERE id = $1`, id))
}

func (s *storePG) Claim(ctx context.Context, id uuid.UUID, rec *scheduling.IncentiveTx) (bool, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE appointment SET incentive_tx = $2, updated_at = now()
		WHERE id = $1 AND status = 'accepted' AND incentive_tx IS NULL`, id, raw)
	if err != nil {
		return false, fmt.Errorf("claim settlement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *storePG) Complete(ctx context.Context, id uuid.UUID, rec *scheduling.IncentiveTx, transfers []*Transfer) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, s.pool)
		if _, err := conn.Exec(ctx,
			`UPDATE appointment SET incentive_tx = $2, updated_at = now() WHERE id = $1`, id, raw); err != nil {
			return fmt.Errorf("store settlement: %w", err)
		}
		for _, t := range transfers {
			err := conn.QueryRow(ctx, `
				INSERT INTO incentive_transfer (id, appointment_id, recipient_id, role, wallet, amount, tx_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING created_at`,
				t.ID, t.AppointmentID, t.RecipientID, string(t.Role), t.Wallet, t.Amount.String(), t.TxID,
			).Scan(&t.CreatedAt)
			if err != nil {
				return fmt.Errorf("record %s transfer: %w", t.Role, err)
			}
		}
		return nil
	})
}

func (s *storePG) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*Transfer, int, error) {
	conn := db.Conn(ctx, s.pool)

	var total int
	if err := conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM incentive_transfer WHERE recipient_id = $1`, recipientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, `
		SELECT id, appointment_id, recipient_id, role, wallet, amount::text, tx_id, created_at
		FROM incentive_transfer WHERE recipient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, recipientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, scanTransfer)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func scanTransfer(row pgx.CollectableRow) (*Transfer, error) {
	var (
		t      Transfer
		role   string
		amount string
	)
	if err := row.Scan(&t.ID, &t.AppointmentID, &t.RecipientID, &role, &t.Wallet, &amount, &t.TxID, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Role = Role(role)
	if err := t.Amount.Scan(amount); err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", amount, err)
	}
	return &t, nil
}
