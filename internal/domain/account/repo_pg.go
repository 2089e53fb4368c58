package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const accountCols = `id, name, email, role, wallet_address,
	avail_days, avail_from, avail_to, avail_slot_minutes, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		a        Account
		days     []string
		from, to *string
		slot     *int
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.WalletAddress,
		&days, &from, &to, &slot, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if from != nil && to != nil && slot != nil {
		a.Availability = &AvailabilityRule{Days: days, FromTime: *from, ToTime: *to, SlotDuration: *slot}
	}
	return &a, nil
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*Account, error) {
	return scanAccount(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+accountCols+` FROM account WHERE id = $1`, id))
}

func (r *repoPG) SetAvailability(ctx context.Context, id string, rule *AvailabilityRule) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE account SET avail_days = $2, avail_from = $3, avail_to = $4,
			avail_slot_minutes = $5, updated_at = NOW()
		WHERE id = $1`,
		id, rule.Days, rule.FromTime, rule.ToTime, rule.SlotDuration)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetWallet(ctx context.Context, id, wallet string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE account SET wallet_address = $2, updated_at = NOW() WHERE id = $1`, id, wallet)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
