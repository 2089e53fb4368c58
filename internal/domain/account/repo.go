package account

import "context"

type Repository interface {
	// GetByID returns ErrNotFound when no account has the id.
	GetByID(ctx context.Context, id string) (*Account, error)
	SetAvailability(ctx context.Context, id string, rule *AvailabilityRule) error
	SetWallet(ctx context.Context, id, wallet string) error
}
